// Package rng provides the randomness used to pick special orders: a seeded
// source whose output is a pure function of the day's inputs, and a
// true-random source seeded from the OS.
package rng

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// DaysPlayedFactor scales days played in the reroll seed.
const DaysPlayedFactor = 1.3

// Source is the randomness provider for order selection.
//
// Implementations are not required to be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
	// Next returns a non-negative int32-range value, used as a generation
	// seed for materialized quests.
	Next() int
}

type pcgSource struct {
	r *rand.Rand
}

func newPCG(seed uint64) *pcgSource {
	return &pcgSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Intn implements Source.
func (s *pcgSource) Intn(n int) int {
	if n <= 0 {
		panic("rng: Intn called with n <= 0")
	}
	return s.r.IntN(n)
}

// Next implements Source.
func (s *pcgSource) Next() int {
	return int(s.r.Int32())
}

// Seed deterministically mixes its inputs into a 64-bit seed. Each component
// is reduced modulo MaxInt32 first so that very large days-played values
// wrap instead of saturating.
func Seed(gameID uint64, daysPlayedScaled float64, rerollsToday int) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(gameID%math.MaxInt32))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int64(math.Mod(daysPlayedScaled, math.MaxInt32))))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(rerollsToday%math.MaxInt32))
	return xxhash.Sum64(buf[:])
}

// NewSeeded returns a Source fully determined by the three reroll inputs.
//
// Postcondition: two Sources built from equal inputs produce identical sequences.
func NewSeeded(gameID uint64, daysPlayed int, rerollsToday int) Source {
	return newPCG(Seed(gameID, float64(daysPlayed)*DaysPlayedFactor, rerollsToday))
}

// NewTrueRandom returns a Source seeded from crypto/rand.
//
// Postcondition: Returns a Source or an error if the OS entropy pool fails.
func NewTrueRandom() (Source, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return newPCG(binary.LittleEndian.Uint64(b[:])), nil
}

// ChooseFrom returns a uniformly chosen element of items.
//
// Precondition: len(items) > 0.
func ChooseFrom[T any](src Source, items []T) T {
	return items[src.Intn(len(items))]
}
