package board

import "sort"

// Known describes a board the settings layer knows how to configure.
type Known struct {
	// Name is the human-readable board title.
	Name string
	// Key is the settings key of the board.
	Key ConfigKey
	// OrderType is the order type the board serves by default.
	OrderType OrderType
	// HasSchedule is false for boards that refresh every day and expose no
	// schedule in the settings.
	HasSchedule bool
	// RequiredMods lists mod ids that must be loaded for the board to exist.
	RequiredMods []string
}

// KnownBoards lists every board with a first-class settings entry, in the
// order they are presented. The custom entry is the fallback for unknown
// order types and must stay last.
var KnownBoards = []Known{
	{Name: "Stardew Valley", Key: KeySV, OrderType: OrderTypeSV, HasSchedule: true},
	{Name: "Qi's Quest", Key: KeyQi, OrderType: OrderTypeQi, HasSchedule: true},
	{Name: "Desert Festival", Key: KeyDesertFestival, OrderType: OrderTypeDesertFestival},
	{Name: "Ridgeside Village Town", Key: KeyRSVTown, OrderType: OrderTypeRSVTown, HasSchedule: true, RequiredMods: []string{"Rafseazz.RidgesideVillage"}},
	{Name: "Ridgeside Village Ninja", Key: KeyRSVNinja, OrderType: OrderTypeRSVNinja, HasSchedule: true, RequiredMods: []string{"Rafseazz.RidgesideVillage"}},
	{Name: "Mt. Vapius", Key: KeyMtVapius, OrderType: OrderTypeMtVapius, HasSchedule: true, RequiredMods: []string{"lumisteria.visitmountvapius.code"}},
	{Name: "Custom Boards", Key: KeyCustom, OrderType: OrderTypeCustom, HasSchedule: true},
}

// Default returns the default policy for a known board: one reroll per day,
// refreshed on Monday, or every day when the board has no schedule.
func (k Known) Default() Config {
	c := Config{
		OrderType:       k.OrderType,
		AllowReroll:     true,
		MaxRerolls:      1,
		RefreshSchedule: DefaultSchedule(),
	}
	if !k.HasSchedule {
		c.RefreshSchedule = EveryDay()
	}
	return c
}

// Available reports whether every required mod is loaded.
func (k Known) Available(loaded func(modID string) bool) bool {
	for _, id := range k.RequiredMods {
		if !loaded(id) {
			return false
		}
	}
	return true
}

// LookupKnown returns the known board registered under key.
func LookupKnown(key ConfigKey) (Known, bool) {
	for _, k := range KnownBoards {
		if k.Key == key {
			return k, true
		}
	}
	return Known{}, false
}

// Defaults returns a fresh settings map holding the default policy of every
// known board.
func Defaults() map[ConfigKey]Config {
	out := make(map[ConfigKey]Config, len(KnownBoards))
	for _, k := range KnownBoards {
		out[k.Key] = k.Default()
	}
	return out
}

// Registry maps order types to board policies.
type Registry map[OrderType]Config

// ByOrderType re-keys a settings map on each entry's order type. It is the
// only translation between the two key spaces.
//
// Entries are visited in ascending key order; when two keys declare the same
// order type the later key wins and the earlier one is reported in shadowed.
func ByOrderType(boards map[ConfigKey]Config) (reg Registry, shadowed []ConfigKey) {
	keys := make([]ConfigKey, 0, len(boards))
	for k := range boards {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	reg = make(Registry, len(boards))
	owner := make(map[OrderType]ConfigKey, len(boards))
	for _, k := range keys {
		c := boards[k]
		if prev, dup := owner[c.OrderType]; dup {
			shadowed = append(shadowed, prev)
		}
		owner[c.OrderType] = k
		reg[c.OrderType] = c
	}
	return reg, shadowed
}

// Resolve returns the policy for t, falling back to the custom entry.
//
// Postcondition: exact is false when the fallback was used. When neither t nor
// the custom entry exists the zero Config (rerolls disallowed) is returned.
func (r Registry) Resolve(t OrderType) (c Config, exact bool) {
	if c, ok := r[t]; ok {
		return c, true
	}
	if c, ok := r[OrderTypeCustom]; ok {
		return c, false
	}
	return Config{OrderType: t}, false
}

// OrderTypes returns the registered order types in ascending order.
func (r Registry) OrderTypes() []OrderType {
	out := make([]OrderType, 0, len(r))
	for t := range r {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
