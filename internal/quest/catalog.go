package quest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/specialorders/internal/board"
	"github.com/cory-johannsen/specialorders/internal/scripting"
)

// MonthCutoffDay is the first day of a season on which month-long orders are
// no longer offered.
const MonthCutoffDay = 16

// Template is a special-order definition from the catalog.
type Template struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	OrderType board.OrderType `yaml:"order_type"`
	Duration  Duration        `yaml:"duration"`
	// Repeatable templates may be offered again after completion.
	Repeatable bool `yaml:"repeatable"`
	// Condition is an optional Lua expression gating availability.
	Condition string `yaml:"condition"`
}

// Validate checks that the template satisfies basic invariants.
//
// Postcondition: Returns nil iff ID is non-empty and Duration is a known class.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("order template: id must not be empty")
	}
	if !t.Duration.Valid() {
		return fmt.Errorf("order template %q: unknown duration %q", t.ID, t.Duration)
	}
	return nil
}

// Catalog is the source of special-order templates.
type Catalog interface {
	// Templates returns every template keyed by id.
	Templates() map[string]Template
	// CanStartNow reports whether the template may be offered today.
	CanStartNow(id string, t Template) bool
}

// Materializer turns a template id into a concrete quest instance.
type Materializer interface {
	Materialize(id string, seed int) (*Instance, error)
}

// Conditions supplies the live world facts eligibility checks read.
type Conditions interface {
	Today() WorldDate
	DaysPlayed() int
	Team() Team
}

// Library is a Catalog and Materializer backed by YAML templates whose
// conditions run in a Lua sandbox.
type Library struct {
	templates map[string]Template
	eval      *scripting.Evaluator
	world     Conditions
	logger    *zap.Logger
}

// NewLibrary indexes templates and compiles their conditions.
//
// Precondition: world and logger must be non-nil; template ids must be unique.
// Postcondition: Returns a Library or the first validation/compile error. The
// caller must Close the Library.
func NewLibrary(templates []Template, world Conditions, instLimit int, logger *zap.Logger) (*Library, error) {
	lib := &Library{
		templates: make(map[string]Template, len(templates)),
		eval:      scripting.NewEvaluator(instLimit, logger.Named("conditions")),
		world:     world,
		logger:    logger,
	}
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			lib.Close()
			return nil, err
		}
		if _, dup := lib.templates[t.ID]; dup {
			lib.Close()
			return nil, fmt.Errorf("order template %q defined twice", t.ID)
		}
		if t.Condition != "" {
			if err := lib.eval.Compile(t.ID, t.Condition); err != nil {
				lib.Close()
				return nil, err
			}
		}
		lib.templates[t.ID] = t
	}
	return lib, nil
}

// Close releases the condition sandbox.
func (l *Library) Close() {
	l.eval.Close()
}

// Templates implements Catalog.
func (l *Library) Templates() map[string]Template {
	out := make(map[string]Template, len(l.templates))
	for id, t := range l.templates {
		out[id] = t
	}
	return out
}

// Len returns the number of templates.
func (l *Library) Len() int { return len(l.templates) }

// CanStartNow implements Catalog. A template is eligible unless it is
// non-repeatable and already completed, it is month-long and the season is
// past MonthCutoffDay, or its condition evaluates false. A condition that
// fails to run makes the template ineligible.
func (l *Library) CanStartNow(id string, t Template) bool {
	team := l.world.Team()
	today := l.world.Today()
	if !t.Repeatable && team.Completed(id) {
		return false
	}
	if t.Duration == Month && today.Day >= MonthCutoffDay {
		return false
	}
	if t.Condition == "" {
		return true
	}
	ok, err := l.eval.Eval(id, scripting.Facts{
		"year":        today.Year,
		"season":      today.Season.String(),
		"day":         today.Day,
		"day_of_week": today.DayOfWeek(),
		"days_played": l.world.DaysPlayed(),
		"completed":   team.Completed,
	})
	if err != nil {
		l.logger.Warn("order condition failed; treating as ineligible",
			zap.String("order", id),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// Materialize implements Materializer.
//
// Postcondition: Returns a fresh Instance with DueDate unset (zero), or an
// error if id is unknown.
func (l *Library) Materialize(id string, seed int) (*Instance, error) {
	t, ok := l.templates[id]
	if !ok {
		return nil, fmt.Errorf("no special order with id %q", id)
	}
	return &Instance{
		Key:       id,
		OrderType: t.OrderType,
		Duration:  t.Duration,
		Seed:      seed,
	}, nil
}

// LoadTemplatesFromBytes parses a YAML document holding a list of templates.
//
// Postcondition: Returns validated templates, or an error.
func LoadTemplatesFromBytes(data []byte) ([]Template, error) {
	var doc struct {
		Orders []Template `yaml:"orders"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing orders YAML: %w", err)
	}
	for i := range doc.Orders {
		if err := doc.Orders[i].Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Orders, nil
}

// LoadTemplates reads all *.yaml files in dir in lexical order.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all templates or an error on the first parse or
// validate failure; on error, the partial result is discarded.
func LoadTemplates(dir string) ([]Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading orders dir %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var templates []Template
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		ts, err := LoadTemplatesFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		templates = append(templates, ts...)
	}
	return templates, nil
}
