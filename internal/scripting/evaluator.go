package scripting

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Facts are the globals visible to a condition. Supported value types are
// bool, int, string, []string (exposed as a set table) and
// func(string) bool (exposed as a one-argument predicate).
type Facts map[string]any

// Evaluator compiles named boolean conditions once and evaluates them against
// changing Facts.
//
// Evaluator is not safe for concurrent use; GopherLua states are single-threaded.
type Evaluator struct {
	L         *lua.LState
	instLimit int
	compiled  map[string]*lua.LFunction
	lastFacts []string
	logger    *zap.Logger
}

// NewEvaluator creates an Evaluator backed by one sandboxed state.
//
// Precondition: logger must be non-nil; instLimit >= 0 (0 uses DefaultInstructionLimit).
// Postcondition: Returns a non-nil Evaluator; call Close when done.
func NewEvaluator(instLimit int, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		L:         newBareState(),
		instLimit: instLimit,
		compiled:  make(map[string]*lua.LFunction),
		logger:    logger,
	}
}

// Compile registers a condition under name. src is a Lua expression such as
// `day >= 8 and completed("QiChallenge1")`.
//
// Postcondition: Returns an error if src does not parse; an existing
// condition with the same name is replaced.
func (e *Evaluator) Compile(name, src string) error {
	fn, err := e.L.LoadString("return (" + src + ")")
	if err != nil {
		return fmt.Errorf("compiling condition %q: %w", name, err)
	}
	e.compiled[name] = fn
	return nil
}

// Has reports whether a condition is registered under name.
func (e *Evaluator) Has(name string) bool {
	_, ok := e.compiled[name]
	return ok
}

// Eval runs the named condition with facts installed as globals.
//
// Postcondition: Returns the Lua truthiness of the expression, or an error if
// the condition is unknown, raises, or exceeds the instruction limit.
func (e *Evaluator) Eval(name string, facts Facts) (bool, error) {
	fn, ok := e.compiled[name]
	if !ok {
		return false, fmt.Errorf("condition %q not compiled", name)
	}
	if err := e.install(facts); err != nil {
		return false, fmt.Errorf("condition %q: %w", name, err)
	}

	release := armLimit(e.L, e.instLimit)
	defer release()

	e.L.Push(fn)
	if err := e.L.PCall(0, 1, nil); err != nil {
		return false, fmt.Errorf("evaluating condition %q: %w", name, err)
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)
	result := lua.LVAsBool(ret)
	e.logger.Debug("condition evaluated",
		zap.String("condition", name),
		zap.Bool("result", result),
	)
	return result, nil
}

// Close releases the Lua state.
func (e *Evaluator) Close() {
	e.L.Close()
}

func (e *Evaluator) install(facts Facts) error {
	for _, k := range e.lastFacts {
		e.L.SetGlobal(k, lua.LNil)
	}
	e.lastFacts = e.lastFacts[:0]

	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := e.toLua(facts[k])
		if err != nil {
			return fmt.Errorf("fact %q: %w", k, err)
		}
		e.L.SetGlobal(k, v)
		e.lastFacts = append(e.lastFacts, k)
	}
	return nil
}

func (e *Evaluator) toLua(v any) (lua.LValue, error) {
	switch x := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(x), nil
	case int:
		return lua.LNumber(x), nil
	case string:
		return lua.LString(x), nil
	case []string:
		t := e.L.NewTable()
		for _, s := range x {
			t.RawSetString(s, lua.LTrue)
		}
		return t, nil
	case func(string) bool:
		return e.L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LBool(x(L.CheckString(1))))
			return 1
		}), nil
	default:
		return nil, fmt.Errorf("unsupported fact type %T", v)
	}
}
