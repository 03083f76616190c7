package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/specialorders/internal/board"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Len(t, r.Commands(), len(BuiltinCommands()))
}

func TestResolve_NameAndAlias(t *testing.T) {
	r := DefaultRegistry()

	cmd, ok := r.Resolve("reroll")
	require.True(t, ok)
	assert.Equal(t, HandlerReroll, cmd.Handler)

	cmd, ok = r.Resolve("rr")
	require.True(t, ok)
	assert.Equal(t, "reroll", cmd.Name)

	_, ok = r.Resolve("teleport")
	assert.False(t, ok)
}

func TestNewRegistry_Collisions(t *testing.T) {
	_, err := NewRegistry([]Command{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)

	_, err = NewRegistry([]Command{{Name: "a", Aliases: []string{"b"}}, {Name: "b"}})
	assert.Error(t, err)

	_, err = NewRegistry([]Command{{Name: "a", Aliases: []string{"x"}}, {Name: "b", Aliases: []string{"x"}}})
	assert.Error(t, err)
}

func TestCommands_Sorted(t *testing.T) {
	cmds := DefaultRegistry().Commands()
	for i := 1; i < len(cmds); i++ {
		prev, cur := cmds[i-1], cmds[i]
		assert.True(t, prev.Category < cur.Category || (prev.Category == cur.Category && prev.Name < cur.Name))
	}
}

func TestParse(t *testing.T) {
	assert.Equal(t, ParseResult{}, Parse("   "))
	assert.Equal(t, ParseResult{Command: "boards"}, Parse("BOARDS"))
	assert.Equal(t, ParseResult{Command: "set", Args: []string{"Qi", "max", "3"}}, Parse("  set  Qi max   3 "))
}

func TestParse_LowercasesCommandOnly_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cmd := rapid.StringMatching(`[A-Za-z]{1,10}`).Draw(t, "cmd")
		arg := rapid.StringMatching(`[A-Za-z]{1,10}`).Draw(t, "arg")
		res := Parse(cmd + " " + arg)
		for _, c := range res.Command {
			if c >= 'A' && c <= 'Z' {
				t.Fatalf("command %q not lowercased", res.Command)
			}
		}
		if len(res.Args) != 1 || res.Args[0] != arg {
			t.Fatalf("args %v, want [%s]", res.Args, arg)
		}
	})
}

func TestParseSwitch(t *testing.T) {
	for _, s := range []string{"on", "YES", "true", "1"} {
		v, err := ParseSwitch(s)
		require.NoError(t, err)
		assert.True(t, v, s)
	}
	for _, s := range []string{"off", "No", "false", "0"} {
		v, err := ParseSwitch(s)
		require.NoError(t, err)
		assert.False(t, v, s)
	}
	_, err := ParseSwitch("maybe")
	assert.Error(t, err)
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("every")
	require.NoError(t, err)
	assert.Equal(t, board.EveryDay(), s)

	s, err = ParseSchedule("never")
	require.NoError(t, err)
	assert.Equal(t, board.Schedule{}, s)

	s, err = ParseSchedule("x..x...")
	require.NoError(t, err)
	assert.Equal(t, board.Schedule{true, false, false, true}, s)

	s, err = ParseSchedule("mon, Thu")
	require.NoError(t, err)
	assert.Equal(t, board.Schedule{true, false, false, true}, s)

	_, err = ParseSchedule("funday")
	assert.Error(t, err)
}

func TestParseSchedule_RoundTripsString_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var want board.Schedule
		for i := range want {
			want[i] = rapid.Bool().Draw(t, "day")
		}
		got, err := ParseSchedule(want.String())
		if err != nil {
			t.Fatalf("parse %q: %v", want.String(), err)
		}
		if got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	})
}
