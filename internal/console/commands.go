// Package console provides the operator command registry, parser, and
// built-in command definitions of the board daemon.
package console

// Categories for organizing commands.
const (
	CategoryBoards   = "boards"
	CategoryQuests   = "quests"
	CategorySettings = "settings"
	CategorySystem   = "system"
)

// Handler identifiers mapping commands to daemon actions.
const (
	HandlerBoards   = "boards"
	HandlerOrders   = "orders"
	HandlerReroll   = "reroll"
	HandlerReset    = "reset"
	HandlerAccept   = "accept"
	HandlerComplete = "complete"
	HandlerSleep    = "sleep"
	HandlerSet      = "set"
	HandlerHelp     = "help"
	HandlerQuit     = "quit"
)

// Command defines an operator-invocable command.
type Command struct {
	// Name is the canonical command name.
	Name string
	// Aliases are alternate names for this command.
	Aliases []string
	// Usage shows the argument shape, e.g. "reroll <board>".
	Usage string
	// Help is the short help text.
	Help string
	// Category groups the command.
	Category string
	// Handler maps to the daemon action.
	Handler string
	// HostOnly commands are refused on peers.
	HostOnly bool
}

// BuiltinCommands returns all built-in console commands.
func BuiltinCommands() []Command {
	return []Command{
		{Name: "boards", Aliases: []string{"status"}, Usage: "boards", Help: "Show each board's policy and rerolls left", Category: CategoryBoards, Handler: HandlerBoards},
		{Name: "orders", Aliases: []string{"ls"}, Usage: "orders [board]", Help: "List the orders on offer", Category: CategoryBoards, Handler: HandlerOrders},
		{Name: "reroll", Aliases: []string{"rr"}, Usage: "reroll <board>", Help: "Reroll a board's orders", Category: CategoryBoards, Handler: HandlerReroll},
		{Name: "reset", Usage: "reset", Help: "Restore every board's rerolls", Category: CategoryBoards, Handler: HandlerReset, HostOnly: true},

		{Name: "accept", Usage: "accept <order>", Help: "Accept an offered order", Category: CategoryQuests, Handler: HandlerAccept, HostOnly: true},
		{Name: "complete", Aliases: []string{"done"}, Usage: "complete <order>", Help: "Mark an order completed", Category: CategoryQuests, Handler: HandlerComplete, HostOnly: true},
		{Name: "sleep", Aliases: []string{"nextday"}, Usage: "sleep", Help: "End the day and start the next", Category: CategoryQuests, Handler: HandlerSleep, HostOnly: true},

		{Name: "set", Usage: "set <board> <allow|infinite|max|schedule|order_type> <value> | set <force_unique|true_random|local_control> <on|off>", Help: "Change and save a setting", Category: CategorySettings, Handler: HandlerSet},

		{Name: "help", Aliases: []string{"?"}, Usage: "help", Help: "List commands", Category: CategorySystem, Handler: HandlerHelp},
		{Name: "quit", Aliases: []string{"exit"}, Usage: "quit", Help: "Stop the daemon", Category: CategorySystem, Handler: HandlerQuit},
	}
}
