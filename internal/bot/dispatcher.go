// Package bot answers prefixed channel commands with the output of
// registered command functions.
package bot

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/eznix86/ircbot/internal/irc"
)

// Command computes the reply to a bot command
type Command func() string

// CommandTable maps command names to commands
type CommandTable map[string]Command

// Merge returns a new table holding t and other; entries of other win
func (t CommandTable) Merge(other CommandTable) CommandTable {
	out := make(CommandTable, len(t)+len(other))
	for name, cmd := range t {
		out[name] = cmd
	}
	for name, cmd := range other {
		out[name] = cmd
	}
	return out
}

// Dispatcher looks up commands and replies in the configured channel
type Dispatcher struct {
	channel  string
	commands CommandTable
	log      *log.Logger
}

// NewDispatcher copies table, so later changes to it are not seen
func NewDispatcher(channel string, table CommandTable, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		channel:  channel,
		commands: CommandTable{}.Merge(table),
		log:      logger.WithPrefix("bot"),
	}
}

// Names returns the registered command names in order
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleCommand runs the command named in message, which still carries its
// prefix character, and writes the result to the channel. Unknown commands
// are ignored.
func (d *Dispatcher) HandleCommand(w irc.Sender, message string) error {
	name := commandName(message)

	cmd, ok := d.commands[name]
	if !ok {
		d.log.Debug("Unknown command", "command", name)
		return nil
	}

	d.log.Info("Running command", "command", name)
	if err := w.Write(fmt.Sprintf("%s #%s %s", irc.PRIVMSG, d.channel, cmd())); err != nil {
		return fmt.Errorf("reply to %s: %w", name, err)
	}
	return nil
}

// commandName drops the prefix, takes the first space separated word and
// removes any whitespace left inside it
func commandName(message string) string {
	_, size := utf8.DecodeRuneInString(message)
	word, _, _ := strings.Cut(message[size:], " ")
	return strings.Join(strings.Fields(word), "")
}
