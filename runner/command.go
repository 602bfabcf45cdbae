package runner

import (
	"github.com/kballard/go-shellquote"
)

// Command is an argv for an external tool. Tool is the logical tool name
// ("tshark", "editcap", ...) and is resolved to a binary by the Runner.
// Arguments are passed to the process as-is and are never interpreted by a
// shell.
type Command struct {
	Tool string
	Args []string
}

func New(tool string, args ...string) Command {
	return Command{Tool: tool, Args: args}
}

// Argv returns the tool followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Tool}, c.Args...)
}

// String renders the command shell-quoted, for logs only.
func (c Command) String() string {
	return shellquote.Join(c.Argv()...)
}

// Split turns a command line written by an operator into a Command using
// shell word rules (quotes and escapes, no expansion).
func Split(line string) (Command, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return Command{}, err
	}
	if len(words) == 0 {
		return Command{}, ErrEmptyCommand
	}
	return New(words[0], words[1:]...), nil
}
