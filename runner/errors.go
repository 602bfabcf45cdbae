package runner

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyCommand = errors.New("empty command")

// MissingDependencyError lists required tools that could not be located.
type MissingDependencyError struct {
	Tools []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("required tools not found: %s", strings.Join(e.Tools, ", "))
}

// ExternalToolError is returned when a tool fails to start, exits non-zero,
// or writes to stderr in a way the classifier treats as failure.
type ExternalToolError struct {
	Command Command
	Stderr  []byte
	Err     error
}

func (e *ExternalToolError) Error() string {
	msg := strings.TrimSpace(string(e.Stderr))
	switch {
	case msg != "":
		return fmt.Sprintf("command %q returned an error:\n%s", e.Command.String(), msg)
	case e.Err != nil:
		return fmt.Sprintf("command %q failed: %v", e.Command.String(), e.Err)
	default:
		return fmt.Sprintf("command %q failed", e.Command.String())
	}
}

func (e *ExternalToolError) Unwrap() error { return e.Err }
