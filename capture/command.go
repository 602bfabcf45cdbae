package capture

import (
	"regexp"
	"strings"
	"time"

	"github.com/tracekit/tracekit/runner"
)

const ToolTshark = "tshark"

// Command records iface into file as pcapng. The filter is passed to tshark
// as a single argument.
func Command(iface, file, filter string) runner.Command {
	args := []string{"-i", iface, "-q", "-w", file, "-F", "pcapng"}
	if filter != "" {
		args = append(args, "-f", filter)
	}
	return runner.New(ToolTshark, args...)
}

const (
	taskTimestamp = "2006-01-02_15-04-05"
	maxNameLength = 50
)

var unsafeName = regexp.MustCompile(`[ @#$%^&*<>{}:|;'\\"/]`)

// TaskID names a task's files: the start time followed by the first 50
// characters of the lowercased name, with characters unsafe in file names
// replaced by underscores.
func TaskID(name string, start time.Time) string {
	if r := []rune(name); len(r) > maxNameLength {
		name = string(r[:maxNameLength])
	}
	id := start.Format(taskTimestamp) + "-" + strings.ToLower(name)
	return unsafeName.ReplaceAllString(id, "_")
}
