package analyzer

import "github.com/tracekit/tracekit/runner"

const (
	ToolTshark   = "tshark"
	ToolCapinfos = "capinfos"
)

// RequiredTools lists the binaries the analyzer shells out to.
var RequiredTools = []string{ToolCapinfos, ToolTshark}

// Direction selects which end of a frame the MAC-IP query reads.
type Direction int

const (
	Source Direction = iota
	Destination
)

func (d Direction) String() string {
	if d == Destination {
		return "dst"
	}
	return "src"
}

// ConversationsCommand asks tshark for TCP conversation statistics.
func ConversationsCommand(file string) runner.Command {
	return runner.New(ToolTshark, "-r", file, "-q", "-z", "conv,tcp")
}

// PropertiesCommand asks capinfos for table-less capture file properties.
func PropertiesCommand(file string) runner.Command {
	return runner.New(ToolCapinfos, "-S", "-M", file)
}

// PairsCommand extracts eth/ip address columns for one direction.
func PairsCommand(file string, d Direction) runner.Command {
	return runner.New(ToolTshark, "-nr", file,
		"-T", "fields",
		"-e", "eth."+d.String(),
		"-e", "ip."+d.String(),
		"-E", "separator=/t",
	)
}
