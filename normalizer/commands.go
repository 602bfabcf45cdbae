package normalizer

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/tracekit/tracekit/capfile"
	"github.com/tracekit/tracekit/config"
	"github.com/tracekit/tracekit/runner"
)

const (
	ToolEditcap    = "editcap"
	ToolTcprewrite = "tcprewrite"
	ToolBittwiste  = "bittwiste"
)

// RequiredTools lists the binaries the normalizer shells out to.
var RequiredTools = []string{ToolTcprewrite, ToolEditcap, ToolBittwiste}

// ConvertCommand rewrites in as format.
func ConvertCommand(in, out string, format capfile.Format) runner.Command {
	return runner.New(ToolEditcap, "-F", format.String(), in, out)
}

// ShiftTimestampCommand moves every frame seconds back in time.
func ShiftTimestampCommand(in, out string, seconds float64) runner.Command {
	return runner.New(ToolEditcap, "-t", "-"+strconv.FormatFloat(seconds, 'f', -1, 64), in, out)
}

// RewriteIPCommand maps addresses or networks with tcprewrite's pseudo NAT.
// IPv6 values are bracketed as tcprewrite expects.
func RewriteIPCommand(in, out string, mappings []config.AddressMapping) runner.Command {
	pairs := make([]string, 0, len(mappings))
	for _, m := range mappings {
		pairs = append(pairs, pnatValue(m.Original)+":"+pnatValue(m.New))
	}
	return runner.New(ToolTcprewrite, "--infile", in, "--outfile", out, "--pnat="+strings.Join(pairs, ","))
}

func pnatValue(s string) string {
	addr := s
	if i := strings.IndexByte(s, '/'); i >= 0 {
		addr = s[:i]
	}
	if a, err := netip.ParseAddr(addr); err == nil && a.Is6() {
		return "[" + s + "]"
	}
	return s
}

// RewriteMACCommand replaces one MAC address as source and as destination.
// bittwiste handles a single mapping per run.
func RewriteMACCommand(in, out string, m config.AddressMapping) runner.Command {
	pair := m.Original + "," + m.New
	return runner.New(ToolBittwiste, "-I", in, "-O", out, "-T", "eth", "-s", pair, "-d", pair)
}
