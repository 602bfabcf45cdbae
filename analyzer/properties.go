package analyzer

import (
	"regexp"
	"strings"

	"github.com/tracekit/tracekit/log"
)

var (
	propertySplit = regexp.MustCompile(`:\s+`)
	// indented "Name = value" lines below a heading such as "Interface #0 info:"
	sectionEntry = regexp.MustCompile(`^\s+(.+?)\s+=\s*(.*)$`)
)

// Properties holds capinfos key/value output. Keys are the capinfos labels
// ("File name", "Number of packets", ...). Entries of a per-interface block
// are keyed by the block heading, e.g. "Interface #0 Encapsulation".
type Properties map[string]string

// ParseProperties parses `capinfos -S -M`. A repeated key keeps its last
// value. Lines that fit neither layout are skipped.
func ParseProperties(out []byte) (Properties, error) {
	props := make(Properties)
	section := ""
	for _, line := range outputLines(out) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if section != "" {
			if m := sectionEntry.FindStringSubmatch(line); m != nil {
				props[section+" "+m[1]] = m[2]
				continue
			}
			section = ""
		}
		if strings.HasSuffix(trimmed, ":") && !propertySplit.MatchString(trimmed) {
			section = strings.TrimSuffix(strings.TrimSuffix(trimmed, ":"), " info")
			continue
		}
		kv := propertySplit.Split(trimmed, 2)
		if len(kv) != 2 {
			log.Tracef("Skipping capinfos line %q", line)
			continue
		}
		props[kv[0]] = kv[1]
	}
	return props, nil
}
