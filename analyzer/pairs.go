package analyzer

import (
	"sort"
	"strings"
)

// Pair is a MAC address seen together with an IP address. IP is empty for
// frames without an IP layer.
type Pair struct {
	MAC string `json:"MAC"`
	IP  string `json:"IP"`
}

// ParsePairs parses tab-separated two-column tshark field output. The MAC
// column is empty for frames without an Ethernet header. Duplicate lines
// collapse to one pair; the result is sorted by MAC then IP.
func ParsePairs(out []byte) ([]Pair, error) {
	seen := make(map[Pair]struct{})
	text := strings.ReplaceAll(string(out), "\r\n", "\n")
	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) > 2 {
			return nil, &ParseError{Line: i + 1, Text: line, Reason: "expected MAC and IP columns"}
		}
		p := Pair{MAC: fields[0]}
		if len(fields) == 2 {
			p.IP = fields[1]
		}
		if strings.ContainsAny(p.MAC, " ") || strings.ContainsAny(p.IP, " ") {
			return nil, &ParseError{Line: i + 1, Text: line, Reason: "columns are not tab separated"}
		}
		seen[p] = struct{}{}
	}

	pairs := make([]Pair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].MAC != pairs[j].MAC {
			return pairs[i].MAC < pairs[j].MAC
		}
		return pairs[i].IP < pairs[j].IP
	})
	return pairs, nil
}
