package config

import (
	"bytes"
	"encoding/json"
	"net"
	"net/netip"

	"github.com/tracekit/tracekit/log"
	"github.com/yl2chen/cidranger"
)

// AddressMapping replaces Original with New.
type AddressMapping struct {
	Original string `json:"original"`
	New      string `json:"new"`
}

// Normalization lists the rewrites applied to a capture. Timestamp is the
// number of seconds subtracted from every frame; nil leaves times untouched.
type Normalization struct {
	Timestamp *float64         `json:"timestamp,omitempty"`
	IP        []AddressMapping `json:"IP,omitempty"`
	MAC       []AddressMapping `json:"MAC,omitempty"`
}

// Empty reports whether no rewrite is requested.
func (n *Normalization) Empty() bool {
	return n.Timestamp == nil && len(n.IP) == 0 && len(n.MAC) == 0
}

// ParseNormalization decodes and validates a normalization request.
func ParseNormalization(data []byte) (*Normalization, error) {
	var n Normalization
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&n); err != nil {
		return nil, invalidf("failed to parse normalization: %v", err)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// LoadNormalization reads a normalization file.
func LoadNormalization(path string) (*Normalization, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	n, err := ParseNormalization(data)
	if err != nil {
		return nil, log.Errorf("failed to load %s: %w", path, err)
	}
	return n, nil
}

func (n *Normalization) Validate() error {
	if n.Timestamp != nil && *n.Timestamp < 0 {
		return invalidf("timestamp must not be negative, got %v", *n.Timestamp)
	}
	if err := validateIPMappings(n.IP); err != nil {
		return err
	}
	return validateMACMappings(n.MAC)
}

// parsePrefix accepts a bare address or a CIDR prefix. A bare address is
// returned as a full-length prefix.
func parsePrefix(s string) (netip.Prefix, bool, error) {
	if addr, err := netip.ParseAddr(s); err == nil {
		return netip.PrefixFrom(addr, addr.BitLen()), false, nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, false, err
	}
	return p.Masked(), true, nil
}

func validateIPMappings(mappings []AddressMapping) error {
	ranger := cidranger.NewPCTrieRanger()
	originals := make(map[netip.Prefix]int, len(mappings))

	for i, m := range mappings {
		orig, origNet, err := parsePrefix(m.Original)
		if err != nil {
			return invalidf("IP mapping %d: original %q: %v", i, m.Original, err)
		}
		repl, replNet, err := parsePrefix(m.New)
		if err != nil {
			return invalidf("IP mapping %d: new %q: %v", i, m.New, err)
		}
		if orig.Addr().Is4() != repl.Addr().Is4() {
			return invalidf("IP mapping %d: %s and %s belong to different address families", i, m.Original, m.New)
		}
		if origNet != replNet || orig.Bits() != repl.Bits() {
			return invalidf("IP mapping %d: %s and %s must both be addresses or equally sized networks", i, m.Original, m.New)
		}
		if j, dup := originals[orig]; dup {
			return invalidf("IP mapping %d: %s is already mapped by mapping %d", i, m.Original, j)
		}

		ipNet := prefixToIPNet(orig)
		containing, _ := ranger.ContainingNetworks(ipNet.IP)
		covered, _ := ranger.CoveredNetworks(ipNet)
		if len(containing)+len(covered) > 0 {
			log.Warnf("IP mapping %d: %s overlaps an earlier mapping, tcprewrite applies the first match", i, m.Original)
		}
		if err := ranger.Insert(cidranger.NewBasicRangerEntry(ipNet)); err != nil {
			return invalidf("IP mapping %d: %v", i, err)
		}
		originals[orig] = i
	}

	for i, m := range mappings {
		repl, _, _ := parsePrefix(m.New)
		if hit, err := ranger.Contains(net.IP(repl.Addr().AsSlice())); err == nil && hit {
			log.Warnf("IP mapping %d: new address %s is also matched by a mapping original", i, m.New)
		}
	}
	return nil
}

func prefixToIPNet(p netip.Prefix) net.IPNet {
	return net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

func validateMACMappings(mappings []AddressMapping) error {
	seen := make(map[string]int, len(mappings))
	for i, m := range mappings {
		orig, err := net.ParseMAC(m.Original)
		if err != nil || len(orig) != 6 {
			return invalidf("MAC mapping %d: original %q is not an Ethernet address", i, m.Original)
		}
		repl, err := net.ParseMAC(m.New)
		if err != nil || len(repl) != 6 {
			return invalidf("MAC mapping %d: new %q is not an Ethernet address", i, m.New)
		}
		if j, dup := seen[orig.String()]; dup {
			return invalidf("MAC mapping %d: %s is already mapped by mapping %d", i, m.Original, j)
		}
		seen[orig.String()] = i
	}
	return nil
}
