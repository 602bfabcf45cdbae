package analyzer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tshark -z conv,tcp prints a fixed banner before the table and a closing
// rule after it.
const (
	conversationHeader  = 5
	conversationTrailer = 1
)

// conversationFields is the column layout of one conversation line once it
// has been split on runs of colons and spaces. Duration is only printed by
// newer tshark releases.
var conversationFields = []string{
	"IP A", "Port A", "<->", "IP B", "Port B",
	"Frames B-A", "Bytes B-A", "Frames A-B", "Bytes A-B",
	"Frames", "Bytes", "Relative start", "Duration",
}

const minConversationFields = 12

var conversationSplit = regexp.MustCompile(`[: ]+`)

// Conversation is one row of tshark's TCP conversation table.
type Conversation struct {
	AddressA      string   `json:"IP A"`
	PortA         int      `json:"Port A"`
	AddressB      string   `json:"IP B"`
	PortB         int      `json:"Port B"`
	FramesBA      int64    `json:"Frames B-A"`
	BytesBA       int64    `json:"Bytes B-A"`
	FramesAB      int64    `json:"Frames A-B"`
	BytesAB       int64    `json:"Bytes A-B"`
	Frames        int64    `json:"Frames"`
	Bytes         int64    `json:"Bytes"`
	RelativeStart float64  `json:"Relative start"`
	Duration      *float64 `json:"Duration,omitempty"`
}

// ParseError reports a line of tool output that does not fit the expected
// layout.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d %q: %s", e.Line, e.Text, e.Reason)
}

// ParseConversations parses the output of `tshark -q -z conv,tcp`. An output
// with only the banner yields an empty, non-nil slice.
func ParseConversations(out []byte) ([]Conversation, error) {
	lines := outputLines(out)
	convs := make([]Conversation, 0)
	if len(lines) <= conversationHeader+conversationTrailer {
		return convs, nil
	}

	body := lines[conversationHeader : len(lines)-conversationTrailer]
	for i, line := range body {
		c, reason := parseConversation(strings.TrimSpace(line))
		if reason != "" {
			return nil, &ParseError{Line: conversationHeader + i + 1, Text: line, Reason: reason}
		}
		convs = append(convs, c)
	}
	return convs, nil
}

func parseConversation(line string) (Conversation, string) {
	var c Conversation

	fields := conversationSplit.Split(line, -1)
	if len(fields) < minConversationFields || len(fields) > len(conversationFields) {
		return c, fmt.Sprintf("expected %d or %d fields, got %d",
			minConversationFields, len(conversationFields), len(fields))
	}
	if fields[2] != "<->" {
		return c, fmt.Sprintf("expected %q between endpoints, got %q", "<->", fields[2])
	}

	c.AddressA = fields[0]
	c.AddressB = fields[3]

	ints := []struct {
		idx int
		dst *int64
	}{
		{5, &c.FramesBA}, {6, &c.BytesBA},
		{7, &c.FramesAB}, {8, &c.BytesAB},
		{9, &c.Frames}, {10, &c.Bytes},
	}
	for _, f := range ints {
		v, err := strconv.ParseInt(fields[f.idx], 10, 64)
		if err != nil {
			return c, fmt.Sprintf("%s: %v", conversationFields[f.idx], err)
		}
		*f.dst = v
	}

	var err error
	if c.PortA, err = strconv.Atoi(fields[1]); err != nil {
		return c, fmt.Sprintf("%s: %v", conversationFields[1], err)
	}
	if c.PortB, err = strconv.Atoi(fields[4]); err != nil {
		return c, fmt.Sprintf("%s: %v", conversationFields[4], err)
	}
	if c.RelativeStart, err = parseDecimal(fields[11]); err != nil {
		return c, fmt.Sprintf("%s: %v", conversationFields[11], err)
	}
	if len(fields) == len(conversationFields) {
		d, err := parseDecimal(fields[12])
		if err != nil {
			return c, fmt.Sprintf("%s: %v", conversationFields[12], err)
		}
		c.Duration = &d
	}
	return c, ""
}

// parseDecimal accepts both decimal separators; tshark follows the locale.
func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}

// outputLines trims the output and splits it into lines. Empty output has
// no lines.
func outputLines(out []byte) []string {
	s := strings.TrimSpace(strings.ReplaceAll(string(out), "\r\n", "\n"))
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
