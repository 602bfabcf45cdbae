package analyzer

import (
	"context"
	"errors"

	"github.com/tracekit/tracekit/log"
	"github.com/tracekit/tracekit/runner"
)

// Executor runs a tool to completion.
type Executor interface {
	Run(ctx context.Context, c runner.Command) (runner.Result, error)
}

// Analyzer queries a capture file through tshark and capinfos. Every query
// returns an empty collection together with the error when the tool or the
// parser fails, so callers can always print a well-formed result.
type Analyzer struct {
	exec Executor
}

func New(exec Executor) *Analyzer {
	return &Analyzer{exec: exec}
}

// TCPConversations lists TCP conversations in file.
func (a *Analyzer) TCPConversations(ctx context.Context, file string) ([]Conversation, error) {
	res, err := a.exec.Run(ctx, ConversationsCommand(file))
	if err != nil {
		return []Conversation{}, log.Errorf("failed to list TCP conversations: %w", err)
	}
	convs, err := ParseConversations(res.Stdout)
	if err != nil {
		return []Conversation{}, log.Errorf("failed to parse TCP conversations: %w", err)
	}
	log.Tracef("Parsed %d TCP conversations from %s", len(convs), file)
	return convs, nil
}

// MACIPPairs lists MAC-IP pairs seen as source and as destination. The two
// directions are deduplicated separately and concatenated, so a pair can be
// listed twice. A failing direction does not discard the other one.
func (a *Analyzer) MACIPPairs(ctx context.Context, file string) ([]Pair, error) {
	pairs := make([]Pair, 0)
	var errs []error
	for _, d := range []Direction{Source, Destination} {
		res, err := a.exec.Run(ctx, PairsCommand(file, d))
		if err != nil {
			errs = append(errs, log.Errorf("failed to list %s MAC-IP pairs: %w", d, err))
			continue
		}
		p, err := ParsePairs(res.Stdout)
		if err != nil {
			errs = append(errs, log.Errorf("failed to parse %s MAC-IP pairs: %w", d, err))
			continue
		}
		pairs = append(pairs, p...)
	}
	return pairs, errors.Join(errs...)
}

// CaptureProperties returns capinfos properties of file.
func (a *Analyzer) CaptureProperties(ctx context.Context, file string) (Properties, error) {
	res, err := a.exec.Run(ctx, PropertiesCommand(file))
	if err != nil {
		return Properties{}, log.Errorf("failed to read capture properties: %w", err)
	}
	props, err := ParseProperties(res.Stdout)
	if err != nil {
		return Properties{}, log.Errorf("failed to parse capture properties: %w", err)
	}
	if len(props) == 0 {
		return props, log.Errorf("capinfos printed no properties for %s", file)
	}
	return props, nil
}
