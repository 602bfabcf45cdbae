// Package normalizer rewrites addresses and timestamps of a capture by
// chaining editcap, tcprewrite and bittwiste.
package normalizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tracekit/tracekit/capfile"
	"github.com/tracekit/tracekit/config"
	"github.com/tracekit/tracekit/log"
	"github.com/tracekit/tracekit/runner"
)

// Executor runs a tool to completion.
type Executor interface {
	Run(ctx context.Context, c runner.Command) (runner.Result, error)
}

const (
	slotIn  = "in.pcap"
	slotOut = "out.pcap"
)

// Normalizer works in a fresh directory below workRoot for every call.
type Normalizer struct {
	exec     Executor
	workRoot string
}

// New builds a Normalizer. An empty workRoot means the system temp directory.
func New(exec Executor, workRoot string) *Normalizer {
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	return &Normalizer{exec: exec, workRoot: workRoot}
}

// pipeline holds the two slots of one normalization. Every stage reads in,
// writes out and then out replaces in.
type pipeline struct {
	exec Executor
	dir  string
	in   string
	out  string
}

// Normalize converts input to pcap, applies the requested rewrites and
// writes the result to output as pcapng. On failure the work directory is
// left behind for inspection and its path is logged.
func (n *Normalizer) Normalize(ctx context.Context, input, output string, req *config.Normalization) error {
	if req == nil {
		req = &config.Normalization{}
	}
	if format, err := capfile.DetectFile(input); err != nil {
		if !errors.Is(err, capfile.ErrUnknown) {
			return log.Errorf("cannot read input %s: %w", input, err)
		}
		log.Warnf("%s is neither pcap nor pcapng, leaving it to editcap", input)
	} else {
		log.Tracef("Input %s is %s", input, format)
	}

	dir := filepath.Join(n.workRoot, "normalizer-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return log.Errorf("failed to create work directory: %w", err)
	}
	p := &pipeline{
		exec: n.exec,
		dir:  dir,
		in:   filepath.Join(dir, slotIn),
		out:  filepath.Join(dir, slotOut),
	}

	if err := p.run(ctx, input, output, req); err != nil {
		var toolErr *runner.ExternalToolError
		if errors.As(err, &toolErr) {
			log.Errorf("Normalization failed: %v", err)
		}
		log.Warnf("Intermediate files kept in %s", dir)
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warnf("Failed to remove work directory %s: %v", dir, err)
	}
	log.Infof("Trace file normalized!")
	return nil
}

func (p *pipeline) run(ctx context.Context, input, output string, req *config.Normalization) error {
	log.Infof("Converting input file to PCAP format...")
	if err := p.stage(ctx, ConvertCommand(input, p.out, capfile.PCAP)); err != nil {
		return err
	}

	if req.Timestamp != nil {
		log.Infof("Starting trace normalization...")
		if err := p.stage(ctx, ShiftTimestampCommand(p.in, p.out, *req.Timestamp)); err != nil {
			return err
		}
	}

	if len(req.IP) > 0 {
		log.Infof("Starting IP addresses normalization...")
		if err := p.stage(ctx, RewriteIPCommand(p.in, p.out, req.IP)); err != nil {
			return err
		}
	}

	if len(req.MAC) > 0 {
		log.Infof("Starting MAC addresses normalization...")
		if err := rewriteMACs(ctx, p.exec, p.in, p.out, req.MAC); err != nil {
			return err
		}
		if err := p.advance(); err != nil {
			return err
		}
	}

	log.Infof("Converting output file to PCAP-Ng format...")
	if _, err := p.exec.Run(ctx, ConvertCommand(p.in, output, capfile.PCAPNG)); err != nil {
		return err
	}
	return nil
}

// stage runs c, which reads p.in and writes p.out, then moves the result
// into p.in.
func (p *pipeline) stage(ctx context.Context, c runner.Command) error {
	if _, err := p.exec.Run(ctx, c); err != nil {
		return err
	}
	return p.advance()
}

func (p *pipeline) advance() error {
	if err := os.Rename(p.out, p.in); err != nil {
		return log.Errorf("failed to advance intermediate file: %w", err)
	}
	return nil
}

// rewriteMACs applies one bittwiste run per mapping, alternating between in
// and out. The last written file always ends up at out, whatever the number
// of mappings.
func rewriteMACs(ctx context.Context, exec Executor, in, out string, mappings []config.AddressMapping) error {
	src, dst := in, out
	for _, m := range mappings {
		if _, err := exec.Run(ctx, RewriteMACCommand(src, dst, m)); err != nil {
			return err
		}
		src, dst = dst, src
	}
	if src != out {
		if err := capfile.Copy(src, out); err != nil {
			return log.Errorf("failed to copy %s to %s: %w", src, out, err)
		}
	}
	return nil
}
