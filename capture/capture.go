package capture

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/tracekit/tracekit/capfile"
	"github.com/tracekit/tracekit/log"
	"github.com/tracekit/tracekit/runner"
	"golang.org/x/sys/unix"
)

// Starter launches a background process.
type Starter interface {
	Start(ctx context.Context, c runner.Command) (*runner.Process, error)
}

// Readiness tells how a capture was found to be recording.
type Readiness int

const (
	// ReadyTimeout means no signal arrived within the grace period.
	ReadyTimeout Readiness = iota
	// ReadyAnnounced means tshark printed its "Capturing on" line.
	ReadyAnnounced
	// ReadyHeader means the capture file header became parseable.
	ReadyHeader
)

func (r Readiness) String() string {
	switch r {
	case ReadyAnnounced:
		return "announced"
	case ReadyHeader:
		return "header"
	default:
		return "grace period elapsed"
	}
}

const readyLine = "Capturing on"

var probeInterval = 50 * time.Millisecond

// ErrExited is returned when the capture process dies before it is ready.
var ErrExited = errors.New("capture exited before it was ready")

// Capture is a running tshark recording into File.
type Capture struct {
	File  string
	Ready Readiness

	proc    *runner.Process
	stopped bool
}

// Start launches cmd and waits until the capture is recording: tshark
// announces the interface on stderr, or the capture file gets a parseable
// header. When neither happens within grace the capture is assumed to be
// running and a warning is logged.
func Start(ctx context.Context, s Starter, cmd runner.Command, file string, grace time.Duration) (*Capture, error) {
	proc, err := s.Start(ctx, cmd)
	if err != nil {
		return nil, err
	}
	c := &Capture{File: file, proc: proc}

	ready, err := c.waitReady(ctx, grace)
	if err != nil {
		_ = proc.Kill()
		_ = proc.Wait()
		return nil, log.Errorf("%w: %s", err, strings.TrimSpace(string(proc.Stderr())))
	}
	c.Ready = ready
	if ready == ReadyTimeout {
		log.Warnf("Capture gave no sign of life within %s, continuing anyway", grace)
	} else {
		log.Tracef("Capture ready (%s)", ready)
	}
	return c, nil
}

func (c *Capture) waitReady(ctx context.Context, grace time.Duration) (Readiness, error) {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	tick := time.NewTicker(probeInterval)
	defer tick.Stop()

	lines := c.proc.Lines()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			log.Tracef("tshark: %s", line)
			if strings.Contains(line, readyLine) {
				return ReadyAnnounced, nil
			}
		case <-tick.C:
			if _, err := capfile.ProbeFile(c.File); err == nil {
				return ReadyHeader, nil
			}
		case <-c.proc.Done():
			return ReadyTimeout, ErrExited
		case <-deadline.C:
			return ReadyTimeout, nil
		case <-ctx.Done():
			return ReadyTimeout, ctx.Err()
		}
	}
}

// Stop sends SIGTERM and waits up to timeout for tshark to flush and exit,
// then kills it. The returned error is the process exit error, if any.
func (c *Capture) Stop(timeout time.Duration) error {
	if c.stopped {
		return nil
	}
	c.stopped = true

	log.Infof("Stopping capture...")
	if err := c.proc.Signal(unix.SIGTERM); err != nil {
		log.Tracef("SIGTERM failed: %v", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.proc.Done():
	case <-timer.C:
		log.Warnf("Capture did not exit within %s, killing it", timeout)
		_ = c.proc.Kill()
	}

	err := c.proc.Wait()
	if err != nil && !terminatedBySignal(err) {
		return log.Errorf("capture exited abnormally: %w", err)
	}
	return nil
}

// terminatedBySignal reports whether err is the exit status of a process
// that died from a signal, which is how Stop ends it.
func terminatedBySignal(err error) bool {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return false
	}
	ws, ok := ee.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}
