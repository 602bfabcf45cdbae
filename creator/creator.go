// Package creator runs capture tasks: it configures hosts, records traffic
// with tshark while the task command runs, and collects the captures.
package creator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tracekit/tracekit/capture"
	"github.com/tracekit/tracekit/config"
	"github.com/tracekit/tracekit/log"
	"github.com/tracekit/tracekit/metrics"
	"github.com/tracekit/tracekit/remote"
	"github.com/tracekit/tracekit/runner"
)

// Tools runs local commands in the foreground and starts the capture in the
// background. *runner.Runner implements it.
type Tools interface {
	Run(ctx context.Context, c runner.Command) (runner.Result, error)
	capture.Starter
}

// Configurator runs a command on a remote host.
type Configurator interface {
	Run(ctx context.Context, host, command string) (remote.Output, error)
}

type Options struct {
	Interface   string
	Delay       time.Duration
	GracePeriod time.Duration
	StopTimeout time.Duration
	// Console receives the task command output. Defaults to os.Stdout.
	Console io.Writer
}

type Creator struct {
	tools   Tools
	remote  Configurator
	manager *capture.Manager
	opts    Options
	now     func() time.Time
}

// New builds a Creator. remote may be nil when no task has remote steps.
func New(tools Tools, remote Configurator, manager *capture.Manager, opts Options) *Creator {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	return &Creator{
		tools:   tools,
		remote:  remote,
		manager: manager,
		opts:    opts,
		now:     time.Now,
	}
}

// NeedsRemote reports whether any task configures a remote host.
func NeedsRemote(tasks []config.Task) bool {
	for _, t := range tasks {
		if len(t.Configuration) > 0 {
			return true
		}
	}
	return false
}

// Run executes tasks one after another. A failing task is recorded and the
// next one starts. The returned error covers setup and the session summary
// only; per-task failures are in the returned collector.
func (c *Creator) Run(ctx context.Context, tasks []config.Task) (*metrics.Collector, error) {
	if c.remote == nil && NeedsRemote(tasks) {
		return nil, errors.New("tasks configure remote hosts but no ssh configurator is set")
	}
	if err := c.manager.Prepare(); err != nil {
		return nil, err
	}

	session := metrics.NewCollector(len(tasks))
	banner("Trace creator started: %d task(s), session %s", len(tasks), session.Id)

	for i := range tasks {
		if ctx.Err() != nil {
			log.Warnf("Interrupted, skipping %d remaining task(s)", len(tasks)-i)
			for _, t := range tasks[i:] {
				session.SkipTask(capture.TaskID(t.Name, c.now()), t.Name, t.Command, t.Filter)
			}
			break
		}
		c.runTask(ctx, session, &tasks[i])
	}
	if ctx.Err() != nil {
		session.Interrupt()
	}

	session.Finish()
	path := filepath.Join(c.manager.OutputDir(), fmt.Sprintf("session-%s.json", session.Id))
	if err := session.Save(path); err != nil {
		return session, err
	}

	banner("Trace creator finished: %d done, %d failed, %d skipped (%s)",
		session.CompletedTasks, session.FailedTasks, session.SkippedTasks, session.Uptime)
	log.Infof("Session summary: %s", path)
	return session, nil
}

func banner(format string, a ...any) {
	line := fmt.Sprintf(format, a...)
	log.Infof("%s", strings.Repeat("=", len(line)))
	log.Infof("%s", line)
	log.Infof("%s", strings.Repeat("=", len(line)))
}
