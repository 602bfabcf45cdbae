package creator

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/tracekit/tracekit/capture"
	"github.com/tracekit/tracekit/config"
	"github.com/tracekit/tracekit/log"
	"github.com/tracekit/tracekit/metrics"
	"github.com/tracekit/tracekit/remote"
	"github.com/tracekit/tracekit/runner"
)

const localHost = "local"

func (c *Creator) runTask(ctx context.Context, session *metrics.Collector, task *config.Task) {
	id := capture.TaskID(task.Name, c.now())
	rec := session.StartTask(id, task.Name, task.Command, task.Filter)
	log.Infof("---- Task %s ----", task.Name)

	err := c.execute(ctx, session, rec, task)
	if err != nil {
		log.Warnf("Task %s failed, continuing", id)
	}
	session.FinishTask(rec, err)
}

func (c *Creator) execute(ctx context.Context, session *metrics.Collector, rec *metrics.TaskRecord, task *config.Task) error {
	session.SetState(rec, metrics.StateConfiguring)
	if err := c.configure(ctx, session, rec, task); err != nil {
		return err
	}

	session.SetState(rec, metrics.StateCapturing)
	file := c.manager.FilePath(rec.ID)
	capt, err := capture.Start(ctx, c.tools, capture.Command(c.opts.Interface, file, task.Filter), file, c.opts.GracePeriod)
	if err != nil {
		return err
	}
	session.SetReadiness(rec, capt.Ready.String())

	runErr := c.runCommand(ctx, rec.ID, task.Command)
	if runErr == nil {
		wait(ctx, c.opts.Delay)
	}

	session.SetState(rec, metrics.StateStopping)
	stopErr := capt.Stop(c.opts.StopTimeout)

	session.SetState(rec, metrics.StateRelocating)
	moved, moveErr := c.manager.Relocate()
	for _, a := range moved {
		session.AddFiles(rec, a.Name)
		log.Infof("Saved %s (%d bytes)", a.Path, a.Size)
	}
	return errors.Join(runErr, stopErr, moveErr)
}

// configure runs every remote step, then the local step of a legacy task.
// A step that cannot run fails the task; a step that runs and exits
// non-zero only warns.
func (c *Creator) configure(ctx context.Context, session *metrics.Collector, rec *metrics.TaskRecord, task *config.Task) error {
	dir := c.manager.TaskDir(rec.ID)

	for _, step := range task.Configuration {
		out, err := c.remote.Run(ctx, step.Host, step.Command)
		session.AddHost(rec, hostRecord(step.Host, step.Command, out, err))
		if err != nil {
			return err
		}
		if err := remote.Persist(dir, step.Host, out); err != nil {
			return err
		}
	}

	if task.LocalConfigure != "" {
		log.Infof("Local configuration: %s", task.LocalConfigure)
		out, err := c.runLocal(ctx, task.LocalConfigure)
		session.AddHost(rec, hostRecord(localHost, task.LocalConfigure, out, err))
		if err != nil {
			return err
		}
		if err := remote.Persist(dir, localHost, out); err != nil {
			return err
		}
	}
	return nil
}

func (c *Creator) runLocal(ctx context.Context, line string) (remote.Output, error) {
	cmd, err := runner.Split(line)
	if err != nil {
		return remote.Output{}, log.Errorf("cannot parse %q: %w", line, err)
	}
	res, err := c.tools.Run(ctx, cmd)
	out := remote.Output{Stdout: res.Stdout, Stderr: res.Stderr}
	if status, ok := exitStatus(err); ok {
		log.Warnf("Local configuration exited with status %d", status)
		out.ExitStatus = status
		return out, nil
	}
	if err != nil {
		return out, log.Errorf("local configuration could not run: %w", err)
	}
	return out, nil
}

// runCommand runs the task command while the capture records. Its output is
// echoed and, when not empty, saved as <id>.out and <id>.err next to the
// captures. A non-zero exit only warns; a command that cannot run at all is
// an error.
func (c *Creator) runCommand(ctx context.Context, id, line string) error {
	cmd, err := runner.Split(line)
	if err != nil {
		return log.Errorf("cannot parse task command %q: %w", line, err)
	}
	res, err := c.tools.Run(ctx, cmd)
	if status, ok := exitStatus(err); ok {
		log.Warnf("Task command exited with status %d", status)
		err = nil
	} else if err != nil {
		err = log.Errorf("task command could not run: %w", err)
	}

	if len(res.Stdout) > 0 {
		c.opts.Console.Write(res.Stdout)
	}
	if len(res.Stderr) > 0 {
		log.Warnf("Task command error output: \n%s", res.Stderr)
	}

	outDir := c.manager.OutputDir()
	if len(res.Stdout) > 0 {
		if werr := os.WriteFile(filepath.Join(outDir, id+".out"), res.Stdout, 0o644); werr != nil {
			return errors.Join(err, log.Errorf("failed to save command output: %w", werr))
		}
	}
	if len(res.Stderr) > 0 {
		if werr := os.WriteFile(filepath.Join(outDir, id+".err"), res.Stderr, 0o644); werr != nil {
			return errors.Join(err, log.Errorf("failed to save command error output: %w", werr))
		}
	}
	return err
}

func exitStatus(err error) (int, bool) {
	var ee *exec.ExitError
	if err == nil || !errors.As(err, &ee) {
		return 0, false
	}
	return ee.ExitCode(), true
}

func hostRecord(host, command string, out remote.Output, err error) metrics.HostRecord {
	h := metrics.HostRecord{Host: host, Command: command, ExitStatus: out.ExitStatus}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}

// wait sleeps for d unless ctx ends first. Packets still in flight after the
// command returns land in the capture meanwhile.
func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	log.Infof("Waiting %s for remaining packets", d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
