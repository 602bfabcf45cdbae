package runner

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/tracekit/tracekit/log"
)

// Process is a tool started in the background. Its stderr is collected and
// also offered line by line on Lines() until the process closes it.
type Process struct {
	Command Command

	cmd    *exec.Cmd
	lines  chan string
	done   chan struct{}
	mu     sync.Mutex
	stderr bytes.Buffer
	err    error
}

// Start launches c without waiting for it.
func (r *Runner) Start(ctx context.Context, c Command) (*Process, error) {
	log.Infof("Starting command: %s", c.String())

	cmd := r.command(ctx, c)
	p := &Process{
		Command: c,
		cmd:     cmd,
		lines:   make(chan string, 64),
		done:    make(chan struct{}),
	}
	pipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ExternalToolError{Command: c, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &ExternalToolError{Command: c, Err: err}
	}

	go p.collect(pipe)
	return p, nil
}

func (p *Process) collect(pipe io.Reader) {
	defer close(p.done)

	sc := bufio.NewScanner(pipe)
	for sc.Scan() {
		line := sc.Text()
		p.mu.Lock()
		p.stderr.WriteString(line)
		p.stderr.WriteByte('\n')
		p.mu.Unlock()
		select {
		case p.lines <- line:
		default:
		}
	}
	close(p.lines)

	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Lines delivers stderr lines as they arrive. Lines are dropped when the
// channel is full; Stderr() always has the complete output.
func (p *Process) Lines() <-chan string { return p.lines }

// Done is closed once the process has exited and its output is collected.
func (p *Process) Done() <-chan struct{} { return p.done }

// Signal sends sig to the process.
func (p *Process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Kill terminates the process immediately.
func (p *Process) Kill() error {
	return p.cmd.Process.Kill()
}

// Wait blocks until the process has exited and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stderr returns everything the process wrote to stderr so far.
func (p *Process) Stderr() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.stderr.Bytes()...)
}
