package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tracekit/tracekit/log"
)

// Classifier reports whether a tool's stderr output means the invocation
// failed.
type Classifier func(stderr []byte) bool

// StrictStderr treats any stderr output as failure.
func StrictStderr(stderr []byte) bool {
	return len(stderr) > 0
}

// IgnoreStderr never treats stderr output as failure; only the exit status
// counts.
func IgnoreStderr([]byte) bool {
	return false
}

// AllowSubstrings treats stderr output as failure unless it contains one of
// the given substrings. bittwiste reports "N packets written" on stderr.
func AllowSubstrings(benign ...string) Classifier {
	return func(stderr []byte) bool {
		if len(stderr) == 0 {
			return false
		}
		for _, s := range benign {
			if bytes.Contains(stderr, []byte(s)) {
				return false
			}
		}
		return true
	}
}

type Result struct {
	Stdout []byte
	Stderr []byte
}

// Runner resolves logical tool names to binaries and executes them.
type Runner struct {
	mu       sync.RWMutex
	paths    map[string]string
	classify Classifier
}

// NewRunner builds a Runner. paths maps a tool name to a binary name or
// absolute path; tools without an entry are looked up by name. A nil
// classifier means StrictStderr.
func NewRunner(paths map[string]string, classify Classifier) *Runner {
	if classify == nil {
		classify = StrictStderr
	}
	p := make(map[string]string, len(paths))
	for k, v := range paths {
		if v != "" {
			p[k] = v
		}
	}
	return &Runner{paths: p, classify: classify}
}

func (r *Runner) resolve(tool string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.paths[tool]; ok {
		return p
	}
	return tool
}

// Require checks every tool is available and pins it to an absolute path.
// All missing tools are reported together.
func (r *Runner) Require(tools ...string) error {
	var missing []string
	for _, tool := range tools {
		path, err := lookup(r.resolve(tool))
		if err != nil {
			log.Tracef("Tool %s not available: %v", tool, err)
			missing = append(missing, tool)
			continue
		}
		r.mu.Lock()
		r.paths[tool] = path
		r.mu.Unlock()
	}
	if len(missing) > 0 {
		return &MissingDependencyError{Tools: missing}
	}
	return nil
}

func lookup(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return exec.LookPath(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Mode()&0111 == 0 {
		return "", fmt.Errorf("%s is not executable", path)
	}
	return path, nil
}

func (r *Runner) command(ctx context.Context, c Command) *exec.Cmd {
	return exec.CommandContext(ctx, r.resolve(c.Tool), c.Args...)
}

// Run executes c, waits for it and returns its output. The returned error is
// an *ExternalToolError when the process could not run, exited non-zero, or
// wrote stderr the classifier rejects; Result is filled in either case.
// Run does not log the failure, the caller decides how severe it is.
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	log.Infof("Running command: %s", c.String())

	var stdout, stderr bytes.Buffer
	cmd := r.command(ctx, c)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil || r.classify(res.Stderr) {
		return res, &ExternalToolError{Command: c, Stderr: res.Stderr, Err: err}
	}
	if len(res.Stderr) > 0 {
		log.Tracef("%s stderr: %s", c.Tool, strings.TrimSpace(string(res.Stderr)))
	}
	return res, nil
}
