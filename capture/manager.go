package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tracekit/tracekit/capfile"
	"github.com/tracekit/tracekit/log"
	"golang.org/x/sys/unix"
)

// Manager owns the scratch directory tshark writes into and the output
// directory finished captures are moved to. tshark drops privileges before
// writing, so the scratch directory is world-writable.
type Manager struct {
	captureDir string
	outputDir  string
}

// Artifact is a file moved into the output directory.
type Artifact struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

func NewManager(captureDir, outputDir string) *Manager {
	return &Manager{
		captureDir: filepath.Clean(captureDir),
		outputDir:  filepath.Clean(outputDir),
	}
}

func (m *Manager) CaptureDir() string { return m.captureDir }
func (m *Manager) OutputDir() string  { return m.outputDir }

// Prepare creates both directories. The scratch directory gets mode 0777
// regardless of the umask.
func (m *Manager) Prepare() error {
	if err := os.MkdirAll(m.captureDir, 0o777); err != nil {
		return log.Errorf("failed to create capture directory: %w", err)
	}
	if err := unix.Chmod(m.captureDir, 0o777); err != nil {
		return log.Errorf("failed to open up capture directory %s: %w", m.captureDir, err)
	}
	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return log.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// FilePath is where the capture of taskID is recorded.
func (m *Manager) FilePath(taskID string) string {
	return filepath.Join(m.captureDir, taskID+".pcapng")
}

// TaskDir is the per-task output directory for host command output.
func (m *Manager) TaskDir(taskID string) string {
	return filepath.Join(m.outputDir, taskID)
}

// Relocate moves every regular file from the scratch directory into the
// output directory. Files that cannot be moved are reported together; the
// others are still moved.
func (m *Manager) Relocate() ([]Artifact, error) {
	entries, err := os.ReadDir(m.captureDir)
	if err != nil {
		return nil, log.Errorf("failed to list capture directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var (
		moved []Artifact
		errs  []error
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		src := filepath.Join(m.captureDir, e.Name())
		dst := filepath.Join(m.outputDir, e.Name())
		if err := moveFile(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("move %s: %w", src, err))
			continue
		}
		a := Artifact{Name: e.Name(), Path: dst}
		if info, err := os.Stat(dst); err == nil {
			a.Size = info.Size()
			a.Timestamp = info.ModTime()
		}
		log.Tracef("Moved %s to %s (%d bytes)", src, dst, a.Size)
		moved = append(moved, a)
	}

	if len(errs) > 0 {
		return moved, log.Errorf("failed to relocate captures: %w", errors.Join(errs...))
	}
	return moved, nil
}

// moveFile renames src to dst, copying when they live on different file
// systems (the output directory is often a shared folder).
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return err
	}
	if err := capfile.Copy(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
