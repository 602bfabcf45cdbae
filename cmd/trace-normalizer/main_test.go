package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tracekit/tracekit/config"
	"github.com/tracekit/tracekit/runner"
)

// The fake tools copy their input to their output; bittwiste also reports
// progress on stderr like the real one.
var fakeTools = map[string]string{
	"editcap":    `cp "$3" "$4"`,
	"tcprewrite": `cp "$2" "$4"`,
	"bittwiste":  `cp "$2" "$4"; echo "1 packets (60 bytes) written" >&2`,
}

type env struct {
	dir    string
	input  string
	output string
	conf   string
}

func setup(t *testing.T, normalization string) *env {
	t.Helper()
	dir := t.TempDir()
	for name, body := range fakeTools {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
			t.Fatal(err)
		}
		t.Setenv("TRACEKIT_TOOLS_"+strings.ToUpper(name), path)
	}
	e := &env{
		dir:    dir,
		input:  filepath.Join(dir, "trace.pcapng"),
		output: filepath.Join(dir, "normalized.pcapng"),
		conf:   filepath.Join(dir, "trace-normalizer.json"),
	}
	os.WriteFile(e.input, []byte("capture"), 0644)
	os.WriteFile(e.conf, []byte(normalization), 0644)
	return e
}

func (e *env) execute(t *testing.T, args ...string) error {
	t.Helper()
	if args == nil {
		args = []string{"-q", "-i", e.input, "-o", e.output, "-c", e.conf, "--work-dir", e.dir}
	}
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	return cmd.ExecuteContext(context.Background())
}

func TestNormalize(t *testing.T) {
	e := setup(t, `{"timestamp": 10, "IP": [{"original": "10.0.0.1", "new": "192.168.1.1"}],
		"MAC": [{"original": "08:00:27:aa:bb:cc", "new": "00:00:00:00:00:01"}]}`)
	if err := e.execute(t); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	data, err := os.ReadFile(e.output)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if string(data) != "capture" {
		t.Errorf("output = %q", data)
	}
	matches, _ := filepath.Glob(filepath.Join(e.dir, "normalizer-*"))
	if len(matches) != 0 {
		t.Errorf("work directory left behind: %v", matches)
	}
}

func TestInvalidNormalization(t *testing.T) {
	e := setup(t, `{"IP": [{"original": "10.0.0.1", "new": "fd00::1"}]}`)
	if err := e.execute(t); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := os.Stat(e.output); !os.IsNotExist(err) {
		t.Errorf("no output should be written")
	}
}

func TestMissingTools(t *testing.T) {
	e := setup(t, `{}`)
	t.Setenv("TRACEKIT_TOOLS_BITTWISTE", filepath.Join(e.dir, "nope"))
	err := e.execute(t)
	var missing *runner.MissingDependencyError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingDependencyError, got %v", err)
	}
	if len(missing.Tools) != 1 || missing.Tools[0] != "bittwiste" {
		t.Errorf("missing tools = %v", missing.Tools)
	}
}

func TestOutputRequired(t *testing.T) {
	e := setup(t, `{}`)
	err := e.execute(t, "-q", "-i", e.input, "-c", e.conf)
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestErrorLog(t *testing.T) {
	e := setup(t, `{"MAC": [{"original": "not-a-mac", "new": "00:00:00:00:00:01"}]}`)
	errLog := filepath.Join(e.dir, "errors.log")
	err := e.execute(t, "-q", "-i", e.input, "-o", e.output, "-c", e.conf, "--error-log", errLog)
	if err == nil {
		t.Fatal("invalid MAC mapping should fail")
	}
	data, rerr := os.ReadFile(errLog)
	if rerr != nil {
		t.Fatalf("error log missing: %v", rerr)
	}
	if !strings.Contains(string(data), "[error] ") {
		t.Errorf("error log = %q", data)
	}
}
