package config

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/tracekit/tracekit/log"
	"gopkg.in/yaml.v3"
)

// HostStep is one command executed on a remote host before the capture
// starts.
type HostStep struct {
	Host    string `yaml:"ip" json:"ip"`
	Command string `yaml:"command" json:"command"`
}

// Task describes one capture: the command producing traffic, an optional
// capture filter and the configuration steps preparing the hosts.
type Task struct {
	Name          string     `yaml:"name" json:"name"`
	Command       string     `yaml:"command" json:"command"`
	Filter        string     `yaml:"filter,omitempty" json:"filter,omitempty"`
	Configuration []HostStep `yaml:"configuration,omitempty" json:"configuration,omitempty"`

	// LocalConfigure runs on the capturing machine before the capture.
	// Only the legacy attacker/defenders layout sets it.
	LocalConfigure string `yaml:"-" json:"local_configure,omitempty"`
}

// Validate checks a single task. index is used in messages only.
func (t *Task) Validate(index int) error {
	if strings.TrimSpace(t.Command) == "" {
		return invalidf("task %d (%q): command is empty", index, t.Name)
	}
	if strings.TrimSpace(t.Name) == "" {
		return invalidf("task %d: name is empty", index)
	}
	for i, step := range t.Configuration {
		if step.Host == "" {
			return invalidf("task %q: configuration step %d has no host", t.Name, i)
		}
		if strings.TrimSpace(step.Command) == "" {
			return invalidf("task %q: configuration step %d for %s has no command", t.Name, i, step.Host)
		}
		if strings.ContainsAny(step.Host, " \t/") {
			return invalidf("task %q: %q is not a host name or address", t.Name, step.Host)
		}
	}
	return nil
}

// rawTask accepts both task layouts.
type rawTask struct {
	Name          string     `yaml:"name"`
	Command       string     `yaml:"command"`
	Filter        string     `yaml:"filter"`
	Configuration []HostStep `yaml:"configuration"`

	Attacker *struct {
		Command   string `yaml:"command"`
		Configure string `yaml:"configure"`
	} `yaml:"attacker"`
	Defenders []struct {
		IP        string `yaml:"ip"`
		Configure string `yaml:"configure"`
	} `yaml:"defenders"`
}

func (r rawTask) legacy() bool {
	return r.Attacker != nil || len(r.Defenders) > 0
}

// ParseTasks decodes a YAML list of tasks, in either layout, and validates
// every task.
func ParseTasks(data []byte) ([]Task, error) {
	var raw []rawTask
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalidf("configuration contains no tasks")
		}
		return nil, invalidf("failed to parse tasks: %v", err)
	}
	if len(raw) == 0 {
		return nil, invalidf("configuration contains no tasks")
	}

	tasks := make([]Task, 0, len(raw))
	for i, r := range raw {
		var t Task
		if r.legacy() {
			if r.Name != "" || r.Command != "" || len(r.Configuration) > 0 {
				return nil, invalidf("task %d mixes attacker/defenders with name/command/configuration", i)
			}
			t = migrateLegacyTask(r)
		} else {
			t = Task{Name: r.Name, Command: r.Command, Filter: r.Filter, Configuration: r.Configuration}
		}
		if err := t.Validate(i); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// LoadTasks reads and parses a task file.
func LoadTasks(path string) ([]Task, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	tasks, err := ParseTasks(data)
	if err != nil {
		return nil, log.Errorf("failed to load %s: %w", path, err)
	}
	log.Tracef("Loaded %d tasks from %s", len(tasks), path)
	return tasks, nil
}
