// Package metrics records what happened during a capture session and saves
// it as a JSON summary next to the captures.
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tracekit/tracekit/log"
)

type TaskState string

const (
	StateIdle        TaskState = "idle"
	StateConfiguring TaskState = "configuring"
	StateCapturing   TaskState = "capturing"
	StateStopping    TaskState = "stopping"
	StateRelocating  TaskState = "relocating"
	StateDone        TaskState = "done"
	StateFailed      TaskState = "failed"
	StateSkipped     TaskState = "skipped"
)

type SessionStatus string

const (
	SessionRunning  SessionStatus = "running"
	SessionComplete SessionStatus = "complete"
	SessionPartial  SessionStatus = "partial"
	SessionFailed   SessionStatus = "failed"
	// SessionInterrupted marks a session cancelled before every task ran.
	SessionInterrupted SessionStatus = "interrupted"
)

type HostRecord struct {
	Host       string `json:"host"`
	Command    string `json:"command"`
	ExitStatus int    `json:"exit_status"`
	Error      string `json:"error,omitempty"`
}

type TaskRecord struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Command   string        `json:"command"`
	Filter    string        `json:"filter,omitempty"`
	State     TaskState     `json:"state"`
	Readiness string        `json:"readiness,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Hosts     []HostRecord  `json:"hosts,omitempty"`
	Files     []string      `json:"files,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

const maxEvents = 200

// Collector accumulates the records of one session. It is safe for
// concurrent use.
type Collector struct {
	Id             string        `json:"id"`
	Status         SessionStatus `json:"status"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Uptime         string        `json:"uptime"`
	TotalTasks     int           `json:"total_tasks"`
	CompletedTasks int           `json:"completed_tasks"`
	FailedTasks    int           `json:"failed_tasks"`
	SkippedTasks   int           `json:"skipped_tasks"`
	Tasks          []*TaskRecord `json:"tasks"`
	Events         []Event       `json:"events"`

	interrupted bool
	mu          sync.RWMutex
}

func NewCollector(totalTasks int) *Collector {
	return &Collector{
		Id:         uuid.New().String(),
		Status:     SessionRunning,
		StartTime:  time.Now(),
		TotalTasks: totalTasks,
		Tasks:      make([]*TaskRecord, 0, totalTasks),
		Events:     make([]Event, 0, 20),
	}
}

// StartTask registers a task in the idle state.
func (c *Collector) StartTask(id, name, command, filter string) *TaskRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &TaskRecord{
		ID:        id,
		Name:      name,
		Command:   command,
		Filter:    filter,
		State:     StateIdle,
		StartTime: time.Now(),
	}
	c.Tasks = append(c.Tasks, t)
	return t
}

// SetState moves t to state.
func (c *Collector) SetState(t *TaskRecord, state TaskState) {
	c.mu.Lock()
	t.State = state
	c.mu.Unlock()
	log.Tracef("Task %s: %s", t.ID, state)
}

func (c *Collector) SetReadiness(t *TaskRecord, readiness string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Readiness = readiness
}

func (c *Collector) AddHost(t *TaskRecord, h HostRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Hosts = append(t.Hosts, h)
}

func (c *Collector) AddFiles(t *TaskRecord, files ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Files = append(t.Files, files...)
}

// FinishTask closes t as done, or as failed when err is not nil.
func (c *Collector) FinishTask(t *TaskRecord, err error) {
	c.mu.Lock()
	t.EndTime = time.Now()
	t.Duration = t.EndTime.Sub(t.StartTime)
	if err != nil {
		t.State = StateFailed
		t.Error = err.Error()
		c.FailedTasks++
	} else {
		t.State = StateDone
		c.CompletedTasks++
	}
	c.mu.Unlock()

	if err != nil {
		c.RecordEvent("error", fmt.Sprintf("task %s failed: %v", t.ID, err))
	} else {
		c.RecordEvent("info", fmt.Sprintf("task %s done in %s", t.ID, formatDuration(t.Duration)))
	}
}

// SkipTask registers a task that never started because the session was
// interrupted.
func (c *Collector) SkipTask(id, name, command, filter string) *TaskRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	t := &TaskRecord{
		ID:        id,
		Name:      name,
		Command:   command,
		Filter:    filter,
		State:     StateSkipped,
		StartTime: now,
		EndTime:   now,
	}
	c.Tasks = append(c.Tasks, t)
	c.SkippedTasks++
	return t
}

// Interrupt marks the session as cancelled. Finish then reports it as
// interrupted whatever the task results.
func (c *Collector) Interrupt() {
	c.mu.Lock()
	already := c.interrupted
	c.interrupted = true
	c.mu.Unlock()
	if !already {
		c.RecordEvent("warning", "session interrupted")
	}
}

func (c *Collector) RecordEvent(level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Events = append(c.Events, Event{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
	if len(c.Events) > maxEvents {
		c.Events = c.Events[len(c.Events)-maxEvents:]
	}
}

// Finish closes the session and derives its status from the task results.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.EndTime = time.Now()
	c.Uptime = formatDuration(c.EndTime.Sub(c.StartTime))
	switch {
	case c.interrupted:
		c.Status = SessionInterrupted
	case c.FailedTasks == 0:
		c.Status = SessionComplete
	case c.CompletedTasks == 0:
		c.Status = SessionFailed
	default:
		c.Status = SessionPartial
	}
}

// Save writes the summary as indented JSON.
func (c *Collector) Save(path string) error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return log.Errorf("failed to marshal session summary: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return log.Errorf("failed to create session summary: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return log.Errorf("failed to write session summary: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
