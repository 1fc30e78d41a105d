package domain

import (
	"errors"
	"strings"
)

type TaskStatus string

const (
	TaskStatusInitialized TaskStatus = "initialized"
	TaskStatusScheduled   TaskStatus = "scheduled"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusIgnored     TaskStatus = "ignored"
)

type TaskResult string

const (
	TaskResultPassed TaskResult = "passed"
	TaskResultFailed TaskResult = "failed"
	TaskResultError  TaskResult = "error"
)

// Task is one test case belonging to a Run. A Task cannot outlive its Run:
// deleting the Run removes its Tasks.
type Task struct {
	ID            int64
	RunID         int64
	Name          string
	Annotation    string
	Settings      Opaque
	Status        TaskStatus
	Result        TaskResult
	ResultDetails Opaque
	DurationMs    *int64
}

// TaskImmutableFields are the properties a PATCH must never touch. Settings
// are immutable as well but are rejected separately so the caller sees the
// same warning.
var TaskImmutableFields = map[string]struct{}{
	"id":         {},
	"name":       {},
	"annotation": {},
	"run_id":     {},
	"settings":   {},
}

// TaskPatch carries the mutable fields of a Task; a field is applied only
// when present.
type TaskPatch struct {
	Status        *TaskStatus
	Result        *TaskResult
	ResultDetails *Opaque
	DurationMs    *int64
}

func (p TaskPatch) Apply(task *Task) {
	if p.Status != nil {
		task.Status = *p.Status
	}
	if p.Result != nil {
		task.Result = *p.Result
	}
	if p.ResultDetails != nil {
		task.ResultDetails = *p.ResultDetails
	}
	if p.DurationMs != nil {
		task.DurationMs = p.DurationMs
	}
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("name is required")
	}
	if t.RunID == 0 {
		return errors.New("run id is required")
	}
	if t.Status == "" {
		return errors.New("status is required")
	}
	return nil
}
