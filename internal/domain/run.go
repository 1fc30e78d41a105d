package domain

import (
	"errors"
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusInitialized RunStatus = "Initialized"
	RunStatusScheduling  RunStatus = "Scheduling"
	RunStatusRunning     RunStatus = "Running"
	RunStatusCompleted   RunStatus = "Completed"
)

// Run is a batch of test executions sharing configuration and ownership.
type Run struct {
	ID       int64
	Name     string
	Owner    string
	Settings Opaque
	Details  Opaque
	Creation time.Time
	Status   RunStatus
}

// RunUpdate carries the mutable fields of a Run. Settings, Creation and ID
// are readonly; a field is applied only when present.
type RunUpdate struct {
	Name    *string
	Owner   *string
	Details *Opaque
	Status  *RunStatus
}

func (u RunUpdate) Apply(run *Run) {
	if u.Name != nil {
		run.Name = strings.TrimSpace(*u.Name)
	}
	if u.Owner != nil {
		run.Owner = strings.TrimSpace(*u.Owner)
	}
	if u.Details != nil {
		run.Details = *u.Details
	}
	if u.Status != nil {
		run.Status = *u.Status
	}
}

func (r Run) Validate() error {
	if r.Creation.IsZero() {
		return errors.New("creation is required")
	}
	return nil
}
