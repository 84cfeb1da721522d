package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an assigned task.
type Status int

const (
	// StatusUnknown collects every wire value outside the known set
	// (failed, skipped, canceled, or anything the service adds later).
	StatusUnknown Status = iota
	StatusCreated
	StatusInProgress
	StatusCompleted
)

// Statuses lists every bucket an Aggregate reports on, in display order.
var Statuses = []Status{StatusCreated, StatusInProgress, StatusCompleted, StatusUnknown}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusInProgress:
		return "inProgress"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText lets Status serve as a JSON map key.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}

// ParseStatus normalizes a wire status. Matching ignores case, spaces and
// underscores so "inProgress", "in_progress" and "In Progress" agree.
func ParseStatus(raw string) Status {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("_", "", " ", "", "-", "").Replace(norm)
	switch norm {
	case "created":
		return StatusCreated
	case "inprogress":
		return StatusInProgress
	case "completed":
		return StatusCompleted
	default:
		return StatusUnknown
	}
}

// Task is one assigned task as fetched in a single cycle. Values are never
// mutated after the fetch that produced them.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ProjectID   string     `json:"project_id"`
	ProjectName string     `json:"project_name,omitempty"`
	Status      Status     `json:"status"`
	RawStatus   string     `json:"raw_status"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	WordCount   int        `json:"word_count"`
	Type        string     `json:"type,omitempty"`
}

// Open reports whether the task still has work outstanding.
func (t Task) Open() bool {
	return t.Status != StatusCompleted
}

func (t Task) String() string {
	return fmt.Sprintf("task %s (%s, project %s)", t.ID, t.Status, t.ProjectID)
}
