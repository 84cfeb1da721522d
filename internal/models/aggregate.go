package models

import "time"

// OverdueTask pairs an overdue task with how late it is at computation time.
type OverdueTask struct {
	Task         Task    `json:"task"`
	HoursOverdue float64 `json:"hours_overdue"`
}

// Aggregate is the set of metrics derived from one fetched task list.
// It is replaced wholesale on every successful cycle.
type Aggregate struct {
	TotalTasks        int               `json:"total_tasks"`
	CountsByStatus    map[Status]int    `json:"counts_by_status"`
	OverdueTasks      []OverdueTask     `json:"overdue_tasks"`
	TotalWords        int               `json:"total_words"`
	WordsByStatus     map[Status]int    `json:"words_by_status"`
	NextDueAt         *time.Time        `json:"next_due_at,omitempty"`
	UpcomingWithin48h []Task            `json:"upcoming_within_48h"`
	CountsByProject   map[string]int    `json:"counts_by_project"`
	ProjectNames      map[string]string `json:"project_names"`
	ComputedAt        time.Time         `json:"computed_at"`
}
