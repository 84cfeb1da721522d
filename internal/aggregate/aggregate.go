// Package aggregate derives task metrics from a single fetched task list.
// Everything here is pure: no I/O, no clock reads.
package aggregate

import (
	"sort"
	"time"

	"trados-tasks-go/internal/models"
)

// UpcomingWindow bounds how far ahead a due date counts as upcoming.
const UpcomingWindow = 48 * time.Hour

// Compute builds the Aggregate for tasks as observed at now.
func Compute(tasks []models.Task, now time.Time) models.Aggregate {
	agg := models.Aggregate{
		TotalTasks:        len(tasks),
		CountsByStatus:    make(map[models.Status]int, len(models.Statuses)),
		WordsByStatus:     make(map[models.Status]int, len(models.Statuses)),
		OverdueTasks:      []models.OverdueTask{},
		UpcomingWithin48h: []models.Task{},
		CountsByProject:   make(map[string]int),
		ProjectNames:      make(map[string]string),
		ComputedAt:        now,
	}
	for _, s := range models.Statuses {
		agg.CountsByStatus[s] = 0
		agg.WordsByStatus[s] = 0
	}

	horizon := now.Add(UpcomingWindow)
	for _, task := range tasks {
		agg.CountsByStatus[task.Status]++
		agg.WordsByStatus[task.Status] += task.WordCount
		agg.TotalWords += task.WordCount

		if task.ProjectID != "" {
			agg.CountsByProject[task.ProjectID]++
			if task.ProjectName != "" {
				agg.ProjectNames[task.ProjectID] = task.ProjectName
			}
		}

		if !task.Open() || task.DueAt == nil {
			continue
		}
		due := *task.DueAt

		if !due.Before(now) && (agg.NextDueAt == nil || due.Before(*agg.NextDueAt)) {
			d := due
			agg.NextDueAt = &d
		}
		if due.Before(now) {
			agg.OverdueTasks = append(agg.OverdueTasks, models.OverdueTask{
				Task:         task,
				HoursOverdue: now.Sub(due).Hours(),
			})
		} else if !due.After(horizon) {
			agg.UpcomingWithin48h = append(agg.UpcomingWithin48h, task)
		}
	}

	sort.SliceStable(agg.OverdueTasks, func(i, j int) bool {
		a, b := agg.OverdueTasks[i], agg.OverdueTasks[j]
		if a.HoursOverdue != b.HoursOverdue {
			return a.HoursOverdue > b.HoursOverdue
		}
		return a.Task.ID < b.Task.ID
	})
	sort.SliceStable(agg.UpcomingWithin48h, func(i, j int) bool {
		a, b := agg.UpcomingWithin48h[i], agg.UpcomingWithin48h[j]
		if !a.DueAt.Equal(*b.DueAt) {
			return a.DueAt.Before(*b.DueAt)
		}
		return a.ID < b.ID
	})

	return agg
}
