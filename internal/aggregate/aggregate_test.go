package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trados-tasks-go/internal/models"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestCompute_Example(t *testing.T) {
	tasks := []models.Task{
		{ID: "a", ProjectID: "p1", Status: models.StatusCreated, DueAt: at(time.Hour), WordCount: 100},
		{ID: "b", ProjectID: "p1", Status: models.StatusInProgress, DueAt: at(-2 * time.Hour), WordCount: 250},
		{ID: "c", ProjectID: "p2", Status: models.StatusCompleted, DueAt: at(-10 * time.Hour), WordCount: 40},
	}

	agg := Compute(tasks, now)

	assert.Equal(t, 3, agg.TotalTasks)
	assert.Equal(t, 1, agg.CountsByStatus[models.StatusCreated])
	assert.Equal(t, 1, agg.CountsByStatus[models.StatusInProgress])
	assert.Equal(t, 1, agg.CountsByStatus[models.StatusCompleted])
	assert.Equal(t, 0, agg.CountsByStatus[models.StatusUnknown])

	require.Len(t, agg.OverdueTasks, 1)
	assert.Equal(t, "b", agg.OverdueTasks[0].Task.ID)
	assert.InDelta(t, 2.0, agg.OverdueTasks[0].HoursOverdue, 0.001)

	require.NotNil(t, agg.NextDueAt)
	assert.Equal(t, *at(time.Hour), *agg.NextDueAt)

	assert.Equal(t, 390, agg.TotalWords)
	assert.Equal(t, 250, agg.WordsByStatus[models.StatusInProgress])
	assert.Equal(t, map[string]int{"p1": 2, "p2": 1}, agg.CountsByProject)
	assert.Equal(t, now, agg.ComputedAt)

	require.Len(t, agg.UpcomingWithin48h, 1)
	assert.Equal(t, "a", agg.UpcomingWithin48h[0].ID)
}

func TestCompute_NextDueAtIgnoresCompleted(t *testing.T) {
	tasks := []models.Task{
		{ID: "a", Status: models.StatusCreated, DueAt: at(time.Hour)},
		{ID: "b", Status: models.StatusCompleted, DueAt: at(10 * time.Minute)},
	}

	agg := Compute(tasks, now)

	require.NotNil(t, agg.NextDueAt)
	assert.Equal(t, *at(time.Hour), *agg.NextDueAt)
}

func TestCompute_NextDueAtAbsent(t *testing.T) {
	tasks := []models.Task{
		{ID: "a", Status: models.StatusCreated},
		{ID: "b", Status: models.StatusCompleted, DueAt: at(time.Hour)},
	}

	agg := Compute(tasks, now)
	assert.Nil(t, agg.NextDueAt)
}

func TestCompute_NextDueAtSkipsOverdue(t *testing.T) {
	tests := []struct {
		name  string
		tasks []models.Task
		want  *time.Time
	}{
		{
			name: "only overdue open tasks",
			tasks: []models.Task{
				{ID: "a", Status: models.StatusCreated, DueAt: at(-time.Hour)},
				{ID: "b", Status: models.StatusInProgress, DueAt: at(-3 * time.Hour)},
			},
			want: nil,
		},
		{
			name: "due exactly now",
			tasks: []models.Task{
				{ID: "a", Status: models.StatusInProgress, DueAt: at(-time.Minute)},
				{ID: "b", Status: models.StatusCreated, DueAt: at(0)},
				{ID: "c", Status: models.StatusCreated, DueAt: at(time.Hour)},
			},
			want: at(0),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := Compute(tt.tasks, now)
			if tt.want == nil {
				assert.Nil(t, agg.NextDueAt)
				assert.NotEmpty(t, agg.OverdueTasks)
				return
			}
			require.NotNil(t, agg.NextDueAt)
			assert.Equal(t, *tt.want, *agg.NextDueAt)
		})
	}
}

func TestCompute_CompletedNeverOverdue(t *testing.T) {
	tasks := []models.Task{
		{ID: "a", Status: models.StatusCompleted, DueAt: at(-100 * time.Hour)},
		{ID: "b", Status: models.StatusCompleted, DueAt: at(-time.Minute)},
	}

	agg := Compute(tasks, now)
	assert.Empty(t, agg.OverdueTasks)
}

func TestCompute_UnknownStatusCounted(t *testing.T) {
	tasks := []models.Task{
		{ID: "a", Status: models.StatusUnknown, RawStatus: "failed", DueAt: at(-time.Hour)},
		{ID: "b", Status: models.StatusCreated},
	}

	agg := Compute(tasks, now)

	assert.Equal(t, 1, agg.CountsByStatus[models.StatusUnknown])
	require.Len(t, agg.OverdueTasks, 1)
	assert.Equal(t, "a", agg.OverdueTasks[0].Task.ID)
}

func TestCompute_TotalMatchesStatusCounts(t *testing.T) {
	statuses := []models.Status{models.StatusCreated, models.StatusInProgress, models.StatusCompleted, models.StatusUnknown}
	var tasks []models.Task
	for i := 0; i < 37; i++ {
		tasks = append(tasks, models.Task{ID: string(rune('a' + i%26)), Status: statuses[i%len(statuses)]})
	}

	agg := Compute(tasks, now)

	sum := 0
	for _, n := range agg.CountsByStatus {
		sum += n
	}
	assert.Equal(t, agg.TotalTasks, sum)
}

func TestCompute_OverdueOrdering(t *testing.T) {
	tasks := []models.Task{
		{ID: "x", Status: models.StatusCreated, DueAt: at(-time.Hour)},
		{ID: "z", Status: models.StatusInProgress, DueAt: at(-5 * time.Hour)},
		{ID: "y", Status: models.StatusInProgress, DueAt: at(-5 * time.Hour)},
	}

	agg := Compute(tasks, now)

	require.Len(t, agg.OverdueTasks, 3)
	assert.Equal(t, "y", agg.OverdueTasks[0].Task.ID)
	assert.Equal(t, "z", agg.OverdueTasks[1].Task.ID)
	assert.Equal(t, "x", agg.OverdueTasks[2].Task.ID)
}

func TestCompute_UpcomingWindow(t *testing.T) {
	tasks := []models.Task{
		{ID: "edge", Status: models.StatusCreated, DueAt: at(48 * time.Hour)},
		{ID: "later", Status: models.StatusCreated, DueAt: at(49 * time.Hour)},
		{ID: "now", Status: models.StatusInProgress, DueAt: at(0)},
		{ID: "done", Status: models.StatusCompleted, DueAt: at(time.Hour)},
		{ID: "soon", Status: models.StatusCreated, DueAt: at(3 * time.Hour)},
	}

	agg := Compute(tasks, now)

	var ids []string
	for _, task := range agg.UpcomingWithin48h {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"now", "soon", "edge"}, ids)
}

func TestCompute_ProjectNames(t *testing.T) {
	tasks := []models.Task{
		{ID: "a", ProjectID: "p1", ProjectName: "Manual"},
		{ID: "b", ProjectID: "p1"},
		{ID: "c"},
	}

	agg := Compute(tasks, now)

	assert.Equal(t, map[string]int{"p1": 2}, agg.CountsByProject)
	assert.Equal(t, map[string]string{"p1": "Manual"}, agg.ProjectNames)
}

func TestCompute_Empty(t *testing.T) {
	agg := Compute(nil, now)

	assert.Equal(t, 0, agg.TotalTasks)
	assert.Nil(t, agg.NextDueAt)
	assert.NotNil(t, agg.OverdueTasks)
	assert.Len(t, agg.CountsByStatus, 4)
}
