package trados

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"time"

	"trados-tasks-go/internal/auth"
	"trados-tasks-go/internal/metrics"
	"trados-tasks-go/internal/models"
	"trados-tasks-go/internal/worker"
)

const (
	endpointAssignedTasks = "tasks_assigned"
	endpointSourceFiles   = "project_source_files"

	taskFields       = "id,name,status,dueBy,taskType,project.id,project.name,inputFiles.targetFile.sourceFile.id"
	sourceFileFields = "id,totalWords"
)

type taskItem struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   string     `json:"status"`
	DueBy    *time.Time `json:"dueBy"`
	TaskType struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"taskType"`
	Project struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
	InputFiles []struct {
		TargetFile struct {
			SourceFile struct {
				ID string `json:"id"`
			} `json:"sourceFile"`
		} `json:"targetFile"`
	} `json:"inputFiles"`
}

type sourceFile struct {
	ID         string `json:"id"`
	TotalWords int    `json:"totalWords"`
}

type fileKey struct {
	project string
	file    string
}

// FetchAllTasks returns every task assigned to the token's user in tenantID,
// with word counts resolved from each project's source files.
func (c *Client) FetchAllTasks(ctx context.Context, tenantID string, token auth.AccessToken) ([]models.Task, error) {
	items, err := fetchPages[taskItem](ctx, c, token, request{
		base:     c.baseURL,
		path:     "/tasks/assigned",
		query:    url.Values{"fields": {taskFields}},
		tenantID: tenantID,
		endpoint: endpointAssignedTasks,
	})
	if err != nil {
		return nil, err
	}

	projects := uniqueProjects(items)
	words, err := c.wordCounts(ctx, tenantID, token, projects)
	if err != nil {
		return nil, err
	}

	tasks := make([]models.Task, 0, len(items))
	for _, it := range items {
		tasks = append(tasks, it.toModel(words))
	}

	c.logger.Debug("fetched assigned tasks",
		"tenant", tenantID, "tasks", len(tasks), "projects", len(projects))
	return tasks, nil
}

// wordCounts looks up source file sizes for every project. A project that
// cannot be read contributes zero words; an Unauthorized answer aborts the
// whole fetch so the token can be replaced.
func (c *Client) wordCounts(ctx context.Context, tenantID string, token auth.AccessToken, projects []string) (map[fileKey]int, error) {
	results := make([][]sourceFile, len(projects))
	jobs := make([]worker.Task, len(projects))
	for i, projectID := range projects {
		i, projectID := i, projectID
		jobs[i] = worker.TaskFunc(func(ctx context.Context) error {
			files, err := fetchPages[sourceFile](ctx, c, token, request{
				base:     c.baseURL,
				path:     "/projects/" + url.PathEscape(projectID) + "/source-files",
				query:    url.Values{"fields": {sourceFileFields}},
				tenantID: tenantID,
				endpoint: endpointSourceFiles,
			})
			results[i] = files
			return err
		})
	}

	errs := c.runJobs(ctx, jobs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := make(map[fileKey]int)
	for i, projectID := range projects {
		if err := errs[i]; err != nil {
			if errors.Is(err, ErrUnauthorized) {
				metrics.EnrichmentJobs.WithLabelValues("unauthorized").Inc()
				return nil, err
			}
			metrics.EnrichmentJobs.WithLabelValues("failed").Inc()
			c.logger.Warn("failed to fetch source files, counting zero words",
				"tenant", tenantID, "project", projectID, "error", err)
			continue
		}
		metrics.EnrichmentJobs.WithLabelValues("ok").Inc()
		for _, f := range results[i] {
			words[fileKey{project: projectID, file: f.ID}] = f.TotalWords
		}
	}
	return words, nil
}

func (c *Client) runJobs(ctx context.Context, jobs []worker.Task) []error {
	if c.pool != nil {
		return c.pool.RunBatch(ctx, jobs)
	}
	errs := make([]error, len(jobs))
	for i, job := range jobs {
		errs[i] = job.Process(ctx)
	}
	return errs
}

func uniqueProjects(items []taskItem) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, it := range items {
		id := it.Project.ID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (it taskItem) toModel(words map[fileKey]int) models.Task {
	total := 0
	if it.Project.ID != "" {
		for _, in := range it.InputFiles {
			if id := in.TargetFile.SourceFile.ID; id != "" {
				total += words[fileKey{project: it.Project.ID, file: id}]
			}
		}
	}

	taskType := it.TaskType.Name
	if taskType == "" {
		taskType = it.TaskType.Key
	}

	var due *time.Time
	if it.DueBy != nil {
		d := it.DueBy.UTC()
		due = &d
	}

	return models.Task{
		ID:          it.ID,
		Name:        it.Name,
		ProjectID:   it.Project.ID,
		ProjectName: it.Project.Name,
		Status:      models.ParseStatus(it.Status),
		RawStatus:   it.Status,
		DueAt:       due,
		WordCount:   total,
		Type:        taskType,
	}
}
