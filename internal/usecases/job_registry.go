package usecases

import (
	"context"
	"errors"
	"time"

	"convertapi/internal/entities"
	"convertapi/internal/infrastructure"
	"convertapi/internal/interfaces"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type NewJob struct {
	UserID        string
	APIKeyID      string
	Tool          entities.ToolConfig
	InputFilename string
	InputRef      string
	InputSize     int64
	Options       map[string]string
}

// JobRegistry owns the job state machine. All status changes go through it.
type JobRegistry struct {
	jobs interfaces.JobStore
	now  func() time.Time
}

func NewJobRegistry(jobs interfaces.JobStore) *JobRegistry {
	return &JobRegistry{jobs: jobs, now: time.Now}
}

// Validate resolves the tool and checks the upload against it. No state is touched.
func (r *JobRegistry) Validate(toolType string, filename string, size int64) (entities.ToolConfig, error) {
	if toolType == "" {
		return entities.ToolConfig{}, &entities.ValidationError{Field: "toolType", Message: "toolType is required"}
	}
	tool, ok := entities.LookupTool(entities.ToolType(toolType))
	if !ok {
		return entities.ToolConfig{}, &entities.ValidationError{Field: "toolType", Message: "unknown tool type " + toolType}
	}
	if err := tool.ValidateInput(filename, size); err != nil {
		return entities.ToolConfig{}, err
	}
	return tool, nil
}

func (r *JobRegistry) Create(ctx context.Context, in NewJob) (*entities.Job, error) {
	now := r.now().UTC()
	job := &entities.Job{
		ID:            infrastructure.NewJobID(),
		UserID:        in.UserID,
		APIKeyID:      in.APIKeyID,
		ToolType:      in.Tool.Type,
		Status:        entities.JobPending,
		InputFilename: in.InputFilename,
		InputRef:      in.InputRef,
		InputFileSize: in.InputSize,
		Options:       in.Options,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRegistry) MarkProcessing(ctx context.Context, id string) (*entities.Job, error) {
	return r.transition(ctx, id, entities.JobProcessing, func(j *entities.Job, now time.Time) error {
		return j.MarkProcessing(now)
	})
}

func (r *JobRegistry) Complete(ctx context.Context, id string, out entities.JobOutput, elapsed time.Duration) (*entities.Job, error) {
	return r.transition(ctx, id, entities.JobCompleted, func(j *entities.Job, now time.Time) error {
		return j.MarkCompleted(out, elapsed, now)
	})
}

func (r *JobRegistry) Fail(ctx context.Context, id, message string, elapsed time.Duration) (*entities.Job, error) {
	return r.transition(ctx, id, entities.JobFailed, func(j *entities.Job, now time.Time) error {
		return j.MarkFailed(message, elapsed, now)
	})
}

// transition applies mark and persists it with a compare-and-set on the
// previous status. Repeating a transition into the current status is a no-op.
func (r *JobRegistry) transition(ctx context.Context, id string, target entities.JobStatus, mark func(*entities.Job, time.Time) error) (*entities.Job, error) {
	job, err := r.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == target {
		return job, nil
	}
	expected := job.Status
	if err := mark(job, r.now().UTC()); err != nil {
		return nil, err
	}
	if err := r.jobs.UpdateJob(ctx, job, expected); err != nil {
		return nil, err
	}
	return job, nil
}

// Get returns the job if requesterID may see it. Other owners' jobs are reported as not found.
func (r *JobRegistry) Get(ctx context.Context, id, requesterID string) (*entities.Job, error) {
	job, err := r.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(requesterID) {
		return nil, entities.ErrJobNotFound
	}
	return job, nil
}

func (r *JobRegistry) ListByOwner(ctx context.Context, userID string, limit int) ([]entities.Job, error) {
	if userID == "" {
		return nil, errors.New("list jobs: owner required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	jobs, err := r.jobs.ListJobsByOwner(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []entities.Job{}
	}
	return jobs, nil
}
