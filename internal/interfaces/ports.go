package interfaces

import (
	"context"
	"io"
	"time"

	"convertapi/internal/entities"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *entities.User) error
	GetUser(ctx context.Context, id string) (*entities.User, error)
	GetUserByEmail(ctx context.Context, email string) (*entities.User, error)
	UpdatePlan(ctx context.Context, id string, plan entities.Plan, status entities.SubscriptionStatus) (*entities.User, error)
	// DeleteUser removes a user and its API keys.
	DeleteUser(ctx context.Context, id string) error
	// ReserveQuota admits and counts one job atomically. Denial returns *entities.QuotaExceededError.
	ReserveQuota(ctx context.Context, id string, now time.Time) (*entities.User, error)
	// ReleaseQuota undoes a reservation whose job was never created.
	ReleaseQuota(ctx context.Context, id string, now time.Time) error
	ResetUsage(ctx context.Context, id string, scope entities.UsageScope, now time.Time) (*entities.User, error)
}

type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k *entities.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*entities.APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]entities.APIKey, error)
	DeactivateAPIKey(ctx context.Context, userID, id string, now time.Time) error
	TouchAPIKey(ctx context.Context, id string, now time.Time) error
}

type JobStore interface {
	CreateJob(ctx context.Context, j *entities.Job) error
	GetJob(ctx context.Context, id string) (*entities.Job, error)
	// UpdateJob persists j only if the stored status still equals expected.
	UpdateJob(ctx context.Context, j *entities.Job, expected entities.JobStatus) error
	ListJobsByOwner(ctx context.Context, userID string, limit int) ([]entities.Job, error)
}

type Store interface {
	UserStore
	APIKeyStore
	JobStore
	Close() error
}

type Artifact struct {
	Ref  string
	Size int64
}

// ArtifactStore holds uploaded inputs and converted outputs behind opaque refs.
type ArtifactStore interface {
	Save(ctx context.Context, name string, r io.Reader) (Artifact, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, ref string) error
}

type ConversionRequest struct {
	JobID         string
	InputRef      string
	InputFilename string
	Tool          entities.ToolConfig
	Options       map[string]string
}

type ConversionOutput struct {
	Filename string
	Ref      string
	Size     int64
}

type ConversionEngine interface {
	Convert(ctx context.Context, req ConversionRequest) (*ConversionOutput, error)
}

type Notifier interface {
	JobFinished(ctx context.Context, job *entities.Job) error
}
