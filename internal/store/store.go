package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/haakonsb/carcounter/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrMissingPartitionKey is returned by the Dynamo backend when no partition
// key was configured. It is a configuration fault, never retried.
var ErrMissingPartitionKey = errors.New("partition key not configured")

// Store is the job record access interface. Both backends produce identical
// externally observable Job shapes; callers never branch on the backend.
//
// MarkJobDone and MarkJobError are the only status writers. The coordinator
// guarantees each is applied at most once per job, by that job's own
// completion continuation.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	MarkJobDone(ctx context.Context, id uuid.UUID, count *int64) error
	MarkJobError(ctx context.Context, id uuid.UUID) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobOwner(ctx context.Context, id uuid.UUID) (string, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
}

// JobFilter narrows ListJobs results. The creation-time range is half-open:
// CreatedFrom is inclusive, CreatedTo exclusive. Results are ordered
// most-recent-first.
type JobFilter struct {
	Owner       string
	Status      string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
	Offset      int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// normalize clamps pagination values to sane bounds.
func (f JobFilter) normalize() JobFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
