package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one crawl invocation.
type Run struct {
	ID       uuid.UUID
	Strategy string
	// Output is the checkpoint/output base name of the run.
	Output     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// Level, Done and Discovered are the latest reported counters.
	Level        int
	Done         int
	Discovered   int
	UpdatedAt    time.Time
	ErrorMessage *string
}

// RunProgress is a counters update for a running crawl.
type RunProgress struct {
	Level      int
	Done       int
	Discovered int
	At         time.Time
}

// RunRepository persists crawl run history.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) a running run.
	StartRun(ctx context.Context, run Run) error
	// UpdateProgress stores the latest counters; counters never move backwards.
	UpdateProgress(ctx context.Context, runID uuid.UUID, p RunProgress) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
