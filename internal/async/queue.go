package async

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by Enqueue after Shutdown started.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job is one file to run through the pipeline on behalf of an owner.
type Job struct {
	Path        string
	OwnerID     string
	SubmittedAt time.Time
}

// Handler processes one job. Errors are the handler's to report.
type Handler func(ctx context.Context, job Job)

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
