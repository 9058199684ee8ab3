// Package workflow starts and drives executions of the command sync state
// machine, either on AWS Step Functions or in process.
package workflow

import (
	"context"
	"errors"

	"github.com/roach88/cmdsync/internal/stream"
)

var (
	ErrExecutionExists   = errors.New("execution already exists")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrTaskNotFound      = errors.New("task token not found")
	ErrNotRedrivable     = errors.New("execution is not failed")
	ErrRunnerStopped     = errors.New("runner stopped")
)

// Engine is the workflow engine the stream ingestor and the finish state
// talk to.
type Engine interface {
	StartExecution(ctx context.Context, name string, ev *stream.CommandEvent) (string, error)
	SendTaskSuccess(ctx context.Context, token string, output any) error
}

// Redriver restarts a failed execution from the state that failed.
type Redriver interface {
	Redrive(ctx context.Context, executionID string) error
}
