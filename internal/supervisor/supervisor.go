package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	apperrors "github.com/streamvault/backend/internal/errors"
	"github.com/streamvault/backend/internal/logger"
)

// Task is one job execution: it produces the output artifact path or an
// error, and must honor ctx.
type Task func(ctx context.Context) (string, error)

// Supervisor wraps a single job execution with resource and crash safety:
// a pre-flight resource check, a hard wall-clock timeout, a post-condition
// check on the produced artifact, and process cleanup on every failure path.
type Supervisor struct {
	guard          *ResourceGuard
	procs          *ProcessTable
	timeout        time.Duration
	minOutputBytes int64
	orphanAge      time.Duration
	log            *logger.Logger
}

// New creates a supervisor. timeout bounds one job's wall-clock run;
// minOutputBytes is the smallest artifact considered intact.
func New(guard *ResourceGuard, procs *ProcessTable, timeout time.Duration, minOutputBytes int64, log *logger.Logger) *Supervisor {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if minOutputBytes <= 0 {
		minOutputBytes = 1024
	}
	if log == nil {
		log = logger.Default().WithComponent("supervisor")
	}
	return &Supervisor{
		guard:          guard,
		procs:          procs,
		timeout:        timeout,
		minOutputBytes: minOutputBytes,
		orphanAge:      time.Hour,
		log:            log,
	}
}

// Procs exposes the process table for wiring into the extractor.
func (s *Supervisor) Procs() *ProcessTable {
	return s.procs
}

// Execute runs one job task under supervision. Timeout failures terminate
// the job's tracked process before returning; every failure path reaps
// long-lived orphans.
func (s *Supervisor) Execute(ctx context.Context, jobID string, task Task) (string, error) {
	if err := s.guard.Check(ctx); err != nil {
		return "", err
	}

	taskCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	path, err := task(taskCtx)
	if err != nil {
		s.cleanupAfterFailure(ctx, jobID)

		if timedOut(taskCtx, ctx) {
			return "", apperrors.Timeout(fmt.Sprintf("job exceeded %s wall-clock budget", s.timeout))
		}
		return "", err
	}

	if err := s.verifyArtifact(path); err != nil {
		s.cleanupAfterFailure(ctx, jobID)
		return "", err
	}
	return path, nil
}

// verifyArtifact enforces the post-condition: the output exists and clears
// the minimum size floor. An undersized file is corruption, not success.
func (s *Supervisor) verifyArtifact(path string) error {
	if path == "" {
		return apperrors.CorruptOutput(path, 0)
	}
	info, err := os.Stat(path)
	if err != nil {
		return apperrors.CorruptOutput(path, 0).WithCause(err)
	}
	if info.Size() < s.minOutputBytes {
		return apperrors.CorruptOutput(path, info.Size())
	}
	return nil
}

// cleanupAfterFailure terminates the job's own process, then sweeps for
// orphans that have been alive past the long-running threshold.
func (s *Supervisor) cleanupAfterFailure(ctx context.Context, jobID string) {
	if s.procs == nil {
		return
	}
	if s.procs.Terminate(jobID) {
		s.log.WithJob(jobID).Warn(ctx, "terminated external process after failure")
	}
	if reaped := s.procs.ReapOrphans(s.orphanAge); reaped > 0 {
		s.log.Warn(ctx, "reaped orphaned processes", map[string]interface{}{"count": reaped})
	}
}

// timedOut distinguishes the supervisor's own deadline from cancellation
// requested further up the stack.
func timedOut(taskCtx, parent context.Context) bool {
	return errors.Is(taskCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil
}
