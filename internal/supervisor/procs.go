package supervisor

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/streamvault/backend/internal/logger"
)

// trackedProcess is one external process owned by a job.
type trackedProcess struct {
	cmd       *exec.Cmd
	startedAt time.Time
}

// ProcessTable tracks the external processes spawned for jobs so timeouts
// and cancellations can reap them by handle. Matching is always by tracked
// handle, never by system-wide scan.
type ProcessTable struct {
	mu    sync.Mutex
	procs map[string]*trackedProcess
	grace time.Duration
	log   *logger.Logger
}

// NewProcessTable creates a table with the given terminate-to-kill grace
// period.
func NewProcessTable(grace time.Duration, log *logger.Logger) *ProcessTable {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	if log == nil {
		log = logger.Default().WithComponent("procs")
	}
	return &ProcessTable{
		procs: make(map[string]*trackedProcess),
		grace: grace,
		log:   log,
	}
}

// Register records the process for a job. A job owns at most one process at
// a time; registering again replaces the handle.
func (t *ProcessTable) Register(jobID string, cmd *exec.Cmd) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[jobID] = &trackedProcess{cmd: cmd, startedAt: time.Now()}
}

// Release forgets a job's process handle. Called by the owner after Wait
// returns.
func (t *ProcessTable) Release(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, jobID)
}

// Count returns the number of tracked processes.
func (t *ProcessTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

// Terminate ends a job's process: SIGTERM, wait out the grace period, then
// SIGKILL if it is still alive. The handle is dropped either way. Returns
// false when no process was tracked for the job.
func (t *ProcessTable) Terminate(jobID string) bool {
	t.mu.Lock()
	tp, ok := t.procs[jobID]
	delete(t.procs, jobID)
	t.mu.Unlock()

	if !ok {
		return false
	}
	t.stop(jobID, tp)
	return true
}

// ReapOrphans force-terminates tracked processes older than maxAge and
// returns how many were reaped. Recently started processes are left alone;
// their owners are still waiting on them.
func (t *ProcessTable) ReapOrphans(maxAge time.Duration) int {
	t.mu.Lock()
	cutoff := time.Now().Add(-maxAge)
	stale := make(map[string]*trackedProcess)
	for jobID, tp := range t.procs {
		if tp.startedAt.Before(cutoff) {
			stale[jobID] = tp
			delete(t.procs, jobID)
		}
	}
	t.mu.Unlock()

	for jobID, tp := range stale {
		t.log.Warn(context.Background(), "reaping orphaned process", map[string]interface{}{
			"job_id": jobID,
			"age":    time.Since(tp.startedAt).String(),
		})
		t.stop(jobID, tp)
	}
	return len(stale)
}

func (t *ProcessTable) stop(jobID string, tp *trackedProcess) {
	proc := tp.cmd.Process
	if proc == nil {
		return
	}

	// Already exited; nothing to signal.
	if tp.cmd.ProcessState != nil {
		return
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return
	}

	deadline := time.Now().Add(t.grace)
	for time.Now().Before(deadline) {
		if !t.alive(proc) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.log.Warn(context.Background(), "process survived grace period, killing", map[string]interface{}{
		"job_id": jobID,
		"pid":    proc.Pid,
	})
	_ = proc.Kill()
}

// alive probes the process with signal 0.
func (t *ProcessTable) alive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}
