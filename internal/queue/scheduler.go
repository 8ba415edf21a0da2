package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/streamvault/backend/internal/errors"
	"github.com/streamvault/backend/internal/logger"
)

// Runner executes one job to completion and returns the output artifact
// path. It must honor ctx cancellation and report coarse progress (0-100)
// through onProgress.
type Runner func(ctx context.Context, job *Job, onProgress func(float64)) (string, error)

// keep this many terminal job states before pruning the oldest
const finishedHistoryLimit = 1000

type pendingItem struct {
	job   *Job
	seq   uint64
	index int
}

// pendingHeap orders by priority descending, then submission sequence
// ascending (FIFO within a priority band).
type pendingHeap []*pendingItem

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pendingHeap) Push(x any) {
	item := x.(*pendingItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

type runningJob struct {
	job       *Job
	cancel    context.CancelFunc
	cancelled bool
}

// Scheduler is the job queue: admission, priority ordering, and bounded
// concurrent dispatch. All maps and the heap are guarded by mu; workers only
// touch shared state through the scheduler's methods.
type Scheduler struct {
	mu            sync.Mutex
	pending       pendingHeap
	pendingByID   map[string]*pendingItem
	running       map[string]*runningJob
	states        map[string]*JobState
	finishedOrder []string
	seq           uint64

	capacity      int
	maxConcurrent int
	pollInterval  time.Duration
	runner        Runner
	log           *logger.Logger

	notify  chan struct{}
	workers sync.WaitGroup

	onTerminal func(job *Job, state JobState)
}

// NewScheduler creates a stopped scheduler; call Run to start dispatching.
func NewScheduler(capacity, maxConcurrent int, runner Runner, log *logger.Logger) *Scheduler {
	if capacity <= 0 {
		capacity = 100
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if log == nil {
		log = logger.Default().WithComponent("queue")
	}
	return &Scheduler{
		pendingByID:   make(map[string]*pendingItem),
		running:       make(map[string]*runningJob),
		states:        make(map[string]*JobState),
		capacity:      capacity,
		maxConcurrent: maxConcurrent,
		pollInterval:  time.Second,
		runner:        runner,
		log:           log,
		notify:        make(chan struct{}, 1),
	}
}

// SetPollInterval overrides the scheduler's reap interval. Dispatch is also
// edge-triggered on submit and completion, so the interval only bounds how
// stale the loop can get, not scheduling latency.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// OnTerminal registers a callback invoked once per job when it reaches a
// terminal state. Called outside the scheduler lock.
func (s *Scheduler) OnTerminal(fn func(job *Job, state JobState)) {
	s.onTerminal = fn
}

// Submit admits a job and returns its id immediately. The pending and
// running load together count against capacity.
func (s *Scheduler) Submit(job *Job) (string, error) {
	if !job.Kind.Valid() {
		return "", apperrors.UnsupportedKind(string(job.Kind))
	}

	s.mu.Lock()
	load := len(s.pending) + len(s.running)
	if load >= s.capacity {
		pending := len(s.pending)
		s.mu.Unlock()
		return "", apperrors.CapacityExceeded(pending, s.capacity)
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	s.seq++
	item := &pendingItem{job: job, seq: s.seq}
	heap.Push(&s.pending, item)
	s.pendingByID[job.ID] = item
	s.states[job.ID] = &JobState{JobID: job.ID, Status: StatusPending}
	s.mu.Unlock()

	s.wake()
	return job.ID, nil
}

// Status returns a copy of the job's state, or JobNotFound.
func (s *Scheduler) Status(jobID string) (JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[jobID]
	if !ok {
		return JobState{}, apperrors.JobNotFound()
	}
	return *state, nil
}

// Cancel removes a pending job or requests cooperative cancellation of a
// running one. Returns false for terminal or unknown jobs. Cancellation of
// a running job is advisory: the worker observes it at its next suspension
// point and the state transition happens when the worker returns.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()

	if item, ok := s.pendingByID[jobID]; ok {
		heap.Remove(&s.pending, item.index)
		delete(s.pendingByID, jobID)
		state := s.states[jobID]
		state.Status = StatusCancelled
		now := time.Now()
		state.CompletedAt = &now
		s.recordFinishedLocked(jobID)
		job, snapshot := item.job, *state
		s.mu.Unlock()
		s.notifyTerminal(job, snapshot)
		return true
	}

	if rj, ok := s.running[jobID]; ok {
		rj.cancelled = true
		rj.cancel()
		s.mu.Unlock()
		return true
	}

	s.mu.Unlock()
	return false
}

// List returns a snapshot of every tracked job state.
func (s *Scheduler) List() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, *state)
	}
	return out
}

// Summary is the queue-level status surfaced by the API.
type Summary struct {
	Pending       int `json:"pending"`
	Running       int `json:"running"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Cancelled     int `json:"cancelled"`
	Capacity      int `json:"capacity"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Snapshot returns current queue occupancy counts.
func (s *Scheduler) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{Capacity: s.capacity, MaxConcurrent: s.maxConcurrent}
	for _, state := range s.states {
		switch state.Status {
		case StatusPending:
			sum.Pending++
		case StatusRunning:
			sum.Running++
		case StatusCompleted:
			sum.Completed++
		case StatusFailed:
			sum.Failed++
		case StatusCancelled:
			sum.Cancelled++
		}
	}
	return sum
}

// Run drives the scheduling loop until ctx is cancelled, then waits for
// in-flight workers to drain. Worker contexts descend from ctx, so shutdown
// cancels them too.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.dispatch(ctx)

		select {
		case <-ctx.Done():
			s.workers.Wait()
			return
		case <-ticker.C:
		case <-s.notify:
		}
	}
}

// dispatch fills free worker slots from the pending heap.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.running) < s.maxConcurrent && s.pending.Len() > 0 {
		item := heap.Pop(&s.pending).(*pendingItem)
		delete(s.pendingByID, item.job.ID)

		jobCtx, cancel := context.WithCancel(ctx)
		s.running[item.job.ID] = &runningJob{job: item.job, cancel: cancel}

		state := s.states[item.job.ID]
		state.Status = StatusRunning
		now := time.Now()
		state.StartedAt = &now

		s.workers.Add(1)
		go s.execute(jobCtx, item.job)
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) {
	defer s.workers.Done()

	s.log.WithJob(job.ID).Info(ctx, "job started", map[string]interface{}{
		"kind":     string(job.Kind),
		"priority": job.Priority,
	})

	result, err := s.run(ctx, job)
	s.complete(ctx, job, result, err)
}

// run isolates runner panics so a single job cannot take down the loop.
func (s *Scheduler) run(ctx context.Context, job *Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.InternalError("job worker panicked").
				WithDetails(map[string]any{"panic": r})
		}
	}()

	onProgress := func(pct float64) {
		s.mu.Lock()
		if state, ok := s.states[job.ID]; ok && state.Status == StatusRunning {
			if pct < 0 {
				pct = 0
			}
			if pct > 100 {
				pct = 100
			}
			state.Progress = pct
		}
		s.mu.Unlock()
	}

	return s.runner(ctx, job, onProgress)
}

func (s *Scheduler) complete(ctx context.Context, job *Job, result string, err error) {
	s.mu.Lock()

	rj := s.running[job.ID]
	delete(s.running, job.ID)
	if rj != nil {
		rj.cancel()
	}

	state := s.states[job.ID]
	now := time.Now()
	state.CompletedAt = &now

	switch {
	case rj != nil && rj.cancelled, errors.Is(err, context.Canceled):
		state.Status = StatusCancelled
	case err != nil:
		state.Status = StatusFailed
		state.Error = err.Error()
		state.ErrorCode = apperrors.Code(err)
	default:
		state.Status = StatusCompleted
		state.Progress = 100
		state.Result = result
	}

	s.recordFinishedLocked(job.ID)
	snapshot := *state
	s.mu.Unlock()

	log := s.log.WithJob(job.ID)
	switch snapshot.Status {
	case StatusCompleted:
		log.Info(ctx, "job completed", map[string]interface{}{"result": snapshot.Result})
	case StatusCancelled:
		log.Info(ctx, "job cancelled")
	default:
		log.Error(ctx, "job failed", err)
	}

	s.notifyTerminal(job, snapshot)
	s.wake()
}

// recordFinishedLocked tracks terminal order and prunes history so the
// states map does not grow without bound. Caller holds mu.
func (s *Scheduler) recordFinishedLocked(jobID string) {
	s.finishedOrder = append(s.finishedOrder, jobID)
	for len(s.finishedOrder) > finishedHistoryLimit {
		oldest := s.finishedOrder[0]
		s.finishedOrder = s.finishedOrder[1:]
		delete(s.states, oldest)
	}
}

func (s *Scheduler) notifyTerminal(job *Job, state JobState) {
	if s.onTerminal != nil {
		s.onTerminal(job, state)
	}
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
