package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/streamvault/backend/internal/errors"
)

func waitForStatus(t *testing.T, s *Scheduler, jobID string, want Status) JobState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, err := s.Status(jobID)
		if err != nil {
			t.Fatalf("status(%s): %v", jobID, err)
		}
		if state.Status == want {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, _ := s.Status(jobID)
	t.Fatalf("job %s never reached %s (currently %s)", jobID, want, state.Status)
	return JobState{}
}

func startScheduler(t *testing.T, s *Scheduler) context.CancelFunc {
	t.Helper()
	s.SetPollInterval(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
	return cancel
}

func TestScheduler_PriorityOrderFIFOWithinBand(t *testing.T) {
	var mu sync.Mutex
	var order []string

	runner := func(ctx context.Context, job *Job, onProgress func(float64)) (string, error) {
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		return "out", nil
	}

	s := NewScheduler(100, 1, runner, nil)

	// Priorities 1, 1, 5, 0, 1 submitted in this order.
	priorities := []int{1, 1, 5, 0, 1}
	ids := make([]string, len(priorities))
	for i, p := range priorities {
		id, err := s.Submit(&Job{Kind: KindVideo, URL: "https://example.com/v", Priority: p})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids[i] = id
	}

	startScheduler(t, s)

	for _, id := range ids {
		waitForStatus(t, s, id, StatusCompleted)
	}

	// Highest priority first, then the priority-1 band in submission order,
	// then priority 0.
	want := []string{ids[2], ids[0], ids[1], ids[4], ids[3]}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", order, want)
		}
	}
}

func TestScheduler_CapacityExceeded(t *testing.T) {
	block := make(chan struct{})
	runner := func(ctx context.Context, job *Job, onProgress func(float64)) (string, error) {
		<-block
		return "out", nil
	}

	s := NewScheduler(2, 1, runner, nil)

	for i := 0; i < 2; i++ {
		if _, err := s.Submit(&Job{Kind: KindVideo, URL: "u", Priority: 0}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	_, err := s.Submit(&Job{Kind: KindVideo, URL: "u", Priority: 0})
	if err == nil {
		t.Fatal("expected capacity rejection")
	}
	if apperrors.Code(err) != apperrors.CodeCapacityExceeded {
		t.Errorf("expected CAPACITY_EXCEEDED, got %s", apperrors.Code(err))
	}
	close(block)
}

func TestScheduler_MaxConcurrentBound(t *testing.T) {
	const maxConcurrent = 2

	var current, peak int64
	runner := func(ctx context.Context, job *Job, onProgress func(float64)) (string, error) {
		n := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return "out", nil
	}

	s := NewScheduler(100, maxConcurrent, runner, nil)
	startScheduler(t, s)

	ids := make([]string, 6)
	for i := range ids {
		id, err := s.Submit(&Job{Kind: KindAudio, URL: "u", Priority: 0})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids[i] = id
	}

	for _, id := range ids {
		waitForStatus(t, s, id, StatusCompleted)
	}

	if got := atomic.LoadInt64(&peak); got > maxConcurrent {
		t.Errorf("observed %d concurrent workers, bound is %d", got, maxConcurrent)
	}
}

func TestScheduler_CancelPending(t *testing.T) {
	block := make(chan struct{})
	var ran sync.Map
	runner := func(ctx context.Context, job *Job, onProgress func(float64)) (string, error) {
		ran.Store(job.ID, true)
		<-block
		return "out", nil
	}

	s := NewScheduler(100, 1, runner, nil)
	startScheduler(t, s)

	first, err := s.Submit(&Job{Kind: KindVideo, URL: "u", Priority: 0})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForStatus(t, s, first, StatusRunning)

	second, err := s.Submit(&Job{Kind: KindVideo, URL: "u", Priority: 0})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if !s.Cancel(second) {
		t.Fatal("cancel of a pending job should return true")
	}
	state := waitForStatus(t, s, second, StatusCancelled)
	if state.CompletedAt == nil {
		t.Error("cancelled job should have a completion time")
	}

	close(block)
	waitForStatus(t, s, first, StatusCompleted)

	if _, ok := ran.Load(second); ok {
		t.Error("cancelled pending job must never be dispatched")
	}
}

func TestScheduler_CancelRunning(t *testing.T) {
	started := make(chan struct{})
	runner := func(ctx context.Context, job *Job, onProgress func(float64)) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}

	s := NewScheduler(100, 1, runner, nil)
	startScheduler(t, s)

	id, err := s.Submit(&Job{Kind: KindVideo, URL: "u", Priority: 0})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	if !s.Cancel(id) {
		t.Fatal("cancel of a running job should return true")
	}
	waitForStatus(t, s, id, StatusCancelled)

	// Terminal: a second cancel must refuse.
	if s.Cancel(id) {
		t.Error("cancel of a terminal job should return false")
	}
}

func TestScheduler_FailureRecordedLoopSurvives(t *testing.T) {
	runner := func(ctx context.Context, job *Job, onProgress func(float64)) (string, error) {
		if job.URL == "bad" {
			return "", apperrors.DownloadError("upstream said no")
		}
		return "out", nil
	}

	s := NewScheduler(100, 1, runner, nil)
	startScheduler(t, s)

	bad, _ := s.Submit(&Job{Kind: KindVideo, URL: "bad", Priority: 5})
	good, _ := s.Submit(&Job{Kind: KindVideo, URL: "ok", Priority: 0})

	state := waitForStatus(t, s, bad, StatusFailed)
	if state.ErrorCode != apperrors.CodeDownloadError {
		t.Errorf("expected DOWNLOAD_ERROR, got %s", state.ErrorCode)
	}
	if state.Error == "" {
		t.Error("failure message should be preserved")
	}

	// The scheduler keeps dispatching after a failure.
	waitForStatus(t, s, good, StatusCompleted)
}

func TestScheduler_PanickingRunnerMarksFailed(t *testing.T) {
	runner := func(ctx context.Context, job *Job, onProgress func(float64)) (string, error) {
		panic("worker blew up")
	}

	s := NewScheduler(100, 1, runner, nil)
	startScheduler(t, s)

	id, _ := s.Submit(&Job{Kind: KindVideo, URL: "u", Priority: 0})
	state := waitForStatus(t, s, id, StatusFailed)
	if state.ErrorCode != apperrors.CodeInternalError {
		t.Errorf("expected INTERNAL_ERROR, got %s", state.ErrorCode)
	}
}

func TestScheduler_ProgressClampedAndTracked(t *testing.T) {
	runner := func(ctx context.Context, job *Job, onProgress func(float64)) (string, error) {
		onProgress(42)
		onProgress(250)
		return "out", nil
	}

	s := NewScheduler(100, 1, runner, nil)
	startScheduler(t, s)

	id, _ := s.Submit(&Job{Kind: KindVideo, URL: "u", Priority: 0})
	state := waitForStatus(t, s, id, StatusCompleted)
	if state.Progress != 100 {
		t.Errorf("completed job should report 100, got %f", state.Progress)
	}
}

func TestScheduler_StatusUnknownJob(t *testing.T) {
	s := NewScheduler(10, 1, nil, nil)
	_, err := s.Status("nope")
	if apperrors.Code(err) != apperrors.CodeJobNotFound {
		t.Errorf("expected JOB_NOT_FOUND, got %v", err)
	}
	if s.Cancel("nope") {
		t.Error("cancel of an unknown job should return false")
	}
}

func TestScheduler_RejectsUnknownKind(t *testing.T) {
	s := NewScheduler(10, 1, nil, nil)
	_, err := s.Submit(&Job{Kind: Kind("torrent"), URL: "u"})
	if apperrors.Code(err) != apperrors.CodeUnsupportedKind {
		t.Errorf("expected UNSUPPORTED_KIND, got %v", err)
	}
}

func TestScheduler_SnapshotCounts(t *testing.T) {
	block := make(chan struct{})
	runner := func(ctx context.Context, job *Job, onProgress func(float64)) (string, error) {
		<-block
		return "out", nil
	}

	s := NewScheduler(10, 1, runner, nil)
	startScheduler(t, s)

	running, _ := s.Submit(&Job{Kind: KindVideo, URL: "u", Priority: 0})
	waitForStatus(t, s, running, StatusRunning)
	s.Submit(&Job{Kind: KindVideo, URL: "u", Priority: 0})

	sum := s.Snapshot()
	if sum.Running != 1 || sum.Pending != 1 {
		t.Errorf("expected 1 running / 1 pending, got %+v", sum)
	}
	if sum.Capacity != 10 || sum.MaxConcurrent != 1 {
		t.Errorf("config counters wrong: %+v", sum)
	}
	close(block)
}

func TestScheduler_TerminalCallback(t *testing.T) {
	runner := func(ctx context.Context, job *Job, onProgress func(float64)) (string, error) {
		return fmt.Sprintf("out-%s", job.ID), nil
	}

	s := NewScheduler(10, 1, runner, nil)
	terminal := make(chan JobState, 1)
	s.OnTerminal(func(job *Job, state JobState) {
		terminal <- state
	})
	startScheduler(t, s)

	id, _ := s.Submit(&Job{Kind: KindVideo, URL: "u", Priority: 0})

	select {
	case state := <-terminal:
		if state.JobID != id || state.Status != StatusCompleted {
			t.Errorf("unexpected terminal state %+v", state)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("terminal callback never fired")
	}
}
