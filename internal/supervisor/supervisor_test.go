package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/streamvault/backend/internal/errors"
)

func newTestSupervisor(timeout time.Duration) *Supervisor {
	guard := NewResourceGuard(0, nil) // disabled for most tests
	procs := NewProcessTable(200*time.Millisecond, nil)
	return New(guard, procs, timeout, 1024, nil)
}

func writeArtifact(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecute_Success(t *testing.T) {
	s := newTestSupervisor(time.Minute)
	path := writeArtifact(t, 4096)

	got, err := s.Execute(context.Background(), "job-1", func(ctx context.Context) (string, error) {
		return path, nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != path {
		t.Errorf("expected %s, got %s", path, got)
	}
}

func TestExecute_UndersizedOutputIsCorrupt(t *testing.T) {
	s := newTestSupervisor(time.Minute)
	path := writeArtifact(t, 500) // below the 1KB floor

	_, err := s.Execute(context.Background(), "job-2", func(ctx context.Context) (string, error) {
		return path, nil // extractor claims success
	})
	if err == nil {
		t.Fatal("expected corrupt-output failure")
	}
	if apperrors.Code(err) != apperrors.CodeCorruptOutput {
		t.Errorf("expected CORRUPT_OUTPUT, got %s", apperrors.Code(err))
	}
}

func TestExecute_MissingOutputIsCorrupt(t *testing.T) {
	s := newTestSupervisor(time.Minute)

	_, err := s.Execute(context.Background(), "job-3", func(ctx context.Context) (string, error) {
		return filepath.Join(t.TempDir(), "never-written.mp4"), nil
	})
	if apperrors.Code(err) != apperrors.CodeCorruptOutput {
		t.Errorf("expected CORRUPT_OUTPUT, got %v", err)
	}
}

func TestExecute_TimeoutTerminatesTrackedProcess(t *testing.T) {
	s := newTestSupervisor(100 * time.Millisecond)

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	s.Procs().Register("job-4", cmd)

	_, err := s.Execute(context.Background(), "job-4", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if apperrors.Code(err) != apperrors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}

	// No dangling handle may remain after the timeout path.
	if n := s.Procs().Count(); n != 0 {
		t.Errorf("expected empty process table, got %d entries", n)
	}
	_ = cmd.Wait()
	if cmd.ProcessState == nil || cmd.ProcessState.Success() {
		t.Error("helper process should have been terminated")
	}
}

func TestExecute_ParentCancellationIsNotTimeout(t *testing.T) {
	s := newTestSupervisor(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.Execute(ctx, "job-5", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if apperrors.Code(err) == apperrors.CodeTimeout {
		t.Error("caller cancellation must not be reported as a timeout")
	}
}

func TestExecute_TaskErrorPassesThrough(t *testing.T) {
	s := newTestSupervisor(time.Minute)

	_, err := s.Execute(context.Background(), "job-6", func(ctx context.Context) (string, error) {
		return "", apperrors.DownloadError("upstream broke")
	})
	if apperrors.Code(err) != apperrors.CodeDownloadError {
		t.Errorf("expected DOWNLOAD_ERROR, got %v", err)
	}
}

func TestResourceGuard_BlocksBelowFloor(t *testing.T) {
	// A floor far beyond physical memory must trip the guard.
	guard := NewResourceGuard(1<<30, nil) // ~1 exabyte in MB terms
	err := guard.Check(context.Background())
	if err == nil {
		t.Skip("memory probe unavailable on this platform, guard failed open")
	}
	if apperrors.Code(err) != apperrors.CodeResourceExhausted {
		t.Errorf("expected RESOURCE_EXHAUSTED, got %v", err)
	}
}

func TestResourceGuard_DisabledFloorPasses(t *testing.T) {
	guard := NewResourceGuard(0, nil)
	if err := guard.Check(context.Background()); err != nil {
		t.Errorf("disabled guard should always pass, got %v", err)
	}
}

func TestProcessTable_TerminateUnknownJob(t *testing.T) {
	procs := NewProcessTable(time.Second, nil)
	if procs.Terminate("missing") {
		t.Error("terminating an untracked job should return false")
	}
}

func TestProcessTable_ReapOrphansByAge(t *testing.T) {
	procs := NewProcessTable(200*time.Millisecond, nil)

	old := exec.Command("sleep", "60")
	if err := old.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	procs.Register("old-job", old)
	procs.procs["old-job"].startedAt = time.Now().Add(-2 * time.Hour)

	fresh := exec.Command("sleep", "60")
	if err := fresh.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	procs.Register("fresh-job", fresh)
	defer func() {
		procs.Terminate("fresh-job")
		_ = fresh.Wait()
	}()

	if reaped := procs.ReapOrphans(time.Hour); reaped != 1 {
		t.Errorf("expected 1 reaped process, got %d", reaped)
	}
	_ = old.Wait()

	if procs.Count() != 1 {
		t.Errorf("fresh process should survive the sweep, table has %d", procs.Count())
	}
}
