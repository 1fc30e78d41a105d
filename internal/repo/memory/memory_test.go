package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/droidhub-labs/droidhub-go/internal/domain"
	"github.com/droidhub-labs/droidhub-go/internal/repo"
)

func newTestRun(t *testing.T, s *Store) domain.Run {
	t.Helper()
	run, err := s.Create(context.Background(), domain.Run{
		Name:     "nightly",
		Owner:    "qa",
		Creation: time.Now().UTC(),
		Status:   domain.RunStatusInitialized,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return run
}

func addTask(t *testing.T, s *Store, runID int64, name string) domain.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), runID, domain.Task{
		RunID:  runID,
		Name:   name,
		Status: domain.TaskStatusInitialized,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return task
}

func TestCheckoutClaimsLowestIDFirst(t *testing.T) {
	s := NewStore()
	run := newTestRun(t, s)
	first := addTask(t, s, run.ID, "alpha")
	addTask(t, s, run.ID, "beta")

	claimed, err := s.CheckoutNext(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed.ID != first.ID {
		t.Fatalf("claimed id=%d, want %d", claimed.ID, first.ID)
	}
	if claimed.Status != domain.TaskStatusScheduled {
		t.Fatalf("status=%v, want scheduled", claimed.Status)
	}
}

func TestCheckoutMissingRun(t *testing.T) {
	s := NewStore()
	_, err := s.CheckoutNext(context.Background(), 42)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestCreateRunDefaultsCreation(t *testing.T) {
	s := NewStore()
	run, err := s.Create(context.Background(), domain.Run{
		Name:   "nightly",
		Owner:  "qa",
		Status: domain.RunStatusInitialized,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Creation.IsZero() {
		t.Fatalf("creation must default to now")
	}
	if run.Creation.Location() != time.UTC {
		t.Fatalf("creation must be UTC, got %v", run.Creation.Location())
	}
}

func TestListTasksMissingRun(t *testing.T) {
	s := NewStore()
	_, err := s.ListByRun(context.Background(), 55)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestListTasksEmptyRun(t *testing.T) {
	s := NewStore()
	run := newTestRun(t, s)
	tasks, err := s.ListByRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("len(tasks)=%d, want 0", len(tasks))
	}
}

func TestCheckoutExhaustedRun(t *testing.T) {
	s := NewStore()
	run := newTestRun(t, s)
	addTask(t, s, run.ID, "only")

	if _, err := s.CheckoutNext(context.Background(), run.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := s.CheckoutNext(context.Background(), run.ID)
	if !errors.Is(err, repo.ErrExhausted) {
		t.Fatalf("err=%v, want ErrExhausted", err)
	}
}

// Many concurrent claimants, fewer tasks: every task must be handed out
// exactly once and everyone else must see exhaustion.
func TestCheckoutConcurrentExclusivity(t *testing.T) {
	const tasks = 25
	const claimants = 100

	s := NewStore()
	run := newTestRun(t, s)
	for i := 0; i < tasks; i++ {
		addTask(t, s, run.ID, "case")
	}

	var wg sync.WaitGroup
	claims := make(chan int64, claimants)
	exhausted := make(chan struct{}, claimants)

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := s.CheckoutNext(context.Background(), run.ID)
			switch {
			case err == nil:
				claims <- task.ID
			case errors.Is(err, repo.ErrExhausted):
				exhausted <- struct{}{}
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(claims)
	close(exhausted)

	seen := make(map[int64]struct{})
	for id := range claims {
		if _, dup := seen[id]; dup {
			t.Fatalf("task %d claimed twice", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != tasks {
		t.Fatalf("claimed %d tasks, want %d", len(seen), tasks)
	}
	if got := len(exhausted); got != claimants-tasks {
		t.Fatalf("exhausted=%d, want %d", got, claimants-tasks)
	}
}

func TestDeleteRunCascadesToTasks(t *testing.T) {
	s := NewStore()
	run := newTestRun(t, s)
	task := addTask(t, s, run.ID, "orphan-to-be")

	removed, err := s.Delete(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !removed {
		t.Fatalf("expected removal")
	}

	if _, err := s.GetTask(context.Background(), task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound after cascade", err)
	}
}

func TestDeleteAbsentRun(t *testing.T) {
	s := NewStore()
	removed, err := s.Delete(context.Background(), 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed {
		t.Fatalf("expected no action for absent run")
	}
}

func TestListRunsWindowAndOwner(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.Create(context.Background(), domain.Run{
			Owner:    "qa",
			Creation: base.AddDate(0, 0, i),
			Status:   domain.RunStatusInitialized,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	_, err := s.Create(context.Background(), domain.Run{
		Owner:    "dev",
		Creation: base,
		Status:   domain.RunStatusInitialized,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runs, err := s.List(context.Background(), repo.RunFilter{
		Owner:  "qa",
		After:  base.AddDate(0, 0, 1),
		Before: base.AddDate(0, 0, 4),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if runs[i-1].Creation.Before(runs[i].Creation) {
			t.Fatalf("runs not ordered most recent first")
		}
	}
}

func TestPatchTask(t *testing.T) {
	s := NewStore()
	run := newTestRun(t, s)
	task := addTask(t, s, run.ID, "flaky")

	status := domain.TaskStatusCompleted
	result := domain.TaskResultFailed
	patched, err := s.Patch(context.Background(), task.ID, domain.TaskPatch{
		Status: &status,
		Result: &result,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if patched.Status != domain.TaskStatusCompleted || patched.Result != domain.TaskResultFailed {
		t.Fatalf("patched=%+v", patched)
	}
	if patched.Name != "flaky" {
		t.Fatalf("name changed: %q", patched.Name)
	}
}

func TestFailureCountsOrderedByCount(t *testing.T) {
	s := NewStore()
	run := newTestRun(t, s)

	fail := func(name string) {
		task := addTask(t, s, run.ID, name)
		status := domain.TaskStatusCompleted
		result := domain.TaskResultFailed
		if _, err := s.Patch(context.Background(), task.ID, domain.TaskPatch{Status: &status, Result: &result}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	fail("a")
	fail("b")
	fail("b")
	addTask(t, s, run.ID, "healthy")

	counts, err := s.FailureCounts(context.Background(), repo.FailureWindow{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("got %d rows, want 2", len(counts))
	}
	if counts[0].Name != "b" || counts[0].Count != 2 {
		t.Fatalf("top fail=%+v, want b x2", counts[0])
	}
}
