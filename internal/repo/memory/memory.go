// Package memory is a process-local backend behind the same repository
// interfaces as postgres. It backs STORE_BACKEND=memory for development and
// the handler and concurrency tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/droidhub-labs/droidhub-go/internal/domain"
	"github.com/droidhub-labs/droidhub-go/internal/repo"
)

type Store struct {
	mu         sync.Mutex
	runs       map[int64]domain.Run
	tasks      map[int64]domain.Task
	nextRunID  int64
	nextTaskID int64
}

func NewStore() *Store {
	return &Store{
		runs:  make(map[int64]domain.Run),
		tasks: make(map[int64]domain.Task),
	}
}

// Runs exposes the store as a repo.RunRepository.
func (s *Store) Runs() repo.RunRepository { return runRepo{s} }

// Tasks exposes the store as a repo.TaskRepository.
func (s *Store) Tasks() repo.TaskRepository { return taskRepo{s} }

type runRepo struct{ s *Store }

func (r runRepo) Create(ctx context.Context, run domain.Run) (domain.Run, error) {
	return r.s.Create(ctx, run)
}

func (r runRepo) Get(ctx context.Context, id int64) (domain.Run, error) { return r.s.Get(ctx, id) }

func (r runRepo) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	return r.s.List(ctx, filter)
}

func (r runRepo) Update(ctx context.Context, id int64, update domain.RunUpdate) (domain.Run, error) {
	return r.s.Update(ctx, id, update)
}

func (r runRepo) Delete(ctx context.Context, id int64) (bool, error) { return r.s.Delete(ctx, id) }

type taskRepo struct{ s *Store }

func (t taskRepo) Create(ctx context.Context, runID int64, task domain.Task) (domain.Task, error) {
	return t.s.CreateTask(ctx, runID, task)
}

func (t taskRepo) CreateBatch(ctx context.Context, runID int64, tasks []domain.Task) (int, error) {
	return t.s.CreateBatch(ctx, runID, tasks)
}

func (t taskRepo) Get(ctx context.Context, id int64) (domain.Task, error) {
	return t.s.GetTask(ctx, id)
}

func (t taskRepo) ListByRun(ctx context.Context, runID int64) ([]domain.Task, error) {
	return t.s.ListByRun(ctx, runID)
}

func (t taskRepo) Patch(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	return t.s.Patch(ctx, id, patch)
}

func (t taskRepo) FailureCounts(ctx context.Context, window repo.FailureWindow) ([]repo.FailureCount, error) {
	return t.s.FailureCounts(ctx, window)
}

func (s *Store) Create(ctx context.Context, run domain.Run) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Creation.IsZero() {
		run.Creation = time.Now()
	}
	run.Creation = run.Creation.UTC()
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}
	s.nextRunID++
	run.ID = s.nextRunID
	s.runs[run.ID] = run
	return run, nil
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (s *Store) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if strings.TrimSpace(filter.Owner) != "" && run.Owner != strings.TrimSpace(filter.Owner) {
			continue
		}
		if !filter.Before.IsZero() && !run.Creation.Before(filter.Before) {
			continue
		}
		if !filter.After.IsZero() && run.Creation.Before(filter.After) {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Creation.Equal(runs[j].Creation) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].Creation.After(runs[j].Creation)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(runs) {
			return []domain.Run{}, nil
		}
		runs = runs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(runs) {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (s *Store) Update(ctx context.Context, id int64, update domain.RunUpdate) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	update.Apply(&run)
	s.runs[id] = run
	return run, nil
}

func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return false, nil
	}
	delete(s.runs, id)
	for taskID, task := range s.tasks {
		if task.RunID == id {
			delete(s.tasks, taskID)
		}
	}
	return true, nil
}

func (s *Store) CreateTask(ctx context.Context, runID int64, task domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTaskLocked(runID, task)
}

func (s *Store) CreateBatch(ctx context.Context, runID int64, tasks []domain.Task) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, task := range tasks {
		if _, err := s.createTaskLocked(runID, task); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func (s *Store) createTaskLocked(runID int64, task domain.Task) (domain.Task, error) {
	if _, ok := s.runs[runID]; !ok {
		return domain.Task{}, repo.ErrNotFound
	}
	task.RunID = runID
	if task.Status == "" {
		task.Status = domain.TaskStatusInitialized
	}
	if err := task.Validate(); err != nil {
		return domain.Task{}, err
	}
	s.nextTaskID++
	task.ID = s.nextTaskID
	s.tasks[task.ID] = task
	return task, nil
}

func (s *Store) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, repo.ErrNotFound
	}
	return task, nil
}

func (s *Store) ListByRun(ctx context.Context, runID int64) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, repo.ErrNotFound
	}

	tasks := make([]domain.Task, 0)
	for _, task := range s.tasks {
		if task.RunID == runID {
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (s *Store) Patch(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, repo.ErrNotFound
	}
	patch.Apply(&task)
	s.tasks[id] = task
	return task, nil
}

func (s *Store) FailureCounts(ctx context.Context, window repo.FailureWindow) ([]repo.FailureCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := make(map[string]int64)
	for _, task := range s.tasks {
		if task.Result != domain.TaskResultFailed {
			continue
		}
		run, ok := s.runs[task.RunID]
		if !ok {
			continue
		}
		if !window.Before.IsZero() && !run.Creation.Before(window.Before) {
			continue
		}
		if !window.After.IsZero() && run.Creation.Before(window.After) {
			continue
		}
		byName[task.Name]++
	}

	counts := make([]repo.FailureCount, 0, len(byName))
	for name, count := range byName {
		counts = append(counts, repo.FailureCount{Name: name, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count == counts[j].Count {
			return counts[i].Name < counts[j].Name
		}
		return counts[i].Count > counts[j].Count
	})
	if window.Limit > 0 && window.Limit < len(counts) {
		counts = counts[:window.Limit]
	}
	return counts, nil
}

// CheckoutNext claims the lowest-id initialized task under the store lock, so
// the select-and-transition is one indivisible step for every caller sharing
// this process.
func (s *Store) CheckoutNext(ctx context.Context, runID int64) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return domain.Task{}, repo.ErrNotFound
	}

	var candidate *domain.Task
	for id, task := range s.tasks {
		if task.RunID != runID || task.Status != domain.TaskStatusInitialized {
			continue
		}
		if candidate == nil || id < candidate.ID {
			claimed := task
			candidate = &claimed
		}
	}
	if candidate == nil {
		return domain.Task{}, repo.ErrExhausted
	}
	candidate.Status = domain.TaskStatusScheduled
	s.tasks[candidate.ID] = *candidate
	return *candidate, nil
}
