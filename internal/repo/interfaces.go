package repo

import (
	"context"
	"time"

	"github.com/droidhub-labs/droidhub-go/internal/domain"
)

// RunFilter narrows a run listing. The zero value lists everything, most
// recent first.
type RunFilter struct {
	Owner  string
	Before time.Time
	After  time.Time
	Limit  int
	Offset int
}

// FailureWindow bounds the failed-task aggregation by run creation time.
type FailureWindow struct {
	Before time.Time
	After  time.Time
	Limit  int
}

// FailureCount is one row of the top-fails aggregation: a task name and how
// often it failed inside the window.
type FailureCount struct {
	Name  string
	Count int64
}

// RunRepository owns Run entities. Delete cascades to the run's tasks.
type RunRepository interface {
	Create(ctx context.Context, run domain.Run) (domain.Run, error)
	Get(ctx context.Context, id int64) (domain.Run, error)
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	Update(ctx context.Context, id int64, update domain.RunUpdate) (domain.Run, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// TaskRepository owns Task entities scoped to a parent Run.
type TaskRepository interface {
	Create(ctx context.Context, runID int64, task domain.Task) (domain.Task, error)
	CreateBatch(ctx context.Context, runID int64, tasks []domain.Task) (int, error)
	Get(ctx context.Context, id int64) (domain.Task, error)
	ListByRun(ctx context.Context, runID int64) ([]domain.Task, error)
	Patch(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error)
	FailureCounts(ctx context.Context, window FailureWindow) ([]FailureCount, error)
}

// CheckoutCoordinator atomically claims the next unclaimed task of a run.
// Among the run's tasks in the initialized status the one with the lowest id
// is transitioned to scheduled and returned; no interleaving of concurrent
// calls may hand the same task to two callers. ErrExhausted reports that
// nothing is left to claim, ErrNotFound that the run does not exist.
type CheckoutCoordinator interface {
	CheckoutNext(ctx context.Context, runID int64) (domain.Task, error)
}
