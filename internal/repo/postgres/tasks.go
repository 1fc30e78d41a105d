package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/droidhub-labs/droidhub-go/internal/domain"
	"github.com/droidhub-labs/droidhub-go/internal/repo"
)

type TaskStore struct {
	db DB
}

const (
	insertTaskQuery = `INSERT INTO tasks (
		run_id,
		name,
		annotation,
		settings,
		status,
		result,
		result_details,
		duration_ms
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	RETURNING id, run_id, name, annotation, settings, status, result, result_details, duration_ms`

	selectTaskQuery = `SELECT id, run_id, name, annotation, settings, status, result, result_details, duration_ms
	 FROM tasks
	 WHERE id = $1`

	listTasksByRunQuery = `SELECT id, run_id, name, annotation, settings, status, result, result_details, duration_ms
	 FROM tasks
	 WHERE run_id = $1
	 ORDER BY id ASC`

	runExistsQuery = `SELECT 1 FROM runs WHERE id = $1`

	updateTaskQuery = `UPDATE tasks
	 SET status = $2, result = $3, result_details = $4, duration_ms = $5
	 WHERE id = $1
	 RETURNING id, run_id, name, annotation, settings, status, result, result_details, duration_ms`
)

// SQLSTATE for a foreign key violation; the only way a task insert can miss
// its run.
const pgForeignKeyViolation = "23503"

func NewTaskStore(db DB) *TaskStore {
	if db == nil {
		return nil
	}
	return &TaskStore{db: db}
}

func (s *TaskStore) Create(ctx context.Context, runID int64, task domain.Task) (domain.Task, error) {
	if s == nil || s.db == nil {
		return domain.Task{}, fmt.Errorf("task store not initialized")
	}
	task.RunID = runID
	if task.Status == "" {
		task.Status = domain.TaskStatusInitialized
	}
	if err := task.Validate(); err != nil {
		return domain.Task{}, err
	}

	row := s.db.QueryRowContext(
		ctx,
		insertTaskQuery,
		runID,
		strings.TrimSpace(task.Name),
		nullIfEmpty(strings.TrimSpace(task.Annotation)),
		task.Settings.Ptr(),
		string(task.Status),
		nullIfEmpty(string(task.Result)),
		task.ResultDetails.Ptr(),
		task.DurationMs,
	)
	created, err := scanTask(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Task{}, repo.ErrNotFound
		}
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return created, nil
}

func (s *TaskStore) CreateBatch(ctx context.Context, runID int64, tasks []domain.Task) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("task store not initialized")
	}
	added := 0
	for _, task := range tasks {
		if _, err := s.Create(ctx, runID, task); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func (s *TaskStore) Get(ctx context.Context, id int64) (domain.Task, error) {
	if s == nil || s.db == nil {
		return domain.Task{}, fmt.Errorf("task store not initialized")
	}
	task, err := scanTask(s.db.QueryRowContext(ctx, selectTaskQuery, id))
	if err != nil {
		return domain.Task{}, handleNotFound(err)
	}
	return task, nil
}

func (s *TaskStore) ListByRun(ctx context.Context, runID int64) ([]domain.Task, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("task store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listTasksByRunQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		// Distinguish a missing run from one that has no tasks yet.
		var one int
		if err := s.db.QueryRowContext(ctx, runExistsQuery, runID).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, repo.ErrNotFound
			}
			return nil, fmt.Errorf("check run: %w", err)
		}
	}
	return tasks, nil
}

func (s *TaskStore) Patch(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	if s == nil || s.db == nil {
		return domain.Task{}, fmt.Errorf("task store not initialized")
	}
	task, err := s.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	patch.Apply(&task)

	row := s.db.QueryRowContext(
		ctx,
		updateTaskQuery,
		id,
		string(task.Status),
		nullIfEmpty(string(task.Result)),
		task.ResultDetails.Ptr(),
		task.DurationMs,
	)
	updated, err := scanTask(row)
	if err != nil {
		return domain.Task{}, handleNotFound(err)
	}
	return updated, nil
}

func (s *TaskStore) FailureCounts(ctx context.Context, window repo.FailureWindow) ([]repo.FailureCount, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("task store not initialized")
	}

	where := []string{"t.result = 'failed'"}
	args := make([]any, 0, 3)
	if !window.Before.IsZero() {
		args = append(args, window.Before.UTC())
		where = append(where, "r.creation < $"+strconv.Itoa(len(args)))
	}
	if !window.After.IsZero() {
		args = append(args, window.After.UTC())
		where = append(where, "r.creation >= $"+strconv.Itoa(len(args)))
	}

	query := `SELECT t.name, COUNT(*) AS fails
	 FROM tasks t
	 JOIN runs r ON r.id = t.run_id
	 WHERE ` + strings.Join(where, " AND ") + `
	 GROUP BY t.name
	 ORDER BY fails DESC, t.name ASC`
	if window.Limit > 0 {
		args = append(args, window.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failure counts: %w", err)
	}
	defer rows.Close()

	counts := make([]repo.FailureCount, 0)
	for rows.Next() {
		var fc repo.FailureCount
		if err := rows.Scan(&fc.Name, &fc.Count); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		counts = append(counts, fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failure counts: %w", err)
	}
	return counts, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		task          domain.Task
		annotation    sql.NullString
		settings      *string
		result        sql.NullString
		resultDetails *string
		duration      sql.NullInt64
	)
	err := row.Scan(
		&task.ID,
		&task.RunID,
		&task.Name,
		&annotation,
		&settings,
		&task.Status,
		&result,
		&resultDetails,
		&duration,
	)
	if err != nil {
		return domain.Task{}, err
	}
	task.Annotation = annotation.String
	task.Settings = domain.OpaqueFromPtr(settings)
	task.Result = domain.TaskResult(result.String)
	task.ResultDetails = domain.OpaqueFromPtr(resultDetails)
	if duration.Valid {
		task.DurationMs = &duration.Int64
	}
	return task, nil
}
