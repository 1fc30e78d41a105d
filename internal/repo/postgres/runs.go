package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/droidhub-labs/droidhub-go/internal/domain"
	"github.com/droidhub-labs/droidhub-go/internal/repo"
)

type RunStore struct {
	db DB
}

const (
	insertRunQuery = `INSERT INTO runs (
		name,
		owner,
		settings,
		details,
		creation,
		status
	) VALUES ($1,$2,$3,$4,$5,$6)
	RETURNING id, name, owner, settings, details, creation, status`

	selectRunQuery = `SELECT id, name, owner, settings, details, creation, status
	 FROM runs
	 WHERE id = $1`

	updateRunQuery = `UPDATE runs
	 SET name = $2, owner = $3, details = $4, status = $5
	 WHERE id = $1
	 RETURNING id, name, owner, settings, details, creation, status`

	deleteRunQuery = `DELETE FROM runs WHERE id = $1`
)

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	run.Creation = normalizeTime(run.Creation)
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}

	row := s.db.QueryRowContext(
		ctx,
		insertRunQuery,
		nullIfEmpty(strings.TrimSpace(run.Name)),
		nullIfEmpty(strings.TrimSpace(run.Owner)),
		run.Settings.Ptr(),
		run.Details.Ptr(),
		run.Creation,
		string(run.Status),
	)
	created, err := scanRun(row)
	if err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return created, nil
}

func (s *RunStore) Get(ctx context.Context, id int64) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunQuery, id))
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if strings.TrimSpace(filter.Owner) != "" {
		args = append(args, strings.TrimSpace(filter.Owner))
		where = append(where, "owner = $"+strconv.Itoa(len(args)))
	}
	if !filter.Before.IsZero() {
		args = append(args, filter.Before.UTC())
		where = append(where, "creation < $"+strconv.Itoa(len(args)))
	}
	if !filter.After.IsZero() {
		args = append(args, filter.After.UTC())
		where = append(where, "creation >= $"+strconv.Itoa(len(args)))
	}

	query := `SELECT id, name, owner, settings, details, creation, status FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY creation DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0, filter.Limit)
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) Update(ctx context.Context, id int64, update domain.RunUpdate) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	run, err := s.Get(ctx, id)
	if err != nil {
		return domain.Run{}, err
	}
	update.Apply(&run)

	row := s.db.QueryRowContext(
		ctx,
		updateRunQuery,
		id,
		nullIfEmpty(run.Name),
		nullIfEmpty(run.Owner),
		run.Details.Ptr(),
		string(run.Status),
	)
	updated, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return updated, nil
}

func (s *RunStore) Delete(ctx context.Context, id int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("run store not initialized")
	}
	result, err := s.db.ExecContext(ctx, deleteRunQuery, id)
	if err != nil {
		return false, fmt.Errorf("delete run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete run: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	return scanRunRow(row)
}

func scanRunRow(row rowScanner) (domain.Run, error) {
	var (
		run      domain.Run
		name     sql.NullString
		owner    sql.NullString
		settings *string
		details  *string
		status   sql.NullString
	)
	if err := row.Scan(&run.ID, &name, &owner, &settings, &details, &run.Creation, &status); err != nil {
		return domain.Run{}, err
	}
	run.Name = name.String
	run.Owner = owner.String
	run.Settings = domain.OpaqueFromPtr(settings)
	run.Details = domain.OpaqueFromPtr(details)
	run.Status = domain.RunStatus(status.String)
	run.Creation = run.Creation.UTC()
	return run, nil
}
