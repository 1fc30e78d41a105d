package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestListTasksQueryOrdersByID(t *testing.T) {
	if !strings.Contains(listTasksByRunQuery, "ORDER BY id ASC") {
		t.Fatalf("tasks must list in insertion order, got %s", listTasksByRunQuery)
	}
	if !strings.Contains(listTasksByRunQuery, "WHERE run_id = $1") {
		t.Fatalf("tasks must be scoped to the run, got %s", listTasksByRunQuery)
	}
}

func TestUpdateTaskQueryTouchesOnlyMutableColumns(t *testing.T) {
	for _, column := range []string{"name = ", "annotation = ", "settings = ", "run_id = "} {
		if strings.Contains(updateTaskQuery, column) {
			t.Fatalf("column %q must stay immutable, got %s", column, updateTaskQuery)
		}
	}
	for _, column := range []string{"status = ", "result = ", "result_details = ", "duration_ms = "} {
		if !strings.Contains(updateTaskQuery, column) {
			t.Fatalf("expected %q assignment in query, got %s", column, updateTaskQuery)
		}
	}
}

func TestRunExistsQueryTargetsRuns(t *testing.T) {
	if !strings.Contains(runExistsQuery, "FROM runs") || !strings.Contains(runExistsQuery, "id = $1") {
		t.Fatalf("empty listings must verify the run exists, got %s", runExistsQuery)
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	if !isForeignKeyViolation(&pgconn.PgError{Code: pgForeignKeyViolation}) {
		t.Fatalf("23503 must be recognized")
	}
	if isForeignKeyViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("unique violation is not a missing run")
	}
	if isForeignKeyViolation(errors.New("plain")) {
		t.Fatalf("non-pg errors are not fk violations")
	}
}

func TestSchemaCascadesTaskDeletion(t *testing.T) {
	if !strings.Contains(schemaDDL, "ON DELETE CASCADE") {
		t.Fatalf("tasks must not outlive their run")
	}
	if !strings.Contains(schemaDDL, "idx_tasks_run_status") {
		t.Fatalf("claim path needs the run/status index")
	}
}
