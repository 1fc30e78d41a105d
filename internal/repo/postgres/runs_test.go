package postgres

import (
	"strings"
	"testing"
)

func TestRunQueriesShareColumnList(t *testing.T) {
	const columns = "id, name, owner, settings, details, creation, status"
	for _, query := range []string{insertRunQuery, selectRunQuery, updateRunQuery} {
		if !strings.Contains(query, columns) {
			t.Fatalf("expected column list in query, got %s", query)
		}
	}
}

func TestUpdateRunQueryKeepsSettingsFrozen(t *testing.T) {
	if strings.Contains(updateRunQuery, "settings = ") {
		t.Fatalf("run settings must never be updated, got %s", updateRunQuery)
	}
	for _, column := range []string{"name = ", "owner = ", "details = ", "status = "} {
		if !strings.Contains(updateRunQuery, column) {
			t.Fatalf("expected %q assignment in query, got %s", column, updateRunQuery)
		}
	}
}

func TestDeleteRunQueryTargetsSingleRow(t *testing.T) {
	if !strings.Contains(deleteRunQuery, "WHERE id = $1") {
		t.Fatalf("delete must target one run, got %s", deleteRunQuery)
	}
}

func TestNullIfEmpty(t *testing.T) {
	if ns := nullIfEmpty(""); ns.Valid {
		t.Fatalf("empty string must map to NULL")
	}
	ns := nullIfEmpty("qa")
	if !ns.Valid || ns.String != "qa" {
		t.Fatalf("ns=%+v, want qa", ns)
	}
}
