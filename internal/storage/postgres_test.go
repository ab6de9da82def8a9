package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGResolveAlreadyResolved(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// The guarded UPDATE matches no rows, then the existence check finds the
	// call, so the error is ErrAlreadyResolved rather than ErrNotFound.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tool_calls SET output = $2, resolved_at = $3 WHERE id = $1 AND output IS NULL`)).
		WithArgs("call_1", "out", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, run_id, kind, name, arguments, output, created_at, resolved_at FROM tool_calls").
		WithArgs("call_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_id", "kind", "name", "arguments", "output", "created_at", "resolved_at"}).
			AddRow("call_1", "run_1", "function", "f", nil, "prior", int64(1), int64(2)))

	store := &pgToolCalls{db}
	if err := store.Resolve(context.Background(), "call_1", "out", 5); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGResolveNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tool_calls SET output = $2, resolved_at = $3 WHERE id = $1 AND output IS NULL`)).
		WithArgs("missing", "out", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, run_id, kind, name, arguments, output, created_at, resolved_at FROM tool_calls").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := &pgToolCalls{db}
	if err := store.Resolve(context.Background(), "missing", "out", 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPGTransitionVersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cols := []string{"id", "thread_id", "assistant_id", "owner_id", "status", "required_action", "last_error",
		"model", "instructions", "tools", "file_ids", "metadata",
		"created_at", "expires_at", "started_at", "cancelled_at", "failed_at", "completed_at", "version"}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM runs WHERE id = \\$1 FOR UPDATE").
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("run_1", "thread_1", "asst_1", "owner", "running", nil, nil,
				"gpt-4", "", nil, "{}", nil,
				int64(1), int64(0), int64(2), int64(0), int64(0), int64(0), int64(7)))
	mock.ExpectRollback()

	store := &pgRuns{db}
	_, err = store.Transition(context.Background(), "run_1", 6, RunMutation{Status: "completed"})
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
