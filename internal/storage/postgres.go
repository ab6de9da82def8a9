package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/assistantd/assistantd/pkg/models"
)

// PostgresConfig holds connection pool settings for the postgres store.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgres opens a postgres-backed store set and verifies connectivity.
func NewPostgres(dsn string, config *PostgresConfig) (*Set, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresFromDB(db), nil
}

// NewPostgresFromDB wraps an existing connection. The caller keeps ownership
// of db unless the returned set's Close is used.
func NewPostgresFromDB(db *sql.DB) *Set {
	return &Set{
		Assistants: &pgAssistants{db},
		Threads:    &pgThreads{db},
		Messages:   &pgMessages{db},
		Runs:       &pgRuns{db},
		ToolCalls:  &pgToolCalls{db},
		Functions:  &pgFunctions{db},
		Files:      &pgFiles{db},
		Chunks:     &pgChunks{db},
		Steps:      &pgSteps{db},
		closer:     db.Close,
	}
}

type pgAssistants struct{ db *sql.DB }

func (s *pgAssistants) Create(ctx context.Context, a *models.Assistant) error {
	tools, err := json.Marshal(a.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	meta, err := marshalMeta(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assistants (id, owner_id, name, description, model, instructions, tools, file_ids, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, a.ID, a.OwnerID, a.Name, a.Description, a.Model, a.Instructions, tools, pq.Array(a.FileIDs), meta, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create assistant: %w", err)
	}
	return nil
}

func (s *pgAssistants) Get(ctx context.Context, id string) (*models.Assistant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, model, instructions, tools, file_ids, metadata, created_at
		FROM assistants WHERE id = $1
	`, id)
	a, err := scanAssistant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assistant: %w", err)
	}
	return a, nil
}

func (s *pgAssistants) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Assistant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, description, model, instructions, tools, file_ids, metadata, created_at
		FROM assistants
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, ownerID, nullLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}
	defer rows.Close()

	var out []*models.Assistant
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assistant: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *pgAssistants) Update(ctx context.Context, a *models.Assistant) error {
	tools, err := json.Marshal(a.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	meta, err := marshalMeta(a.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE assistants
		SET name = $2, description = $3, model = $4, instructions = $5, tools = $6, file_ids = $7, metadata = $8
		WHERE id = $1
	`, a.ID, a.Name, a.Description, a.Model, a.Instructions, tools, pq.Array(a.FileIDs), meta)
	if err != nil {
		return fmt.Errorf("update assistant: %w", err)
	}
	return requireRow(res)
}

func (s *pgAssistants) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assistants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete assistant: %w", err)
	}
	return requireRow(res)
}

type pgThreads struct{ db *sql.DB }

func (s *pgThreads) Create(ctx context.Context, t *models.Thread) error {
	meta, err := marshalMeta(t.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, owner_id, file_ids, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, t.ID, t.OwnerID, pq.Array(t.FileIDs), meta, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

func (s *pgThreads) Get(ctx context.Context, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, file_ids, metadata, created_at FROM threads WHERE id = $1
	`, id)
	t := &models.Thread{}
	var meta []byte
	err := row.Scan(&t.ID, &t.OwnerID, pq.Array(&t.FileIDs), &meta, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	if err := unmarshalMeta(meta, &t.Metadata); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *pgThreads) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return requireRow(res)
}

type pgMessages struct{ db *sql.DB }

func (s *pgMessages) Append(ctx context.Context, m *models.Message) error {
	return appendMessage(ctx, s.db, m)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// appendMessage inserts a message; seq is assigned by the messages_seq serial
// so append order is the commit order.
func appendMessage(ctx context.Context, q execQuerier, m *models.Message) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return err
	}
	err = q.QueryRowContext(ctx, `
		INSERT INTO messages (id, thread_id, role, content, assistant_id, run_id, file_ids, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING seq
	`, m.ID, m.ThreadID, string(m.Role), content, nullString(m.AssistantID), nullString(m.RunID),
		pq.Array(m.FileIDs), meta, m.CreatedAt).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *pgMessages) Get(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, role, content, assistant_id, run_id, file_ids, metadata, seq, created_at
		FROM messages WHERE id = $1
	`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *pgMessages) List(ctx context.Context, threadID string, limit, offset int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, assistant_id, run_id, file_ids, metadata, seq, created_at
		FROM messages WHERE thread_id = $1
		ORDER BY seq
		LIMIT $2 OFFSET $3
	`, threadID, nullLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type pgRuns struct{ db *sql.DB }

const runColumns = `id, thread_id, assistant_id, owner_id, status, required_action, last_error,
	model, instructions, tools, file_ids, metadata,
	created_at, expires_at, started_at, cancelled_at, failed_at, completed_at, version`

func (s *pgRuns) Create(ctx context.Context, r *models.Run) error {
	tools, err := json.Marshal(r.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	meta, err := marshalMeta(r.Metadata)
	if err != nil {
		return err
	}
	r.Version = 1
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, thread_id, assistant_id, owner_id, status, required_action, last_error,
			model, instructions, tools, file_ids, metadata,
			created_at, expires_at, started_at, cancelled_at, failed_at, completed_at, version)
		VALUES ($1,$2,$3,$4,$5,NULL,NULL,$6,$7,$8,$9,$10,$11,$12,0,0,0,0,1)
	`, r.ID, r.ThreadID, r.AssistantID, r.OwnerID, string(r.Status),
		r.Model, r.Instructions, tools, pq.Array(r.FileIDs), meta, r.CreatedAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *pgRuns) Get(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

func (s *pgRuns) List(ctx context.Context, threadID string, limit, offset int) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE thread_id = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, threadID, nullLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgRuns) Transition(ctx context.Context, runID string, fromVersion int64, mut RunMutation) (*models.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1 FOR UPDATE`, runID)
	current, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock run: %w", err)
	}
	if current.Version != fromVersion {
		return nil, ErrVersionConflict
	}
	// A mutation keeping the current non-terminal status commits rows without
	// moving the state machine; anything else must be a legal edge.
	sameStatus := mut.Status == current.Status && !current.Status.Terminal()
	if !sameStatus && !models.CanTransition(current.Status, mut.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, mut.Status)
	}

	next := cloneRun(current)
	next.Status = mut.Status
	next.Version = current.Version + 1
	if mut.RequiredAction != nil {
		next.RequiredAction = mut.RequiredAction
	}
	if mut.ClearRequiredAction {
		next.RequiredAction = nil
	}
	if mut.LastError != nil {
		next.LastError = mut.LastError
	}
	if mut.StartedAt != 0 {
		next.StartedAt = mut.StartedAt
	}
	if mut.CancelledAt != 0 {
		next.CancelledAt = mut.CancelledAt
	}
	if mut.FailedAt != 0 {
		next.FailedAt = mut.FailedAt
	}
	if mut.CompletedAt != 0 {
		next.CompletedAt = mut.CompletedAt
	}

	ra, err := marshalNullable(next.RequiredAction)
	if err != nil {
		return nil, err
	}
	le, err := marshalNullable(next.LastError)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET status = $2, required_action = $3, last_error = $4,
			started_at = $5, cancelled_at = $6, failed_at = $7, completed_at = $8,
			version = $9
		WHERE id = $1 AND version = $10
	`, runID, string(next.Status), ra, le,
		next.StartedAt, next.CancelledAt, next.FailedAt, next.CompletedAt,
		next.Version, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrVersionConflict
	}

	for _, tc := range mut.ToolCalls {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_calls (id, run_id, kind, name, arguments, output, created_at, resolved_at)
			VALUES ($1,$2,$3,$4,$5,NULL,$6,0)
		`, tc.ID, tc.RunID, string(tc.Kind), tc.Name, nullJSON(tc.Arguments), tc.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert tool call: %w", err)
		}
	}

	for _, out := range mut.ToolOutputs {
		res, err := tx.ExecContext(ctx, `
			UPDATE tool_calls SET output = $2, resolved_at = $3
			WHERE id = $1 AND run_id = $4 AND output IS NULL
		`, out.ToolCallID, out.Output, mut.Now, runID)
		if err != nil {
			return nil, fmt.Errorf("attach tool output: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("tool call %s: %w", out.ToolCallID, ErrAlreadyResolved)
		}
	}

	if mut.Message != nil {
		if err := appendMessage(ctx, tx, mut.Message); err != nil {
			return nil, err
		}
	}

	if mut.Step != nil {
		st := mut.Step
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_steps (id, run_id, thread_id, type, status, message_id, tool_call_ids, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, st.ID, st.RunID, st.ThreadID, string(st.Type), st.Status,
			nullString(st.MessageID), pq.Array(st.ToolCallIDs), st.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert run step: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return next, nil
}

func (s *pgRuns) ListOverdue(ctx context.Context, now int64, limit int) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE expires_at > 0 AND expires_at <= $1
			AND status IN ('queued','running','requires_action','cancelling')
		LIMIT $2
	`, now, nullLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list overdue runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type pgToolCalls struct{ db *sql.DB }

const toolCallColumns = `id, run_id, kind, name, arguments, output, created_at, resolved_at`

func (s *pgToolCalls) Get(ctx context.Context, id string) (*models.ToolCall, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+toolCallColumns+` FROM tool_calls WHERE id = $1`, id)
	tc, err := scanToolCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tool call: %w", err)
	}
	return tc, nil
}

func (s *pgToolCalls) ListByRun(ctx context.Context, runID string) ([]*models.ToolCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+toolCallColumns+` FROM tool_calls WHERE run_id = $1 ORDER BY created_at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()

	var out []*models.ToolCall
	for rows.Next() {
		tc, err := scanToolCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func (s *pgToolCalls) Resolve(ctx context.Context, id string, output string, resolvedAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_calls SET output = $2, resolved_at = $3 WHERE id = $1 AND output IS NULL
	`, id, output, resolvedAt)
	if err != nil {
		return fmt.Errorf("resolve tool call: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

type pgFunctions struct{ db *sql.DB }

func (s *pgFunctions) Create(ctx context.Context, fn *models.Function) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO functions (id, owner_id, name, description, parameters, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, fn.ID, fn.OwnerID, fn.Name, fn.Description, nullJSON(fn.Parameters), fn.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create function: %w", err)
	}
	return nil
}

func (s *pgFunctions) GetByName(ctx context.Context, ownerID, name string) (*models.Function, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, parameters, created_at
		FROM functions WHERE owner_id = $1 AND name = $2
	`, ownerID, name)
	fn := &models.Function{}
	var params []byte
	err := row.Scan(&fn.ID, &fn.OwnerID, &fn.Name, &fn.Description, &params, &fn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get function: %w", err)
	}
	fn.Parameters = params
	return fn, nil
}

func (s *pgFunctions) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Function, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, description, parameters, created_at
		FROM functions
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, ownerID, nullLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}
	defer rows.Close()

	var out []*models.Function
	for rows.Next() {
		fn := &models.Function{}
		var params []byte
		if err := rows.Scan(&fn.ID, &fn.OwnerID, &fn.Name, &fn.Description, &params, &fn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		fn.Parameters = params
		out = append(out, fn)
	}
	return out, rows.Err()
}

func (s *pgFunctions) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM functions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete function: %w", err)
	}
	return requireRow(res)
}

type pgFiles struct{ db *sql.DB }

func (s *pgFiles) Create(ctx context.Context, f *models.File) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, owner_id, filename, purpose, bytes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, f.ID, f.OwnerID, f.Filename, f.Purpose, f.Bytes, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

func (s *pgFiles) Get(ctx context.Context, id string) (*models.File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, filename, purpose, bytes, created_at FROM files WHERE id = $1
	`, id)
	f := &models.File{}
	err := row.Scan(&f.ID, &f.OwnerID, &f.Filename, &f.Purpose, &f.Bytes, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *pgFiles) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, filename, purpose, bytes, created_at
		FROM files
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, ownerID, nullLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []*models.File
	for rows.Next() {
		f := &models.File{}
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.Filename, &f.Purpose, &f.Bytes, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *pgFiles) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return requireRow(res)
}

type pgChunks struct{ db *sql.DB }

func (s *pgChunks) CreateBatch(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, file_id, sequence, start_offset, end_offset, text, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.FileID, c.Sequence, c.StartOffset, c.EndOffset, c.Text, c.CreatedAt); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk batch: %w", err)
	}
	return nil
}

func (s *pgChunks) ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, sequence, start_offset, end_offset, text, created_at
		FROM chunks WHERE file_id = $1 ORDER BY sequence
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []*models.Chunk
	for rows.Next() {
		c := &models.Chunk{}
		if err := rows.Scan(&c.ID, &c.FileID, &c.Sequence, &c.StartOffset, &c.EndOffset, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgChunks) DeleteByFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

type pgSteps struct{ db *sql.DB }

func (s *pgSteps) List(ctx context.Context, runID string) ([]*models.RunStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, thread_id, type, status, message_id, tool_call_ids, created_at
		FROM run_steps WHERE run_id = $1 ORDER BY created_at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}
	defer rows.Close()

	var out []*models.RunStep
	for rows.Next() {
		st := &models.RunStep{}
		var msgID sql.NullString
		var typ, status string
		if err := rows.Scan(&st.ID, &st.RunID, &st.ThreadID, &typ, &status, &msgID, pq.Array(&st.ToolCallIDs), &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run step: %w", err)
		}
		st.Type = models.RunStepType(typ)
		st.Status = status
		st.MessageID = msgID.String
		out = append(out, st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssistant(row rowScanner) (*models.Assistant, error) {
	a := &models.Assistant{}
	var tools, meta []byte
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Description, &a.Model, &a.Instructions,
		&tools, pq.Array(&a.FileIDs), &meta, &a.CreatedAt); err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		if err := json.Unmarshal(tools, &a.Tools); err != nil {
			return nil, fmt.Errorf("unmarshal tools: %w", err)
		}
	}
	if err := unmarshalMeta(meta, &a.Metadata); err != nil {
		return nil, err
	}
	return a, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	var content, meta []byte
	var role string
	var assistantID, runID sql.NullString
	if err := row.Scan(&m.ID, &m.ThreadID, &role, &content, &assistantID, &runID,
		pq.Array(&m.FileIDs), &meta, &m.Seq, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = models.Role(role)
	m.AssistantID = assistantID.String
	m.RunID = runID.String
	if len(content) > 0 {
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
	}
	if err := unmarshalMeta(meta, &m.Metadata); err != nil {
		return nil, err
	}
	return m, nil
}

func scanRun(row rowScanner) (*models.Run, error) {
	r := &models.Run{}
	var status string
	var ra, le, tools, meta []byte
	if err := row.Scan(&r.ID, &r.ThreadID, &r.AssistantID, &r.OwnerID, &status, &ra, &le,
		&r.Model, &r.Instructions, &tools, pq.Array(&r.FileIDs), &meta,
		&r.CreatedAt, &r.ExpiresAt, &r.StartedAt, &r.CancelledAt, &r.FailedAt, &r.CompletedAt,
		&r.Version); err != nil {
		return nil, err
	}
	r.Status = models.RunStatus(status)
	if len(ra) > 0 {
		r.RequiredAction = &models.RequiredAction{}
		if err := json.Unmarshal(ra, r.RequiredAction); err != nil {
			return nil, fmt.Errorf("unmarshal required_action: %w", err)
		}
	}
	if len(le) > 0 {
		r.LastError = &models.RunError{}
		if err := json.Unmarshal(le, r.LastError); err != nil {
			return nil, fmt.Errorf("unmarshal last_error: %w", err)
		}
	}
	if len(tools) > 0 {
		if err := json.Unmarshal(tools, &r.Tools); err != nil {
			return nil, fmt.Errorf("unmarshal tools: %w", err)
		}
	}
	if err := unmarshalMeta(meta, &r.Metadata); err != nil {
		return nil, err
	}
	return r, nil
}

func scanToolCall(row rowScanner) (*models.ToolCall, error) {
	tc := &models.ToolCall{}
	var kind string
	var args []byte
	var output sql.NullString
	if err := row.Scan(&tc.ID, &tc.RunID, &kind, &tc.Name, &args, &output, &tc.CreatedAt, &tc.ResolvedAt); err != nil {
		return nil, err
	}
	tc.Kind = models.ToolKind(kind)
	tc.Arguments = args
	if output.Valid {
		v := output.String
		tc.Output = &v
	}
	return tc, nil
}

func marshalMeta(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMeta(data []byte, dst *map[string]string) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	return nil
}

func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *models.RequiredAction:
		if val == nil {
			return nil, nil
		}
	case *models.RunError:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return data, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return data
}

// nullLimit maps "no limit" to NULL so LIMIT NULL returns everything.
func nullLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
