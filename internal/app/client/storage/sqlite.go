package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"edudesk/internal/domain/action"
)

type SQLiteStorage struct {
	db     *sqlx.DB
	sealer Sealer
}

type Option func(*SQLiteStorage)

// WithSealer включает шифрование payload и тел действий на диске
func WithSealer(s Sealer) Option {
	return func(st *SQLiteStorage) {
		st.sealer = s
	}
}

func NewSQLiteStorage(path string, opts ...Option) (*SQLiteStorage, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}
	// Один писатель: порядок очереди не должен зависеть от пула соединений
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db}
	for _, opt := range opts {
		opt(storage)
	}

	if err := storage.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка инициализации таблиц: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			written_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS pending_actions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			body BLOB,
			requires_auth BOOLEAN NOT NULL DEFAULT 1,
			enqueued_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			cache_key TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS failed_actions (
			id TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			body BLOB,
			requires_auth BOOLEAN NOT NULL DEFAULT 1,
			enqueued_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			failed_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cache_written ON cache_entries(written_at);
	`)
	if err != nil {
		return err
	}

	// файлы прежних версий создавались без cache_key
	return s.ensureColumn("pending_actions", "cache_key", "TEXT NOT NULL DEFAULT ''")
}

func (s *SQLiteStorage) ensureColumn(table, column, definition string) error {
	var n int
	if err := s.db.Get(&n,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

type entryRow struct {
	Key       string `db:"key"`
	Payload   []byte `db:"payload"`
	WrittenAt int64  `db:"written_at"`
}

type actionRow struct {
	ID            string `db:"id"`
	Method        string `db:"method"`
	Path          string `db:"path"`
	Body          []byte `db:"body"`
	RequiresAuth  bool   `db:"requires_auth"`
	EnqueuedAt    int64  `db:"enqueued_at"`
	Attempts      int    `db:"attempts"`
	NextAttemptAt int64  `db:"next_attempt_at"`
	LastError     string `db:"last_error"`
	CacheKey      string `db:"cache_key"`
}

type failedRow struct {
	ID           string `db:"id"`
	Method       string `db:"method"`
	Path         string `db:"path"`
	Body         []byte `db:"body"`
	RequiresAuth bool   `db:"requires_auth"`
	EnqueuedAt   int64  `db:"enqueued_at"`
	Attempts     int    `db:"attempts"`
	LastError    string `db:"last_error"`
	Reason       string `db:"reason"`
	FailedAt     int64  `db:"failed_at"`
}

func (s *SQLiteStorage) GetEntry(ctx context.Context, key string) (*Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row,
		"SELECT key, payload, written_at FROM cache_entries WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записи кэша: %w", err)
	}

	return s.entryFromRow(row)
}

func (s *SQLiteStorage) PutEntry(ctx context.Context, e *Entry) error {
	payload, err := s.seal(e.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, payload, written_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, written_at = excluded.written_at
	`, e.Key, payload, e.WrittenAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи кэша: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) DeleteEntry(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("ошибка удаления записи кэша: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListEntries(ctx context.Context) ([]*Entry, error) {
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT key, payload, written_at FROM cache_entries ORDER BY key"); err != nil {
		return nil, fmt.Errorf("ошибка получения записей кэша: %w", err)
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		e, err := s.entryFromRow(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *SQLiteStorage) AppendAction(ctx context.Context, a *action.PendingAction) error {
	body, err := s.seal(a.Body)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_actions (id, method, path, body, requires_auth, enqueued_at,
		                             attempts, next_attempt_at, last_error, cache_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Method), a.Path, body, a.RequiresAuth, a.EnqueuedAt.UnixMilli(),
		a.Attempts, unixMilli(a.NextAttemptAt), a.LastError, a.CacheKey)
	if err != nil {
		return fmt.Errorf("ошибка сохранения действия: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) ListActions(ctx context.Context) ([]*action.PendingAction, error) {
	var rows []actionRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, method, path, body, requires_auth, enqueued_at, attempts, next_attempt_at, last_error, cache_key
		FROM pending_actions
		ORDER BY seq ASC
	`); err != nil {
		return nil, fmt.Errorf("ошибка получения очереди: %w", err)
	}

	actions := make([]*action.PendingAction, 0, len(rows))
	for _, row := range rows {
		body, err := s.open(row.Body)
		if err != nil {
			return nil, err
		}
		actions = append(actions, &action.PendingAction{
			ID:            row.ID,
			Method:        action.Method(row.Method),
			Path:          row.Path,
			Body:          body,
			RequiresAuth:  row.RequiresAuth,
			EnqueuedAt:    time.UnixMilli(row.EnqueuedAt),
			Attempts:      row.Attempts,
			NextAttemptAt: fromUnixMilli(row.NextAttemptAt),
			LastError:     row.LastError,
			CacheKey:      row.CacheKey,
		})
	}
	return actions, nil
}

func (s *SQLiteStorage) UpdateAction(ctx context.Context, a *action.PendingAction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions
		SET attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, a.Attempts, unixMilli(a.NextAttemptAt), a.LastError, a.ID)
	if err != nil {
		return fmt.Errorf("ошибка обновления действия: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteAction(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_actions WHERE id = ?", id); err != nil {
		return fmt.Errorf("ошибка удаления действия: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) MoveToFailed(ctx context.Context, f *action.FailedAction) error {
	body, err := s.seal(f.Body)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_actions WHERE id = ?", f.ID); err != nil {
		return fmt.Errorf("ошибка удаления действия: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO failed_actions (id, method, path, body, requires_auth, enqueued_at,
		                                       attempts, last_error, reason, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, string(f.Method), f.Path, body, f.RequiresAuth, f.EnqueuedAt.UnixMilli(),
		f.Attempts, f.LastError, f.Reason, f.FailedAt.UnixMilli()); err != nil {
		return fmt.Errorf("ошибка сохранения неудачного действия: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStorage) ListFailedActions(ctx context.Context) ([]*action.FailedAction, error) {
	var rows []failedRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, method, path, body, requires_auth, enqueued_at, attempts, last_error, reason, failed_at
		FROM failed_actions
		ORDER BY failed_at ASC
	`); err != nil {
		return nil, fmt.Errorf("ошибка получения неудачных действий: %w", err)
	}

	failed := make([]*action.FailedAction, 0, len(rows))
	for _, row := range rows {
		body, err := s.open(row.Body)
		if err != nil {
			return nil, err
		}
		failed = append(failed, &action.FailedAction{
			PendingAction: action.PendingAction{
				ID:           row.ID,
				Method:       action.Method(row.Method),
				Path:         row.Path,
				Body:         body,
				RequiresAuth: row.RequiresAuth,
				EnqueuedAt:   time.UnixMilli(row.EnqueuedAt),
				Attempts:     row.Attempts,
				LastError:    row.LastError,
			},
			Reason:   row.Reason,
			FailedAt: time.UnixMilli(row.FailedAt),
		})
	}
	return failed, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) entryFromRow(row entryRow) (*Entry, error) {
	payload, err := s.open(row.Payload)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Key:       row.Key,
		Payload:   payload,
		WrittenAt: time.UnixMilli(row.WrittenAt),
	}, nil
}

func (s *SQLiteStorage) seal(data []byte) ([]byte, error) {
	if s.sealer == nil || len(data) == 0 {
		return data, nil
	}
	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка шифрования данных: %w", err)
	}
	return sealed, nil
}

func (s *SQLiteStorage) open(data []byte) ([]byte, error) {
	if s.sealer == nil || len(data) == 0 {
		return data, nil
	}
	plain, err := s.sealer.Open(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка расшифровки данных: %w", err)
	}
	return plain, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
