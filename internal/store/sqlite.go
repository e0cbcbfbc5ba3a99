package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// MemoryDSN opens a private in-memory SQLite database.
const MemoryDSN = ":memory:"

// SQLiteStore keeps values in a single key/value table. Writes by other processes are
// noticed by polling PRAGMA data_version on a dedicated connection.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	memory bool
	opts   options

	mu     sync.RWMutex
	closed bool

	watch     *fanout
	watchOnce sync.Once
	watchErr  error
	watching  atomic.Bool
	stopPoll  context.CancelFunc
	pollDone  chan struct{}

	seenMu   sync.Mutex
	lastSeen map[string]any
}

// NewSQLiteStore opens or creates the database at path. Use MemoryDSN for a
// throwaway database.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	memory := path == MemoryDSN
	dsn := MemoryDSN
	if !memory {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db, path: path, memory: memory, opts: applyOptions(opts), watch: newFanout()}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`)
	return err
}

func (s *SQLiteStore) GetAll(ctx context.Context) (schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv")
	if err != nil {
		return nil, unavailable("query values", err)
	}
	defer rows.Close()
	return scanValues(rows)
}

func (s *SQLiteStore) Get(ctx context.Context, keys []string) (schema.Record, error) {
	if len(keys) == 0 {
		return schema.Record{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return nil, unavailable("query values", err)
	}
	defer rows.Close()
	return scanValues(rows)
}

func scanValues(rows *sql.Rows) (schema.Record, error) {
	out := make(schema.Record)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, unavailable("scan value", err)
		}
		v, err := decodeValue([]byte(raw))
		if err != nil {
			return nil, corrupt("decode "+key, err)
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate values", err)
	}
	return out, nil
}

// Set writes all values in one transaction.
func (s *SQLiteStore) Set(ctx context.Context, values schema.Record) error {
	encoded := make(map[string]string, len(values))
	for key, v := range values {
		data, err := encodeValue(key, v)
		if err != nil {
			return err
		}
		encoded[key] = string(data)
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		for key, data := range encoded {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, data, now,
			); err != nil {
				return fmt.Errorf("upsert %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, keys []string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return unavailable("write values", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Watch loads the current table as a baseline on first use and, for file-backed
// databases, starts polling for commits from other connections.
func (s *SQLiteStore) Watch(ctx context.Context) (<-chan []Change, error) {
	s.watchOnce.Do(func() { s.watchErr = s.startWatching() })
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	return s.watch.subscribe(ctx)
}

func (s *SQLiteStore) startWatching() error {
	if s.memory {
		return s.loadBaseline()
	}

	// The version is read before the baseline so that a commit landing between the
	// two shows up as a version change on the first poll.
	conn, err := s.db.Conn(context.Background())
	if err != nil {
		return unavailable("open poll connection", err)
	}
	initial, err := dataVersion(context.Background(), conn)
	if err != nil {
		_ = conn.Close()
		return unavailable("read data_version", err)
	}
	if err := s.loadBaseline(); err != nil {
		_ = conn.Close()
		return err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.stopPoll = cancel
	s.pollDone = make(chan struct{})
	done := s.pollDone
	s.mu.Unlock()
	go s.poll(pollCtx, conn, initial, done)
	return nil
}

func (s *SQLiteStore) loadBaseline() error {
	baseline, err := s.GetAll(context.Background())
	if err != nil {
		return err
	}
	s.seenMu.Lock()
	s.lastSeen = baseline
	s.seenMu.Unlock()
	s.watching.Store(true)
	return nil
}

func dataVersion(ctx context.Context, conn *sql.Conn) (int64, error) {
	var version int64
	err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&version)
	return version, err
}

func (s *SQLiteStore) poll(ctx context.Context, conn *sql.Conn, last int64, done chan struct{}) {
	defer close(done)
	defer func() { _ = conn.Close() }()

	ticker := time.NewTicker(s.opts.pollInterval)
	defer ticker.Stop()
	for {
		version, err := dataVersion(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.opts.logger.Warn("SQLite data_version poll failed", logfields.Path(s.path), logfields.Error(err))
		} else if version != last {
			s.refresh(ctx)
			last = version
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refresh publishes differences between the table and the last published view.
func (s *SQLiteStore) refresh(ctx context.Context) {
	if !s.watching.Load() {
		return
	}
	s.seenMu.Lock()
	defer s.seenMu.Unlock()

	next, err := s.GetAll(context.WithoutCancel(ctx))
	if err != nil {
		s.opts.logger.Warn("SQLite refresh failed", logfields.Path(s.path), logfields.Error(err))
		return
	}
	changes := diffSnapshots(s.lastSeen, next)
	s.lastSeen = next
	if len(changes) > 0 {
		s.opts.logger.Debug("SQLite store changed", logfields.Path(s.path), slog.Int("changes", len(changes)))
		s.watch.publish(changes)
	}
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stopPoll, s.pollDone
	s.mu.Unlock()

	s.watching.Store(false)
	s.watch.close()
	if stop != nil {
		stop()
		<-done
	}
	return s.db.Close()
}
