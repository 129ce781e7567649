// Package sqlitequeue provides a durable ChunkQueue stored in a SQLite file.
// All devices share one table; rows of a device are ordered by seq.
package sqlitequeue

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bft-labs/chunkship/internal/domain"
	"github.com/bft-labs/chunkship/internal/ports"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// opTimeout bounds every statement; the queue interface carries no context.
const opTimeout = 10 * time.Second

// Store owns the database and the per-device queues.
type Store struct {
	db        *sql.DB
	maxChunks int

	mu     sync.Mutex
	queues map[string]*Queue
}

// Open opens (or creates) the database file at path. maxChunks bounds every
// device queue; zero is unbounded.
func Open(path string, maxChunks int) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, maxChunks: maxChunks, queues: make(map[string]*Queue)}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// QueueFor returns the queue of deviceID, counting its rows on first use.
func (s *Store) QueueFor(deviceID string) (ports.ChunkQueue, error) {
	if deviceID == "" {
		return nil, domain.ErrInvalidDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[deviceID]; ok {
		return q, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	q := &Queue{db: s.db, device: deviceID, maxChunks: s.maxChunks}
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE device = ?`, deviceID).Scan(&q.count)
	if err != nil {
		return nil, fmt.Errorf("count chunks of %s: %w", deviceID, err)
	}
	s.queues[deviceID] = q
	return q, nil
}

// Devices lists the devices that have undelivered chunks, sorted.
func (s *Store) Devices() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT device FROM chunks ORDER BY device`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Queue is the durable FIFO of one device. The row count is cached under mu,
// which also serializes writes for the device.
type Queue struct {
	db        *sql.DB
	device    string
	maxChunks int

	mu    sync.Mutex
	count int
}

// Count returns the number of queued chunks.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Add inserts chunks in one transaction.
func (q *Queue) Add(chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxChunks > 0 && q.count+len(chunks) > q.maxChunks {
		return domain.ErrQueueFull
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks(device, data) VALUES(?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		// A nil slice binds as NULL; store it as an empty blob like the other queues.
		if c == nil {
			c = domain.Chunk{}
		}
		if _, err := stmt.ExecContext(ctx, q.device, []byte(c)); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	q.count += len(chunks)
	return nil
}

// Peek returns up to n chunks from the head without removing them.
func (q *Queue) Peek(n int) ([]domain.Chunk, error) {
	if n <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := q.db.QueryContext(ctx,
		`SELECT data FROM chunks WHERE device = ? ORDER BY seq LIMIT ?`, q.device, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// Drop deletes up to n chunks from the head.
func (q *Queue) Drop(n int) error {
	if n <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := q.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE seq IN (
			SELECT seq FROM chunks WHERE device = ? ORDER BY seq LIMIT ?
		)`, q.device, n)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	q.count -= int(deleted)
	return nil
}
