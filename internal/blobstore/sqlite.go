package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/medvied/mze/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS blobs (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	);
`

// SQLiteStore implements Storage on a SQLite database file. Put and Delete
// batches run in one transaction.
//
// Config: {"path": "<file>"}.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteStore returns an unbound SQLite engine.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

var _ Storage = (*SQLiteStore)(nil)

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) bind(db *sql.DB, path string) {
	s.mu.Lock()
	old := s.db
	s.db, s.path = db, path
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (s *SQLiteStore) bound() (*sql.DB, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, "", ErrNotInitialized
	}
	return s.db, s.path, nil
}

// Init opens an existing database file.
func (s *SQLiteStore) Init(ctx context.Context, cfg Config) error {
	path, err := cfg.String("path")
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("init %s: %w", path, ErrNoStore)
		}
		return fmt.Errorf("init %s: %w", path, err)
	}
	db, err := openSQLite(ctx, path)
	if err != nil {
		return err
	}
	s.bind(db, path)
	return nil
}

// Fini closes the database.
func (s *SQLiteStore) Fini(_ context.Context) error {
	s.mu.Lock()
	db := s.db
	s.db, s.path = nil, ""
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

// Create makes a new database file.
func (s *SQLiteStore) Create(ctx context.Context, cfg Config) error {
	path, err := cfg.String("path")
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("create %s: %w", path, ErrAlreadyExists)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := openSQLite(ctx, path)
	if err != nil {
		return err
	}
	s.bind(db, path)
	return nil
}

// Destroy removes the database and its WAL files once it holds no blobs.
func (s *SQLiteStore) Destroy(ctx context.Context) error {
	db, path, err := s.bound()
	if err != nil {
		return err
	}
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blobs").Scan(&count); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("destroy %s: %w", path, ErrNotEmpty)
	}
	if err := s.Fini(ctx); err != nil {
		return err
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("destroy %s: %w", p, err)
		}
	}
	return nil
}

// Get reads each blob into inline data.
func (s *SQLiteStore) Get(ctx context.Context, ids []models.BlobID) ([]*models.BlobData, error) {
	db, _, err := s.bound()
	if err != nil {
		return nil, err
	}
	out := make([]*models.BlobData, len(ids))
	for i, id := range ids {
		var b []byte
		err := db.QueryRowContext(ctx, "SELECT data FROM blobs WHERE id = ?", id.String()).Scan(&b)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get blob %s: %w", id, err)
		}
		data := models.InlineData(b)
		out[i] = &data
	}
	return out, nil
}

// Put stores the batch in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, entries []models.PutEntry) ([]models.IDInfo, error) {
	db, _, err := s.bound()
	if err != nil {
		return nil, err
	}
	if err := ValidatePut(entries); err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	out := make([]models.IDInfo, 0, len(entries))
	for i, e := range entries {
		id := resolveID(e)
		data, err := e.Data.Bytes()
		if err != nil {
			return nil, fmt.Errorf("put entry %d (%s): %w", i, id, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO blobs (id, data) VALUES (?, ?)", id.String(), data); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("put entry %d (%s): %w", i, id, ErrAlreadyExists)
			}
			return nil, fmt.Errorf("put entry %d (%s): %w", i, id, err)
		}
		out = append(out, models.IDInfo{ID: id, Info: &models.BlobInfo{Size: int64(len(data))}})
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Head returns the stored lengths.
func (s *SQLiteStore) Head(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	db, _, err := s.bound()
	if err != nil {
		return nil, err
	}
	return headSQL(ctx, db, ids)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func headSQL(ctx context.Context, q queryer, ids []models.BlobID) ([]*models.BlobInfo, error) {
	out := make([]*models.BlobInfo, len(ids))
	for i, id := range ids {
		var size int64
		err := q.QueryRowContext(ctx, "SELECT length(data) FROM blobs WHERE id = ?", id.String()).Scan(&size)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("head blob %s: %w", id, err)
		}
		out[i] = &models.BlobInfo{Size: size}
	}
	return out, nil
}

// Catalog lists every row. A row id that is not a canonical blob id is a
// consistency error.
func (s *SQLiteStore) Catalog(ctx context.Context) ([]models.IDInfo, error) {
	db, _, err := s.bound()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT id, length(data) FROM blobs")
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer rows.Close()

	out := []models.IDInfo{}
	for rows.Next() {
		var (
			name string
			size int64
		)
		if err := rows.Scan(&name, &size); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		id, err := models.ParseBlobID(name)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed id %q", ErrConsistency, name)
		}
		out = append(out, models.IDInfo{ID: id, Info: &models.BlobInfo{Size: size}})
	}
	return out, rows.Err()
}

// Delete removes the batch in one transaction.
func (s *SQLiteStore) Delete(ctx context.Context, ids []models.BlobID) ([]*models.BlobInfo, error) {
	db, _, err := s.bound()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Each entry sees the deletions of the entries before it, so a repeated
	// id reports its info once.
	out := make([]*models.BlobInfo, len(ids))
	for i, id := range ids {
		var size int64
		err := tx.QueryRowContext(ctx, "DELETE FROM blobs WHERE id = ? RETURNING length(data)", id.String()).Scan(&size)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("delete entry %d (%s): %w", i, id, err)
		}
		out[i] = &models.BlobInfo{Size: size}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// Fsck runs SQLite's integrity check and validates every row id.
func (s *SQLiteStore) Fsck(ctx context.Context) error {
	db, _, err := s.bound()
	if err != nil {
		return err
	}
	var findings Findings

	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("fsck: %w", err)
	}
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			rows.Close()
			return fmt.Errorf("fsck: %w", err)
		}
		if msg != "ok" {
			findings.Addf("integrity: %s", msg)
		}
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, "SELECT id FROM blobs")
	if err != nil {
		return fmt.Errorf("fsck: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("fsck: %w", err)
		}
		if _, err := models.ParseBlobID(name); err != nil {
			findings.Addf("malformed id %q", name)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("fsck: %w", err)
	}
	return findings.Err()
}
