package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"remedy/internal/logging"
)

// ErrPatchNotFound is returned when a patch reference has no stored body.
var ErrPatchNotFound = errors.New("patch body not found")

// BodyStore resolves a record's PatchRef to the unified diff text.
type BodyStore interface {
	Get(ctx context.Context, ref string) (string, error)
	Close() error
}

// FSBodyStore keeps one patch file per reference under a directory.
type FSBodyStore struct {
	Dir string
}

// NewFSBodyStore returns a store rooted at dir.
func NewFSBodyStore(dir string) *FSBodyStore {
	return &FSBodyStore{Dir: dir}
}

// Get implements BodyStore. References resolve to files named <ref>.patch,
// falling back to the bare reference name.
func (s *FSBodyStore) Get(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, name := range []string{ref + ".patch", ref} {
		raw, err := os.ReadFile(filepath.Join(s.Dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("patch %s: %w", ref, err)
		}
		body := string(raw)
		if err := ValidatePatchBody(ref, body); err != nil {
			return "", err
		}
		return body, nil
	}
	return "", fmt.Errorf("patch %s: %w", ref, ErrPatchNotFound)
}

func (s *FSBodyStore) Close() error { return nil }

// SQLiteBodyStore reads patch bodies from a sqlite database with a
// patches(ref, body) table. The connection opens lazily on first use.
type SQLiteBodyStore struct {
	Path string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteBodyStore returns a store backed by the database at path.
func NewSQLiteBodyStore(path string) *SQLiteBodyStore {
	return &SQLiteBodyStore{Path: path}
}

func (s *SQLiteBodyStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return nil, fmt.Errorf("open patch store %s: %w", s.Path, err)
	}
	s.db = db
	logging.StoreDebug("opened sqlite patch store %s", s.Path)
	return db, nil
}

// Get implements BodyStore.
func (s *SQLiteBodyStore) Get(ctx context.Context, ref string) (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}
	var body string
	err = db.QueryRowContext(ctx, `SELECT body FROM patches WHERE ref = ?`, ref).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("patch %s: %w", ref, ErrPatchNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("patch %s: %w", ref, err)
	}
	if err := ValidatePatchBody(ref, body); err != nil {
		return "", err
	}
	return body, nil
}

// Close releases the database handle if one was opened.
func (s *SQLiteBodyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// OpenBodyStore picks a store implementation from the path: a .db or
// .sqlite file opens as sqlite, anything else is treated as a directory of
// patch files.
func OpenBodyStore(path string) BodyStore {
	switch filepath.Ext(path) {
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLiteBodyStore(path)
	default:
		return NewFSBodyStore(path)
	}
}
