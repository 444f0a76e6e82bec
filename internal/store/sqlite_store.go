package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

// SQLiteChunkSize is the largest payload slice kept in one blob_chunks row.
// Reads and writes hold at most one chunk in memory.
const SQLiteChunkSize = 1 << 20

// SQLiteStore is a BlobStore that keeps object payloads in a single SQLite
// database file. Several containers may share one database.
//
// Each object is a row in blobs plus its payload split across blob_chunks.
// An overwrite inserts a new blobs row, so a reader that started on the old
// version fails instead of mixing chunks from both.
type SQLiteStore struct {
	db        *sql.DB
	container string
}

// migrate applies every embedded migration in file name order. Migrations
// run on every open and must be idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	for _, file := range files {
		stmts, err := migrationsFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		slog.Debug("Applying migration", "file", file)
		if _, err := db.ExecContext(ctx, string(stmts)); err != nil {
			return fmt.Errorf("apply %s: %w", file, err)
		}
	}
	return nil
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the
// schema.
func NewSQLiteStore(ctx context.Context, dbPath string, container string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite connection string must name a database file")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db, container: container}, nil
}

// inTx commits if fn succeeds and rolls back otherwise.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM blobs WHERE container = ? ORDER BY name`,
		s.container,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0, 64)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) ReadStream(ctx context.Context, name string) (io.ReadCloser, error) {
	var id, chunks int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chunks FROM blobs WHERE container = ? AND name = ?`,
		s.container, name,
	).Scan(&id, &chunks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &chunkReader{ctx: ctx, db: s.db, name: name, blobID: id, chunks: chunks}, nil
}

func (s *SQLiteStore) WriteFromLocalFile(ctx context.Context, name string, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.remove(ctx, tx, name); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO blobs(container, name, size, chunks, modified_at) VALUES(?, ?, 0, 0, ?)`,
			s.container, name, time.Now().UTC(),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		buf := make([]byte, SQLiteChunkSize)
		var size, seq int64
		for {
			n, readErr := io.ReadFull(f, buf)
			if n > 0 {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO blob_chunks(blob_id, seq, data) VALUES(?, ?, ?)`,
					id, seq, buf[:n],
				)
				if err != nil {
					return fmt.Errorf("write chunk %d: %w", seq, err)
				}
				seq++
				size += int64(n)
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				break
			}
			if readErr != nil {
				return fmt.Errorf("read %s: %w", localPath, readErr)
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE blobs SET size = ?, chunks = ? WHERE id = ?`,
			size, seq, id,
		)
		return err
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	var found bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		found, err = s.remove(ctx, tx, name)
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return nil
}

// remove deletes the named object and its chunks, reporting whether it
// existed.
func (s *SQLiteStore) remove(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM blobs WHERE container = ? AND name = ?`,
		s.container, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM blob_chunks WHERE blob_id = ?`, id); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// chunkReader fetches one chunk of a blob per query as the caller reads.
type chunkReader struct {
	ctx    context.Context
	db     *sql.DB
	name   string
	blobID int64
	chunks int64
	next   int64
	buf    []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.next >= r.chunks {
			return 0, io.EOF
		}
		var data []byte
		err := r.db.QueryRowContext(r.ctx,
			`SELECT data FROM blob_chunks WHERE blob_id = ? AND seq = ?`,
			r.blobID, r.next,
		).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%q changed while being read", r.name)
		}
		if err != nil {
			return 0, err
		}
		r.buf = data
		r.next++
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.buf = nil
	r.next = r.chunks
	return nil
}
