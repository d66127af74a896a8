package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"coursekeeper.ai/internal/persistence/store"
)

// SQLiteIndex is a queryable read model of store writes. The snapshot
// files stay the source of truth; events that do not fit the queue are
// dropped.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqPersist reqKind = iota + 1
	reqArchive
)

type req struct {
	kind reqKind

	persist store.PersistEvent
	archive store.ArchiveEvent
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS persists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			dx INTEGER NOT NULL,
			dy INTEGER NOT NULL,
			dz INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			replaced INTEGER NOT NULL,
			archived INTEGER NOT NULL,
			persisted_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_persists_name ON persists(name, id);`,
		`CREATE TABLE IF NOT EXISTS archives (
			path TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			source_path TEXT NOT NULL,
			digest TEXT NOT NULL,
			archived_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_archives_name ON archives(name, archived_at);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued events, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) SnapshotPersisted(ev store.PersistEvent) {
	s.enqueue(req{kind: reqPersist, persist: ev})
}

func (s *SQLiteIndex) SnapshotArchived(ev store.ArchiveEvent) {
	s.enqueue(req{kind: reqArchive, archive: ev})
}

type PersistRow struct {
	ID          int64
	Name        string
	Path        string
	Digest      string
	Bytes       int
	Dims        [3]int
	Entities    int
	Replaced    bool
	Archived    bool
	PersistedAt string
}

type ArchiveRow struct {
	Path       string
	Name       string
	SourcePath string
	Digest     string
	ArchivedAt string
}

// Persists returns the most recent persist rows of name, newest first.
func (s *SQLiteIndex) Persists(ctx context.Context, name string, limit int) ([]PersistRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,name,path,digest,bytes,dx,dy,dz,entities,replaced,archived,persisted_at
		FROM persists WHERE name=? ORDER BY id DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PersistRow
	for rows.Next() {
		var r PersistRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Path, &r.Digest, &r.Bytes, &r.Dims[0], &r.Dims[1], &r.Dims[2],
			&r.Entities, &r.Replaced, &r.Archived, &r.PersistedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Archives returns the archive rows of name, newest first.
func (s *SQLiteIndex) Archives(ctx context.Context, name string) ([]ArchiveRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path,name,source_path,digest,archived_at
		FROM archives WHERE name=? ORDER BY archived_at DESC, path DESC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ArchiveRow
	for rows.Next() {
		var r ArchiveRow
		if err := rows.Scan(&r.Path, &r.Name, &r.SourcePath, &r.Digest, &r.ArchivedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertPersist, _ := s.db.Prepare(`INSERT INTO persists(name,path,digest,bytes,dx,dy,dz,entities,replaced,archived,persisted_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertArchive, _ := s.db.Prepare(`INSERT OR REPLACE INTO archives(path,name,source_path,digest,archived_at) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertPersist != nil {
			_ = insertPersist.Close()
		}
		if insertArchive != nil {
			_ = insertArchive.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqPersist:
			p := r.persist
			if insertPersist != nil {
				if _, err := tx.Stmt(insertPersist).Exec(
					p.Name,
					p.Path,
					p.Digest.String(),
					p.Size,
					p.Dims[0], p.Dims[1], p.Dims[2],
					p.Entities,
					p.Replaced,
					p.Archived,
					p.At.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqArchive:
			a := r.archive
			if insertArchive != nil {
				if _, err := tx.Stmt(insertArchive).Exec(
					a.Path,
					a.Name,
					a.SourcePath,
					a.Digest.String(),
					a.At.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		// Readers share the single connection, so do not hold a tx open
		// while the queue is idle.
		if len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
