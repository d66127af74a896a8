package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"coursekeeper.ai/internal/persistence/snapshot"
	"coursekeeper.ai/internal/volume"
)

const (
	// Ext is the file extension of canonical and history snapshots.
	Ext = ".snap"
	// TimestampLayout names history files at seconds resolution. Two archives
	// of one name within the same second share a path; the later one wins.
	TimestampLayout = "20060102150405"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidName reports whether name is safe to use as a file name stem.
func ValidName(name string) bool { return validName.MatchString(name) }

type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

type Options struct {
	CoursesDir string
	HistoryDir string
	Format     snapshot.Format
	Now        func() time.Time
	Logger     *log.Logger
	Observer   Observer
}

// Store owns the canonical snapshot file of every course name and its
// archived history. Callers guarantee a single writer per name.
type Store struct {
	coursesDir string
	historyDir string
	format     snapshot.Format
	now        func() time.Time
	logger     *log.Logger
	observer   Observer
	rename     func(oldpath, newpath string) error
}

func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.CoursesDir) == "" || strings.TrimSpace(opts.HistoryDir) == "" {
		return nil, fmt.Errorf("store: courses and history directories are required")
	}
	if opts.Format == snapshot.FormatUnknown {
		opts.Format = snapshot.FormatZstd
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		coursesDir: opts.CoursesDir,
		historyDir: opts.HistoryDir,
		format:     opts.Format,
		now:        opts.Now,
		logger:     opts.Logger,
		observer:   opts.Observer,
		rename:     os.Rename,
	}, nil
}

func (s *Store) CoursesDir() string { return s.coursesDir }
func (s *Store) HistoryDir() string { return s.historyDir }

func (s *Store) CanonicalPath(name string) string {
	return filepath.Join(s.coursesDir, name+Ext)
}

func (s *Store) HistoryPath(name string, ts time.Time) string {
	return filepath.Join(s.historyDir, name+ts.Format(TimestampLayout)+Ext)
}

type Result struct {
	Name   string
	Path   string
	Digest snapshot.Hash
	Size   int
	// Replaced is set when a canonical file existed before this call.
	Replaced bool
	// Unchanged is set when the replaced file had the same digest.
	Unchanged   bool
	Archived    bool
	ArchivePath string
}

// Persist writes snap as the canonical file of name.
//
// The new bytes go to a sibling temp file first and are renamed over the
// canonical path, so the canonical path always holds either the old or the
// new complete file. When a canonical file already exists and its digest
// equals the new digest, the existing file is copied into history before it
// is replaced. Changed content is not archived.
func (s *Store) Persist(name string, snap *volume.Snapshot) (Result, error) {
	res := Result{Name: name, Path: s.CanonicalPath(name)}
	if !ValidName(name) {
		return res, fmt.Errorf("store: invalid name %q", name)
	}
	b, err := snapshot.EncodeFormat(snap, s.format)
	if err != nil {
		return res, err
	}
	res.Digest = snapshot.Digest(b)
	res.Size = len(b)

	if err := os.MkdirAll(s.coursesDir, 0o755); err != nil {
		return res, &IOError{Op: "mkdir", Path: s.coursesDir, Err: err}
	}
	tmp := res.Path + ".tmp"
	if err := writeFileSync(tmp, b); err != nil {
		_ = os.Remove(tmp)
		return res, &IOError{Op: "write", Path: tmp, Err: err}
	}
	defer func() { _ = os.Remove(tmp) }()

	existing, err := os.ReadFile(res.Path)
	switch {
	case err == nil:
		res.Replaced = true
		if snapshot.Digest(existing) == res.Digest {
			res.Unchanged = true
			archivePath, err := s.archive(name, res.Path)
			if err != nil {
				return res, err
			}
			res.Archived = true
			res.ArchivePath = archivePath
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return res, &IOError{Op: "read", Path: res.Path, Err: err}
	}

	if err := s.rename(tmp, res.Path); err != nil {
		// The canonical file was not replaced, so the archive copy taken
		// above would be an unannounced history entry.
		if res.Archived {
			_ = os.Remove(res.ArchivePath)
			res.Archived = false
			res.ArchivePath = ""
		}
		return res, &IOError{Op: "rename", Path: res.Path, Err: err}
	}
	s.printf("persisted name=%s digest=%s bytes=%d replaced=%t archived=%t", name, res.Digest, res.Size, res.Replaced, res.Archived)

	if s.observer != nil {
		if res.Archived {
			s.observer.SnapshotArchived(ArchiveEvent{
				Name:       name,
				Path:       res.ArchivePath,
				SourcePath: res.Path,
				Digest:     res.Digest,
				At:         s.now().UTC(),
			})
		}
		s.observer.SnapshotPersisted(PersistEvent{
			Name:     name,
			Path:     res.Path,
			Digest:   res.Digest,
			Size:     res.Size,
			Dims:     snap.Dims(),
			Entities: len(snap.Entities()),
			Replaced: res.Replaced,
			Archived: res.Archived,
			At:       s.now().UTC(),
		})
	}
	return res, nil
}

func (s *Store) archive(name, src string) (string, error) {
	if err := os.MkdirAll(s.historyDir, 0o755); err != nil {
		return "", &IOError{Op: "mkdir", Path: s.historyDir, Err: err}
	}
	dst := s.HistoryPath(name, s.now())
	if err := copyFile(src, dst); err != nil {
		return "", &IOError{Op: "archive", Path: dst, Err: err}
	}
	return dst, nil
}

// Load returns the canonical snapshot of name, or nil when none was ever
// persisted.
func (s *Store) Load(name string) (*volume.Snapshot, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("store: invalid name %q", name)
	}
	return s.readSnapshot(s.CanonicalPath(name), true)
}

func (s *Store) readSnapshot(path string, missingOK bool) (*volume.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if missingOK && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	snap, err := snapshot.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// Names lists every name that has a canonical file, sorted.
func (s *Store) Names() ([]string, error) {
	ents, err := os.ReadDir(s.coursesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &IOError{Op: "list", Path: s.coursesDir, Err: err}
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		n := strings.TrimSuffix(e.Name(), Ext)
		if ValidName(n) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) printf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func writeFileSync(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
