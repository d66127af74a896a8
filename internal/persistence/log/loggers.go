package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"coursekeeper.ai/internal/persistence/store"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

const (
	EntryPersist = "persist"
	EntryArchive = "archive"
)

// Entry is one journal line.
type Entry struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	SourcePath string `json:"source_path,omitempty"`
	Digest     string `json:"digest"`
	Size       int    `json:"size,omitempty"`
	Dims       []int  `json:"dims,omitempty"`
	Entities   int    `json:"entities,omitempty"`
	Replaced   bool   `json:"replaced,omitempty"`
	Archived   bool   `json:"archived,omitempty"`
	At         string `json:"at"`
}

// Journal appends every store write to <dir>/journal-<hour>.jsonl.zst.
// Frames are closed on rotation and Close; a crash loses at most the open
// frame.
type Journal struct {
	w      *JSONLZstdWriter
	onFail func(error)
}

func NewJournal(dir string) *Journal {
	return &Journal{w: NewJSONLZstdWriter(dir, "journal")}
}

// OnError installs a callback for write failures. Observer methods have no
// error return.
func (j *Journal) OnError(fn func(error)) { j.onFail = fn }

func (j *Journal) SnapshotPersisted(ev store.PersistEvent) {
	j.write(Entry{
		Kind:     EntryPersist,
		Name:     ev.Name,
		Path:     ev.Path,
		Digest:   ev.Digest.String(),
		Size:     ev.Size,
		Dims:     []int{ev.Dims[0], ev.Dims[1], ev.Dims[2]},
		Entities: ev.Entities,
		Replaced: ev.Replaced,
		Archived: ev.Archived,
		At:       ev.At.UTC().Format(time.RFC3339Nano),
	})
}

func (j *Journal) SnapshotArchived(ev store.ArchiveEvent) {
	j.write(Entry{
		Kind:       EntryArchive,
		Name:       ev.Name,
		Path:       ev.Path,
		SourcePath: ev.SourcePath,
		Digest:     ev.Digest.String(),
		At:         ev.At.UTC().Format(time.RFC3339Nano),
	})
}

func (j *Journal) write(e Entry) {
	if j == nil {
		return
	}
	e.ID = uuid.NewString()
	if err := j.w.Write(e); err != nil && j.onFail != nil {
		j.onFail(err)
	}
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.w.Close()
}
