package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"coursekeeper.ai/internal/volume"
)

type HistoryEntry struct {
	Name  string
	Stamp string // TimestampLayout
	Time  time.Time
	Path  string
	Size  int64
}

// History lists archived snapshots of name, newest first.
func (s *Store) History(name string) ([]HistoryEntry, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("store: invalid name %q", name)
	}
	ents, err := os.ReadDir(s.historyDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &IOError{Op: "list", Path: s.historyDir, Err: err}
	}
	var out []HistoryEntry
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		stamp, ok := historyStamp(name, e.Name())
		if !ok {
			continue
		}
		ts, err := time.ParseInLocation(TimestampLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, HistoryEntry{
			Name:  name,
			Stamp: stamp,
			Time:  ts,
			Path:  filepath.Join(s.historyDir, e.Name()),
			Size:  size,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stamp > out[j].Stamp })
	return out, nil
}

// historyStamp matches "<name><14 digits>.snap". The fixed digit count keeps
// "a" from claiming the archives of "a2".
func historyStamp(name, file string) (string, bool) {
	if !strings.HasPrefix(file, name) || !strings.HasSuffix(file, Ext) {
		return "", false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(file, name), Ext)
	if len(stamp) != len(TimestampLayout) {
		return "", false
	}
	for _, c := range stamp {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return stamp, true
}

func (s *Store) LoadHistory(e HistoryEntry) (*volume.Snapshot, error) {
	return s.readSnapshot(e.Path, false)
}

// Rollback re-persists the archived snapshot taken at stamp as the
// canonical file of name. It goes through Persist, so the usual archive rule
// applies to the file being replaced.
func (s *Store) Rollback(name, stamp string) (Result, error) {
	entries, err := s.History(name)
	if err != nil {
		return Result{Name: name}, err
	}
	for _, e := range entries {
		if e.Stamp != stamp {
			continue
		}
		snap, err := s.LoadHistory(e)
		if err != nil {
			return Result{Name: name}, err
		}
		s.printf("rollback name=%s from=%s", name, filepath.Base(e.Path))
		return s.Persist(name, snap)
	}
	return Result{Name: name}, &IOError{Op: "rollback", Path: s.HistoryPath(name, mustStamp(stamp)), Err: fs.ErrNotExist}
}

func mustStamp(stamp string) time.Time {
	ts, err := time.ParseInLocation(TimestampLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}
	}
	return ts
}
