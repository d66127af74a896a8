package course

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coursekeeper.ai/internal/persistence/store"
	"coursekeeper.ai/internal/region"
	"coursekeeper.ai/internal/volume"
	"coursekeeper.ai/internal/world"
)

// ConfigExt is the extension of level config files.
const ConfigExt = ".yml"

// Worlds resolves the world a level lives in.
type Worlds interface {
	HasWorld(id string) bool
	Editor(id string) (world.Editor, error)
}

// Env carries what every level of one runtime shares.
type Env struct {
	LevelsDir    string
	Store        *store.Store
	Worlds       Worlds
	MarkerBlocks []string
	Logger       *log.Logger
	Now          func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) printf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// Level binds a named region to its persisted config and to the snapshot
// taken before its current or last challenge. A level is used from one
// goroutine at a time; the challenge field is its only guard.
type Level struct {
	env    *Env
	name   string
	region region.Descriptor

	snapshot  *volume.Snapshot
	challenge *Challenge
}

// New creates a level that is not yet saved.
func New(env *Env, name string, r region.Descriptor) (*Level, error) {
	if !store.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, err := region.New(r.WorldID, r.Min, r.Max); err != nil {
		return nil, err
	}
	return &Level{env: env, name: name, region: r}, nil
}

// Load reconstructs a level from its config file. The name is the file
// name without extension.
func Load(env *Env, path string) (*Level, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &store.IOError{Op: "read config", Path: path, Err: err}
	}
	name := strings.TrimSuffix(filepath.Base(path), ConfigExt)
	l, err := Reconstruct(env, name, raw)
	if err != nil {
		return nil, fmt.Errorf("level %s: %w", name, err)
	}
	return l, nil
}

// Reconstruct parses a level config, checks that its world is loaded and
// loads the persisted snapshot of name when one exists.
func Reconstruct(env *Env, name string, raw []byte) (*Level, error) {
	if !store.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	r, err := cfg.Region()
	if err != nil {
		return nil, err
	}
	if err := r.Resolve(env.Worlds); err != nil {
		return nil, err
	}
	l := &Level{env: env, name: name, region: r}
	if env.Store != nil {
		snap, err := env.Store.Load(name)
		if err != nil {
			return nil, err
		}
		l.snapshot = snap
	}
	return l, nil
}

func (l *Level) Name() string              { return l.name }
func (l *Level) Region() region.Descriptor { return l.region }

// Snapshot is the pre-challenge capture, or the persisted one after load.
func (l *Level) Snapshot() *volume.Snapshot { return l.snapshot }

func (l *Level) Challenge() *Challenge { return l.challenge }
func (l *Level) Active() bool          { return l.challenge != nil }

func (l *Level) ConfigPath() string {
	return filepath.Join(l.env.LevelsDir, l.name+ConfigExt)
}

// StartChallenge captures the live region as the state to restore later and
// opens a challenge. A previous in-memory snapshot is replaced.
func (l *Level) StartChallenge(ctx context.Context) (*Challenge, error) {
	if l.challenge != nil {
		return nil, fmt.Errorf("level %s: %w", l.name, ErrAlreadyActive)
	}
	snap, err := l.capture(ctx)
	if err != nil {
		return nil, err
	}
	l.snapshot = snap
	l.challenge = newChallenge(l.name, snap, l.env.MarkerBlocks, l.env.now())
	l.env.printf("challenge start level=%s id=%s markers=%d", l.name, l.challenge.ID, len(l.challenge.markers))
	return l.challenge, nil
}

func (l *Level) capture(ctx context.Context) (*volume.Snapshot, error) {
	if l.env.Worlds == nil {
		return nil, fmt.Errorf("capture %s: %w", l.name, world.ErrWorldUnavailable)
	}
	ed, err := l.env.Worlds.Editor(l.region.WorldID)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", l.name, err)
	}
	snap, err := ed.CaptureRegion(ctx, l.region)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", l.name, err)
	}
	if snap.Dims() != l.region.Dims() {
		return nil, fmt.Errorf("capture %s: editor returned dims %v for region dims %v", l.name, snap.Dims(), l.region.Dims())
	}
	return snap, nil
}

// StopChallenge ends the challenge and pastes the held snapshot back. The
// challenge is detached before the restore starts.
func (l *Level) StopChallenge(ctx context.Context) error {
	ch := l.challenge
	if ch == nil {
		return fmt.Errorf("level %s: %w", l.name, ErrNotActive)
	}
	l.challenge = nil
	now := l.env.now()
	l.env.printf("challenge stop level=%s id=%s elapsed=%s", l.name, ch.ID, ch.Elapsed(now))
	ch.destroy(now)
	return l.Restore(ctx)
}

// Restore pastes the held snapshot into the region, air included. Nothing
// is written when the snapshot does not fit the region exactly.
func (l *Level) Restore(ctx context.Context) error {
	snap := l.snapshot
	if snap == nil {
		return &RestoreError{Level: l.name, Reason: "no snapshot held", Err: ErrNoSnapshot}
	}
	if snap.Dims() != l.region.Dims() {
		return &RestoreError{
			Level:  l.name,
			Reason: fmt.Sprintf("snapshot dims %v do not match region dims %v", snap.Dims(), l.region.Dims()),
		}
	}
	if l.env.Worlds == nil {
		return &RestoreError{Level: l.name, Reason: "world unavailable", Err: world.ErrWorldUnavailable}
	}
	ed, err := l.env.Worlds.Editor(l.region.WorldID)
	if err != nil {
		return &RestoreError{Level: l.name, Reason: "world unavailable", Err: err}
	}
	if err := ed.PasteBuffer(ctx, snap, l.region.Min, true); err != nil {
		return &RestoreError{Level: l.name, Reason: "paste failed", Err: err}
	}
	return nil
}

// SaveConfig writes the region record, creating parent directories.
func (l *Level) SaveConfig() error {
	b, err := ConfigOf(l.region).Marshal()
	if err != nil {
		return fmt.Errorf("level %s: marshal config: %w", l.name, err)
	}
	path := l.ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &store.IOError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		_ = os.Remove(tmp)
		return &store.IOError{Op: "write config", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &store.IOError{Op: "rename config", Path: path, Err: err}
	}
	return nil
}

// SaveSnapshot persists the held snapshot through the store. Start and stop
// never call it.
func (l *Level) SaveSnapshot() (store.Result, error) {
	if l.snapshot == nil {
		return store.Result{Name: l.name}, fmt.Errorf("level %s: %w", l.name, ErrNoSnapshot)
	}
	if l.env.Store == nil {
		return store.Result{Name: l.name}, errors.New("level: no snapshot store configured")
	}
	return l.env.Store.Persist(l.name, l.snapshot)
}

// deleteConfig removes the config file; a missing file is not an error.
func (l *Level) deleteConfig() error {
	if err := os.Remove(l.ConfigPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &store.IOError{Op: "remove config", Path: l.ConfigPath(), Err: err}
	}
	return nil
}
