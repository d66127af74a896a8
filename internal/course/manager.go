package course

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"coursekeeper.ai/internal/region"
)

// Manager is the registry of levels. Holding a level only through its
// manager is what gives each name a single writer.
type Manager struct {
	env *Env

	mu     sync.Mutex
	levels map[string]*Level
}

func NewManager(env *Env) *Manager {
	return &Manager{env: env, levels: map[string]*Level{}}
}

func (m *Manager) Env() *Env { return m.env }

// LoadAll reads every level config in the levels directory. Levels that
// fail to load are skipped and their errors joined; the rest are
// registered.
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	ents, err := os.ReadDir(m.env.LevelsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list levels %s: %w", m.env.LevelsDir, err)
	}
	var paths []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ConfigExt) {
			continue
		}
		paths = append(paths, filepath.Join(m.env.LevelsDir, e.Name()))
	}

	loaded := make([]*Level, len(paths))
	errs := make([]error, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			loaded[i], errs[i] = Load(m.env, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i, l := range loaded {
		if errs[i] != nil {
			m.env.printf("level load failed path=%s err=%v", paths[i], errs[i])
			continue
		}
		if _, dup := m.levels[l.name]; dup {
			continue
		}
		m.levels[l.name] = l
		n++
	}
	return n, errors.Join(errs...)
}

// Create registers a fresh level and saves its config.
func (m *Manager) Create(name string, r region.Descriptor) (*Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.levels[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLevelExists, name)
	}
	l, err := New(m.env, name, r)
	if err != nil {
		return nil, err
	}
	if err := l.SaveConfig(); err != nil {
		return nil, err
	}
	m.levels[name] = l
	return l, nil
}

func (m *Manager) Get(name string) (*Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.levels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLevel, name)
	}
	return l, nil
}

func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.levels))
	for n := range m.levels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Remove unregisters a level and deletes its config. The persisted
// snapshot and its history are kept.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.levels[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLevel, name)
	}
	if l.Active() {
		return fmt.Errorf("remove %s: %w", name, ErrAlreadyActive)
	}
	if err := l.deleteConfig(); err != nil {
		return err
	}
	delete(m.levels, name)
	return nil
}

// StopAll stops every active challenge, restoring each course. It keeps
// going after a failure and returns all errors joined.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	var active []*Level
	for _, l := range m.levels {
		if l.Active() {
			active = append(active, l)
		}
	}
	m.mu.Unlock()
	sort.Slice(active, func(i, j int) bool { return active[i].name < active[j].name })

	var errs []error
	for _, l := range active {
		if err := l.StopChallenge(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
