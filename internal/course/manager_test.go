package course

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_CreateLoadAll(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	buildCourse(te.world)

	m := NewManager(te.Env)
	for _, name := range []string{"Alpha", "Beta", "Gamma"} {
		if _, err := m.Create(name, mustRegion(t, [3]int{0, 0, 0}, [3]int{2, 2, 2})); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}
	if _, err := m.Create("Alpha", mustRegion(t, [3]int{0, 0, 0}, [3]int{1, 1, 1})); !errors.Is(err, ErrLevelExists) {
		t.Fatalf("duplicate create: want ErrLevelExists, got %v", err)
	}
	beta, _ := m.Get("Beta")
	beta.StartChallenge(ctx)
	beta.StopChallenge(ctx)
	if _, err := beta.SaveSnapshot(); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	// A broken config next to good ones is reported but does not block them.
	if err := os.WriteFile(filepath.Join(te.LevelsDir, "Broken.yml"), []byte("world: nether\nmin: {x: 0, y: 0, z: 0}\nmax: {x: 0, y: 0, z: 0}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(te.LevelsDir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m2 := NewManager(te.Env)
	n, err := m2.LoadAll(ctx)
	if n != 3 {
		t.Fatalf("loaded=%d want 3", n)
	}
	if Code(err) != CodeInvalidRegion {
		t.Fatalf("want joined InvalidRegionError, got %v", err)
	}
	names := m2.Names()
	if len(names) != 3 || names[0] != "Alpha" || names[2] != "Gamma" {
		t.Fatalf("Names=%v", names)
	}
	b2, err := m2.Get("Beta")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b2.Snapshot() == nil || !b2.Snapshot().Equal(beta.Snapshot()) {
		t.Fatalf("Beta snapshot not loaded")
	}
	a2, _ := m2.Get("Alpha")
	if a2.Snapshot() != nil {
		t.Fatalf("Alpha should have no snapshot")
	}
	if _, err := m2.Get("Nope"); !errors.Is(err, ErrUnknownLevel) {
		t.Fatalf("want ErrUnknownLevel, got %v", err)
	}
}

func TestManager_LoadAllMissingDir(t *testing.T) {
	te := newTestEnv(t)
	n, err := NewManager(te.Env).LoadAll(context.Background())
	if n != 0 || err != nil {
		t.Fatalf("LoadAll on missing dir: n=%d err=%v", n, err)
	}
}

func TestManager_RemoveAndStopAll(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	buildCourse(te.world)
	before := te.world.Digest()

	m := NewManager(te.Env)
	a, _ := m.Create("Alpha", mustRegion(t, [3]int{0, 0, 0}, [3]int{2, 2, 2}))
	if _, err := a.StartChallenge(ctx); err != nil {
		t.Fatalf("StartChallenge: %v", err)
	}
	if err := m.Remove("Alpha"); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("remove active: want ErrAlreadyActive, got %v", err)
	}

	te.world.SetBlock(1, 1, 1, "LAVA")
	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if a.Active() || te.world.Digest() != before {
		t.Fatalf("StopAll did not end and restore the challenge")
	}

	if err := m.Remove("Alpha"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(a.ConfigPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("config not deleted")
	}
	if len(m.Names()) != 0 {
		t.Fatalf("level still registered")
	}
	if err := m.Remove("Alpha"); !errors.Is(err, ErrUnknownLevel) {
		t.Fatalf("want ErrUnknownLevel, got %v", err)
	}
}
