package course

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"coursekeeper.ai/internal/persistence/snapshot"
	"coursekeeper.ai/internal/persistence/store"
	"coursekeeper.ai/internal/region"
	"coursekeeper.ai/internal/volume"
	"coursekeeper.ai/internal/world"
	"coursekeeper.ai/internal/world/memworld"
)

type testEnv struct {
	*Env
	world  *memworld.World
	worlds *world.Registry
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(store.Options{
		CoursesDir: filepath.Join(dir, "courses"),
		HistoryDir: filepath.Join(dir, "history"),
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	w := memworld.New("overworld")
	reg := world.NewRegistry()
	reg.Register("overworld", w)
	env := &Env{
		LevelsDir:    filepath.Join(dir, "levels"),
		Store:        st,
		Worlds:       reg,
		MarkerBlocks: DefaultMarkerBlocks,
		Now:          func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) },
	}
	return testEnv{Env: env, world: w, worlds: reg}
}

func mustRegion(t *testing.T, min, max [3]int) region.Descriptor {
	t.Helper()
	r, err := region.New("overworld", min, max)
	if err != nil {
		t.Fatalf("region.New: %v", err)
	}
	return r
}

func buildCourse(w *memworld.World) {
	w.SetBlock(0, 0, 0, "START_PLATE")
	w.SetBlock(1, 0, 0, "STONE")
	w.SetBlock(1, 1, 1, "CHECKPOINT_PLATE")
	w.SetBlock(2, 2, 2, "FINISH_PLATE")
	w.SpawnEntity(memworld.Entity{ID: "sign-1", Kind: "ARMOR_STAND", Pos: [3]float64{0.5, 1, 0.5}})
}

func TestLifecycle_Exclusivity(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	l, err := New(te.Env, "Alpha", mustRegion(t, [3]int{0, 0, 0}, [3]int{1, 1, 1}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := l.StopChallenge(ctx); !errors.Is(err, ErrNotActive) {
		t.Fatalf("stop before start: want ErrNotActive, got %v", err)
	}
	first, err := l.StartChallenge(ctx)
	if err != nil {
		t.Fatalf("StartChallenge: %v", err)
	}
	if _, err := l.StartChallenge(ctx); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second start: want ErrAlreadyActive, got %v", err)
	}
	if l.Challenge() != first {
		t.Fatalf("failed start replaced the active challenge")
	}
	if err := l.StopChallenge(ctx); err != nil {
		t.Fatalf("StopChallenge: %v", err)
	}
	if l.Active() || !first.Over() {
		t.Fatalf("challenge not torn down: active=%t over=%t", l.Active(), first.Over())
	}
	if err := l.StopChallenge(ctx); !errors.Is(err, ErrNotActive) {
		t.Fatalf("second stop: want ErrNotActive, got %v", err)
	}
}

func TestStopChallenge_RestoresRegionExactly(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	buildCourse(te.world)
	te.world.SetBlock(10, 0, 10, "OUTSIDE")
	l, _ := New(te.Env, "Alpha", mustRegion(t, [3]int{0, 0, 0}, [3]int{2, 2, 2}))

	before := te.world.Digest()
	if _, err := l.StartChallenge(ctx); err != nil {
		t.Fatalf("StartChallenge: %v", err)
	}

	// Gameplay: break, place, move entities inside the course.
	te.world.SetBlock(1, 0, 0, volume.Air)
	te.world.SetBlock(2, 1, 0, "COBBLESTONE")
	te.world.SetBlock(0, 2, 2, "TNT")
	te.world.RemoveEntity("sign-1")
	te.world.SpawnEntity(memworld.Entity{ID: "boat", Kind: "BOAT", Pos: [3]float64{1.5, 0, 1.5}})
	if te.world.Digest() == before {
		t.Fatalf("setup: mutation not visible")
	}

	if err := l.StopChallenge(ctx); err != nil {
		t.Fatalf("StopChallenge: %v", err)
	}
	if te.world.Digest() != before {
		t.Fatalf("region not restored to its pre-challenge blocks")
	}
	ents := te.world.Entities()
	if len(ents) != 1 || ents[0].ID != "sign-1" {
		t.Fatalf("entities not restored: %+v", ents)
	}
	if te.world.GetBlock(10, 0, 10) != "OUTSIDE" {
		t.Fatalf("restore touched blocks outside the region")
	}
}

func TestStartChallenge_RecapturesAndIndexesMarkers(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	buildCourse(te.world)
	l, _ := New(te.Env, "Alpha", mustRegion(t, [3]int{0, 0, 0}, [3]int{2, 2, 2}))

	ch, err := l.StartChallenge(ctx)
	if err != nil {
		t.Fatalf("StartChallenge: %v", err)
	}
	if ch.ID == "" || ch.Level != "Alpha" {
		t.Fatalf("challenge identity: %+v", ch)
	}
	markers := ch.Markers()
	if len(markers) != 3 {
		t.Fatalf("markers=%+v", markers)
	}
	if fin := ch.MarkersOf("FINISH_PLATE"); len(fin) != 1 || fin[0].Pos != [3]int{2, 2, 2} {
		t.Fatalf("finish marker=%+v", fin)
	}
	first := l.Snapshot()
	if err := l.StopChallenge(ctx); err != nil {
		t.Fatalf("StopChallenge: %v", err)
	}

	te.world.SetBlock(1, 0, 0, "GOLD_BLOCK")
	if _, err := l.StartChallenge(ctx); err != nil {
		t.Fatalf("StartChallenge 2: %v", err)
	}
	if l.Snapshot() == first || l.Snapshot().BlockAt(1, 0, 0) != "GOLD_BLOCK" {
		t.Fatalf("second start did not replace the held snapshot")
	}
	if first.BlockAt(1, 0, 0) != "STONE" {
		t.Fatalf("earlier snapshot was mutated")
	}
}

func TestRestore_DimensionMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	buildCourse(te.world)
	l, _ := New(te.Env, "Alpha", mustRegion(t, [3]int{0, 0, 0}, [3]int{2, 2, 2}))

	b := volume.NewBuilder([3]int{0, 0, 0}, [3]int{1, 1, 1})
	b.Set(0, 0, 0, "BEDROCK")
	small, _ := b.Build()
	l.snapshot = small

	before := te.world.Digest()
	err := l.Restore(ctx)
	var re *RestoreError
	if !errors.As(err, &re) {
		t.Fatalf("want RestoreError, got %v", err)
	}
	if te.world.Digest() != before {
		t.Fatalf("mismatched restore wrote blocks")
	}
	if Code(err) != CodeRestore {
		t.Fatalf("Code=%s", Code(err))
	}
}

func TestStopChallenge_UnavailableWorldIsRestoreError(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	l, _ := New(te.Env, "Alpha", mustRegion(t, [3]int{0, 0, 0}, [3]int{1, 1, 1}))
	if _, err := l.StartChallenge(ctx); err != nil {
		t.Fatalf("StartChallenge: %v", err)
	}
	te.world.Unload()

	err := l.StopChallenge(ctx)
	var re *RestoreError
	if !errors.As(err, &re) || !errors.Is(err, world.ErrWorldUnavailable) {
		t.Fatalf("want RestoreError(world unavailable), got %v", err)
	}
	if l.Active() {
		t.Fatalf("challenge must be over even when restore fails")
	}

	te.worlds.Unregister("overworld")
	if err := l.Restore(ctx); !errors.As(err, &re) {
		t.Fatalf("unregistered world: want RestoreError, got %v", err)
	}
}

func TestStartStop_DoNotPersist(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	l, _ := New(te.Env, "Alpha", mustRegion(t, [3]int{0, 0, 0}, [3]int{1, 1, 1}))
	l.StartChallenge(ctx)
	l.StopChallenge(ctx)
	if _, err := os.Stat(te.Store.CanonicalPath("Alpha")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("challenge lifecycle wrote a snapshot file")
	}
	res, err := l.SaveSnapshot()
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if res.Path != te.Store.CanonicalPath("Alpha") || res.Archived {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSaveSnapshot_WithoutSnapshot(t *testing.T) {
	te := newTestEnv(t)
	l, _ := New(te.Env, "Alpha", mustRegion(t, [3]int{0, 0, 0}, [3]int{1, 1, 1}))
	if _, err := l.SaveSnapshot(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("want ErrNoSnapshot, got %v", err)
	}
}

func TestSaveConfigLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	te := newTestEnv(t)
	buildCourse(te.world)
	r := mustRegion(t, [3]int{0, 0, 0}, [3]int{2, 2, 2})
	l, _ := New(te.Env, "Alpha", r)
	if err := l.SaveConfig(); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	fresh, err := Load(te.Env, l.ConfigPath())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fresh.Name() != "Alpha" || fresh.Region() != r {
		t.Fatalf("reconstructed %s %v", fresh.Name(), fresh.Region())
	}
	if fresh.Snapshot() != nil {
		t.Fatalf("level without persisted file should have no snapshot")
	}

	l.StartChallenge(ctx)
	l.StopChallenge(ctx)
	if _, err := l.SaveSnapshot(); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	again, err := Load(te.Env, l.ConfigPath())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !again.Snapshot().Equal(l.Snapshot()) {
		t.Fatalf("loaded snapshot differs from persisted one")
	}
}

func TestLoad_Failures(t *testing.T) {
	te := newTestEnv(t)
	if err := os.MkdirAll(te.LevelsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	write := func(name, body string) string {
		p := filepath.Join(te.LevelsDir, name+ConfigExt)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return p
	}

	cases := []struct {
		name string
		body string
		code string
	}{
		{"Nether", "world: nether\nmin: {x: 0, y: 0, z: 0}\nmax: {x: 1, y: 1, z: 1}\n", CodeInvalidRegion},
		{"Inverted", "world: overworld\nmin: {x: 5, y: 0, z: 0}\nmax: {x: 1, y: 1, z: 1}\n", CodeInvalidRegion},
		{"NoMax", "world: overworld\nmin: {x: 0, y: 0, z: 0}\n", CodeInvalidRegion},
		{"Float", "world: overworld\nmin: {x: 0.5, y: 0, z: 0}\nmax: {x: 1, y: 1, z: 1}\n", CodeInvalidRegion},
		{"Junk", "world: [\n", CodeInvalidRegion},
	}
	for _, c := range cases {
		_, err := Load(te.Env, write(c.name, c.body))
		if got := Code(err); got != c.code {
			t.Fatalf("%s: code=%s want %s (err=%v)", c.name, got, c.code, err)
		}
	}

	if _, err := Load(te.Env, filepath.Join(te.LevelsDir, "Missing.yml")); Code(err) != CodeIO {
		t.Fatalf("missing file: code=%s err=%v", Code(err), err)
	}

	if err := os.MkdirAll(te.Store.CoursesDir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	os.WriteFile(te.Store.CanonicalPath("Corrupt"), []byte("nope"), 0o644)
	_, err := Load(te.Env, write("Corrupt", "world: overworld\nmin: {x: 0, y: 0, z: 0}\nmax: {x: 1, y: 1, z: 1}\n"))
	var ce *snapshot.CodecError
	if !errors.As(err, &ce) {
		t.Fatalf("corrupt snapshot: want CodecError, got %v", err)
	}
}

func TestNew_RejectsUnsafeName(t *testing.T) {
	te := newTestEnv(t)
	r := mustRegion(t, [3]int{0, 0, 0}, [3]int{1, 1, 1})
	for _, name := range []string{"", "../etc", "a b", strings.Repeat("x", 65)} {
		if _, err := New(te.Env, name, r); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("name %q: want ErrInvalidName, got %v", name, err)
		}
	}
}

func TestCode_DistinguishesKinds(t *testing.T) {
	cases := map[string]error{
		"":                nil,
		CodeAlreadyActive: ErrAlreadyActive,
		CodeNotActive:     ErrNotActive,
		CodeInvalidRegion: &region.InvalidRegionError{Reason: "x"},
		CodeRestore:       &RestoreError{Level: "a", Reason: "x"},
		CodeCodec:         &snapshot.CodecError{Op: "decode", Err: errors.New("x")},
		CodeIO:            &store.IOError{Op: "write", Path: "p", Err: errors.New("x")},
		CodeInternal:      errors.New("other"),
	}
	seen := map[string]bool{}
	for want, err := range cases {
		got := Code(err)
		if got != want {
			t.Fatalf("Code(%v)=%s want %s", err, got, want)
		}
		if seen[got] {
			t.Fatalf("duplicate code %s", got)
		}
		seen[got] = true
	}
}
