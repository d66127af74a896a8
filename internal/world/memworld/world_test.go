package memworld

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"coursekeeper.ai/internal/region"
	"coursekeeper.ai/internal/volume"
	"coursekeeper.ai/internal/world"
)

func TestSetGetAcrossChunkBoundaries(t *testing.T) {
	w := New("w")
	pts := [][3]int{{0, 0, 0}, {-1, -1, -1}, {15, 16, -17}, {-33, 40, 7}}
	for _, p := range pts {
		w.SetBlock(p[0], p[1], p[2], "STONE")
	}
	for _, p := range pts {
		if got := w.GetBlock(p[0], p[1], p[2]); got != "STONE" {
			t.Fatalf("GetBlock(%v)=%s", p, got)
		}
	}
	if got := w.GetBlock(1, 0, 0); got != volume.Air {
		t.Fatalf("unset block=%s want AIR", got)
	}
	before := w.LoadedChunks()
	w.SetBlock(1000, 1000, 1000, volume.Air)
	if w.LoadedChunks() != before {
		t.Fatalf("writing air into an empty chunk should not allocate it")
	}
}

func TestCapturePaste_ReplacesBlocksAndEntities(t *testing.T) {
	ctx := context.Background()
	w := New("w")
	r, _ := region.New("w", [3]int{-1, 0, -1}, [3]int{1, 2, 1})
	w.SetBlock(-1, 0, -1, "START_PLATE")
	w.SetBlock(1, 2, 1, "FINISH_PLATE")
	w.SpawnEntity(Entity{ID: "E1", Kind: "ARMOR_STAND", Pos: [3]float64{0.5, 1, 0.5}})
	w.SpawnEntity(Entity{ID: "FAR", Kind: "PIG", Pos: [3]float64{50, 1, 50}})

	snap, err := w.CaptureRegion(ctx, r)
	if err != nil {
		t.Fatalf("CaptureRegion: %v", err)
	}
	if snap.Dims() != [3]int{3, 3, 3} || len(snap.Entities()) != 1 {
		t.Fatalf("unexpected capture dims=%v entities=%d", snap.Dims(), len(snap.Entities()))
	}

	w.SetBlock(0, 1, 0, "COBBLESTONE")
	w.SetBlock(-1, 0, -1, volume.Air)
	w.RemoveEntity("E1")
	w.SpawnEntity(Entity{ID: "E2", Kind: "BOAT", Pos: [3]float64{1, 0, 1}})

	if err := w.PasteBuffer(ctx, snap, r.Min, true); err != nil {
		t.Fatalf("PasteBuffer: %v", err)
	}
	after, err := w.CaptureRegion(ctx, r)
	if err != nil {
		t.Fatalf("CaptureRegion: %v", err)
	}
	if !after.Equal(snap) {
		t.Fatalf("region differs after paste")
	}
	ents := w.Entities()
	if len(ents) != 2 || ents[0].ID != "E1" || ents[1].ID != "FAR" {
		t.Fatalf("entities after paste: %+v", ents)
	}
}

func TestPasteWithoutAirKeepsPlacedBlocks(t *testing.T) {
	ctx := context.Background()
	w := New("w")
	r, _ := region.New("w", [3]int{0, 0, 0}, [3]int{1, 0, 0})
	snap, _ := w.CaptureRegion(ctx, r)
	w.SetBlock(0, 0, 0, "DIRT")
	if err := w.PasteBuffer(ctx, snap, r.Min, false); err != nil {
		t.Fatalf("PasteBuffer: %v", err)
	}
	if got := w.GetBlock(0, 0, 0); got != "DIRT" {
		t.Fatalf("air paste without includeAir overwrote block: %s", got)
	}
}

func TestPaletteFull(t *testing.T) {
	ctx := context.Background()
	w := New("w")
	// AIR already holds id 0; these fill the remaining ids.
	for i := 1; i < volume.MaxPalette; i++ {
		if err := w.SetBlock(0, 0, 0, "B"+strconv.Itoa(i)); err != nil {
			t.Fatalf("SetBlock %d: %v", i, err)
		}
	}
	if err := w.SetBlock(1, 0, 0, "ONE_TOO_MANY"); !errors.Is(err, ErrPaletteFull) {
		t.Fatalf("SetBlock past palette: %v", err)
	}
	if got := w.GetBlock(1, 0, 0); got != volume.Air {
		t.Fatalf("failed write landed: %s", got)
	}
	if err := w.SetBlock(2, 0, 0, "B7"); err != nil {
		t.Fatalf("known name rejected: %v", err)
	}

	b := volume.NewBuilder([3]int{}, [3]int{2, 1, 1})
	b.Set(0, 0, 0, "B3")
	b.Set(1, 0, 0, "NEW_NAME")
	snap, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := w.PasteBuffer(ctx, snap, [3]int{5, 0, 0}, true); !errors.Is(err, ErrPaletteFull) {
		t.Fatalf("PasteBuffer past palette: %v", err)
	}
	if got := w.GetBlock(5, 0, 0); got != volume.Air {
		t.Fatalf("rejected paste wrote %s", got)
	}
}

func TestUnloadedWorldFails(t *testing.T) {
	ctx := context.Background()
	w := New("w")
	r, _ := region.New("w", [3]int{}, [3]int{1, 1, 1})
	snap, _ := w.CaptureRegion(ctx, r)
	w.Unload()
	if _, err := w.CaptureRegion(ctx, r); !errors.Is(err, world.ErrWorldUnavailable) {
		t.Fatalf("capture after unload: %v", err)
	}
	if err := w.PasteBuffer(ctx, snap, r.Min, true); !errors.Is(err, world.ErrWorldUnavailable) {
		t.Fatalf("paste after unload: %v", err)
	}
}

func TestDigest_StableAcrossAirRoundTrip(t *testing.T) {
	w := New("w")
	w.SetBlock(0, 0, 0, "STONE")
	before := w.Digest()
	w.SetBlock(100, 0, 100, "DIRT")
	if w.Digest() == before {
		t.Fatalf("digest did not change after edit")
	}
	w.SetBlock(100, 0, 100, volume.Air)
	if w.Digest() != before {
		t.Fatalf("digest differs after reverting to air")
	}
}
