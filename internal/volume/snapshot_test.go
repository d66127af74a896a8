package volume

import (
	"strconv"
	"testing"
)

func TestNew_CopiesInputs(t *testing.T) {
	palette := []string{Air, "STONE"}
	blocks := []uint16{0, 1}
	ents := []Entity{{ID: "E1", Kind: "ARMOR_STAND", Props: []Prop{{"pose", "x"}}}}
	s, err := New([3]int{1, 2, 3}, [3]int{2, 1, 1}, palette, blocks, ents)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	palette[1] = "DIRT"
	blocks[0] = 1
	ents[0].Props[0].Value = "y"

	if got := s.BlockAt(0, 0, 0); got != Air {
		t.Fatalf("BlockAt(0,0,0)=%s want AIR", got)
	}
	if got := s.BlockAt(1, 0, 0); got != "STONE" {
		t.Fatalf("BlockAt(1,0,0)=%s want STONE", got)
	}
	if s.Entities()[0].Props[0].Value != "x" {
		t.Fatalf("entity props aliased caller slice")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New([3]int{}, [3]int{0, 1, 1}, []string{Air}, nil, nil); err == nil {
		t.Fatalf("expected error for zero dims")
	}
	if _, err := New([3]int{}, [3]int{1, 1, 2}, []string{Air}, []uint16{0}, nil); err == nil {
		t.Fatalf("expected error for short block slice")
	}
	if _, err := New([3]int{}, [3]int{1, 1, 1}, []string{Air}, []uint16{3}, nil); err == nil {
		t.Fatalf("expected error for palette overflow")
	}
	// Both products overflow int; neither may pass as a valid length.
	for _, dims := range [][3]int{{1 << 62, 2, 1}, {1 << 62, 4, 1}, {MaxCells, 2, 1}} {
		if _, err := New([3]int{}, dims, []string{Air}, nil, nil); err == nil {
			t.Fatalf("expected error for dims %v", dims)
		}
	}
}

func TestCells(t *testing.T) {
	if n, err := Cells([3]int{3, 4, 5}); err != nil || n != 60 {
		t.Fatalf("Cells=%d,%v want 60", n, err)
	}
	if n, err := Cells([3]int{MaxCells, 1, 1}); err != nil || n != MaxCells {
		t.Fatalf("Cells at cap=%d,%v", n, err)
	}
	if _, err := Cells([3]int{-1, -1, 1}); err == nil {
		t.Fatalf("expected error for negative axes")
	}
}

func TestBuilder_PaletteFull(t *testing.T) {
	// AIR plus MaxPalette distinct names is one more than a uint16 id can hold.
	b := NewBuilder([3]int{}, [3]int{MaxPalette + 1, 1, 1})
	for x := 0; x < MaxPalette; x++ {
		b.Set(x, 0, 0, "B"+strconv.Itoa(x))
	}
	if _, err := b.Build(); err == nil {
		t.Fatalf("expected palette full error")
	}

	ok := NewBuilder([3]int{}, [3]int{MaxPalette, 1, 1})
	for x := 0; x < MaxPalette-1; x++ {
		ok.Set(x, 0, 0, "B"+strconv.Itoa(x))
	}
	s, err := ok.Build()
	if err != nil {
		t.Fatalf("Build at palette limit: %v", err)
	}
	if got := s.BlockAt(MaxPalette-2, 0, 0); got != "B"+strconv.Itoa(MaxPalette-2) {
		t.Fatalf("BlockAt=%s", got)
	}
}

func TestBuilder_BadDims(t *testing.T) {
	b := NewBuilder([3]int{}, [3]int{1 << 62, 4, 1})
	b.Set(0, 0, 0, "STONE")
	if _, err := b.Build(); err == nil {
		t.Fatalf("expected dims error")
	}
}

func TestIndexPosInverse(t *testing.T) {
	s, err := NewBuilder([3]int{}, [3]int{3, 4, 5}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < s.Volume(); i++ {
		p := s.Pos(i)
		if got := s.Index(p[0], p[1], p[2]); got != i {
			t.Fatalf("Index(Pos(%d))=%d", i, got)
		}
	}
}

func TestEqual_IgnoresPaletteOrder(t *testing.T) {
	a, _ := New([3]int{}, [3]int{2, 1, 1}, []string{Air, "STONE"}, []uint16{1, 0}, nil)
	b, _ := New([3]int{}, [3]int{2, 1, 1}, []string{"STONE", Air}, []uint16{0, 1}, nil)
	if !a.Equal(b) {
		t.Fatalf("expected equal snapshots")
	}
	c, _ := New([3]int{}, [3]int{2, 1, 1}, []string{Air, "STONE"}, []uint16{1, 1}, nil)
	if a.Equal(c) {
		t.Fatalf("expected different snapshots")
	}
}
