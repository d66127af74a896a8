package volume

import (
	"fmt"
	"sort"
)

// Air is the block name that marks an empty cell.
const Air = "AIR"

const (
	// MaxCells bounds the volume of one snapshot.
	MaxCells = 1 << 27

	// MaxPalette is the number of distinct block names a uint16 id can address.
	MaxPalette = 1 << 16
)

// Cells returns the cell count of dims. It fails for a non-positive axis or
// when the product would exceed MaxCells; the check runs before multiplying
// so a wrapped product can never pass.
func Cells(dims [3]int) (int, error) {
	n := 1
	for i := 0; i < 3; i++ {
		if dims[i] <= 0 {
			return 0, fmt.Errorf("snapshot dims must be positive: %v", dims)
		}
		if dims[i] > MaxCells/n {
			return 0, fmt.Errorf("snapshot dims %v exceed %d cells", dims, MaxCells)
		}
		n *= dims[i]
	}
	return n, nil
}

type Prop struct {
	Key   string
	Value string
}

// Entity is a non-block object captured with a region. Offset is relative
// to the snapshot origin.
type Entity struct {
	ID     string
	Kind   string
	Offset [3]float64
	Props  []Prop
}

// Snapshot is an immutable copy of the blocks and entities of a cuboid.
// Blocks are palette indices laid out x-fastest, then z, then y.
type Snapshot struct {
	origin   [3]int
	dims     [3]int
	palette  []string
	blocks   []uint16
	entities []Entity
}

// New copies its inputs; later mutation of the arguments does not affect
// the returned snapshot.
func New(origin, dims [3]int, palette []string, blocks []uint16, entities []Entity) (*Snapshot, error) {
	n, err := Cells(dims)
	if err != nil {
		return nil, err
	}
	if len(blocks) != n {
		return nil, fmt.Errorf("snapshot blocks length mismatch: got %d want %d", len(blocks), n)
	}
	if len(palette) == 0 {
		return nil, fmt.Errorf("snapshot palette is empty")
	}
	if len(palette) > MaxPalette {
		return nil, fmt.Errorf("snapshot palette has %d names, limit %d", len(palette), MaxPalette)
	}
	for i, b := range blocks {
		if int(b) >= len(palette) {
			return nil, fmt.Errorf("snapshot block %d references palette id %d (palette size %d)", i, b, len(palette))
		}
	}
	s := &Snapshot{
		origin:   origin,
		dims:     dims,
		palette:  append([]string(nil), palette...),
		blocks:   append([]uint16(nil), blocks...),
		entities: make([]Entity, 0, len(entities)),
	}
	for _, e := range entities {
		s.entities = append(s.entities, copyEntity(e))
	}
	return s, nil
}

func copyEntity(e Entity) Entity {
	props := append([]Prop(nil), e.Props...)
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })
	e.Props = props
	return e
}

func (s *Snapshot) Origin() [3]int { return s.origin }
func (s *Snapshot) Dims() [3]int   { return s.dims }

func (s *Snapshot) Volume() int { return len(s.blocks) }

func (s *Snapshot) Palette() []string { return append([]string(nil), s.palette...) }

func (s *Snapshot) Blocks() []uint16 { return append([]uint16(nil), s.blocks...) }

func (s *Snapshot) Entities() []Entity {
	out := make([]Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, copyEntity(e))
	}
	return out
}

// Index returns the block index of a position relative to the origin.
func (s *Snapshot) Index(x, y, z int) int {
	return x + z*s.dims[0] + y*s.dims[0]*s.dims[2]
}

// Pos is the inverse of Index.
func (s *Snapshot) Pos(i int) [3]int {
	layer := s.dims[0] * s.dims[2]
	y := i / layer
	r := i % layer
	return [3]int{r % s.dims[0], y, r / s.dims[0]}
}

// BlockAt returns the block name at a position relative to the origin.
func (s *Snapshot) BlockAt(x, y, z int) string {
	if x < 0 || y < 0 || z < 0 || x >= s.dims[0] || y >= s.dims[1] || z >= s.dims[2] {
		return Air
	}
	return s.palette[s.blocks[s.Index(x, y, z)]]
}

// Equal compares resolved block names and entities, so two snapshots with
// differently ordered palettes still compare equal.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.origin != o.origin || s.dims != o.dims || len(s.blocks) != len(o.blocks) {
		return false
	}
	for i := range s.blocks {
		if s.palette[s.blocks[i]] != o.palette[o.blocks[i]] {
			return false
		}
	}
	if len(s.entities) != len(o.entities) {
		return false
	}
	for i := range s.entities {
		a, b := s.entities[i], o.entities[i]
		if a.ID != b.ID || a.Kind != b.Kind || a.Offset != b.Offset || len(a.Props) != len(b.Props) {
			return false
		}
		for j := range a.Props {
			if a.Props[j] != b.Props[j] {
				return false
			}
		}
	}
	return true
}
