package volume

import "fmt"

// Builder assembles a snapshot cell by cell, interning block names into a
// palette as they are first seen. The first failure sticks and is returned
// by Build; later calls to Set are ignored.
type Builder struct {
	origin   [3]int
	dims     [3]int
	index    map[string]uint16
	palette  []string
	blocks   []uint16
	entities []Entity
	err      error
}

func NewBuilder(origin, dims [3]int) *Builder {
	b := &Builder{
		origin: origin,
		dims:   dims,
		index:  map[string]uint16{},
	}
	n, err := Cells(dims)
	if err != nil {
		b.err = err
		return b
	}
	b.blocks = make([]uint16, n)
	b.intern(Air)
	return b
}

func (b *Builder) intern(name string) (uint16, bool) {
	if id, ok := b.index[name]; ok {
		return id, true
	}
	if len(b.palette) >= MaxPalette {
		b.err = fmt.Errorf("snapshot palette full: %d names, cannot add %q", MaxPalette, name)
		return 0, false
	}
	id := uint16(len(b.palette))
	b.palette = append(b.palette, name)
	b.index[name] = id
	return id, true
}

// Set stores a block at a position relative to the origin.
func (b *Builder) Set(x, y, z int, name string) {
	if b.err != nil {
		return
	}
	if name == "" {
		name = Air
	}
	id, ok := b.intern(name)
	if !ok {
		return
	}
	b.blocks[x+z*b.dims[0]+y*b.dims[0]*b.dims[2]] = id
}

func (b *Builder) AddEntity(e Entity) {
	b.entities = append(b.entities, e)
}

func (b *Builder) Build() (*Snapshot, error) {
	if b.err != nil {
		return nil, b.err
	}
	return New(b.origin, b.dims, b.palette, b.blocks, b.entities)
}
