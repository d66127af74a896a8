// Package memworld is an in-memory chunked voxel world implementing
// world.Editor. The admin tool and tests use it in place of a live host.
package memworld

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"coursekeeper.ai/internal/region"
	"coursekeeper.ai/internal/volume"
	"coursekeeper.ai/internal/world"
)

// Entity is a world entity at an absolute position.
type Entity struct {
	ID    string
	Kind  string
	Pos   [3]float64
	Props []volume.Prop
}

type World struct {
	id string

	mu       sync.Mutex
	loaded   bool
	palette  []string
	index    map[string]uint16
	chunks   map[ChunkKey]*Chunk
	entities map[string]Entity
}

func New(id string) *World {
	w := &World{
		id:       id,
		loaded:   true,
		index:    map[string]uint16{},
		chunks:   map[ChunkKey]*Chunk{},
		entities: map[string]Entity{},
	}
	w.intern(volume.Air)
	return w
}

func (w *World) ID() string { return w.id }

// Unload makes every later edit fail with world.ErrWorldUnavailable.
func (w *World) Unload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loaded = false
}

// ErrPaletteFull is returned when a write would need a block id past the
// uint16 range.
var ErrPaletteFull = errors.New("memworld: palette full")

func (w *World) intern(name string) (uint16, error) {
	if id, ok := w.index[name]; ok {
		return id, nil
	}
	if len(w.palette) >= volume.MaxPalette {
		return 0, fmt.Errorf("%w: cannot add %q", ErrPaletteFull, name)
	}
	id := uint16(len(w.palette))
	w.palette = append(w.palette, name)
	w.index[name] = id
	return id, nil
}

func (w *World) chunkAt(x, y, z int, create bool) (*Chunk, int, int, int) {
	k := ChunkKey{CX: floorDiv(x, ChunkSize), CY: floorDiv(y, ChunkSize), CZ: floorDiv(z, ChunkSize)}
	ch, ok := w.chunks[k]
	if !ok && create {
		ch = newChunk(k)
		w.chunks[k] = ch
	}
	return ch, mod(x, ChunkSize), mod(y, ChunkSize), mod(z, ChunkSize)
}

func (w *World) getLocked(x, y, z int) string {
	ch, lx, ly, lz := w.chunkAt(x, y, z, false)
	if ch == nil {
		return volume.Air
	}
	return w.palette[ch.Get(lx, ly, lz)]
}

func (w *World) setLocked(x, y, z int, name string) error {
	if name == "" {
		name = volume.Air
	}
	id, err := w.intern(name)
	if err != nil {
		return err
	}
	ch, lx, ly, lz := w.chunkAt(x, y, z, id != 0)
	if ch == nil {
		return nil
	}
	ch.Set(lx, ly, lz, id)
	return nil
}

func (w *World) GetBlock(x, y, z int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.getLocked(x, y, z)
}

func (w *World) SetBlock(x, y, z int, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setLocked(x, y, z, name)
}

func (w *World) SpawnEntity(e Entity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e.Props = append([]volume.Prop(nil), e.Props...)
	w.entities[e.ID] = e
}

func (w *World) RemoveEntity(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entities, id)
}

// Entities returns every entity sorted by id.
func (w *World) Entities() []Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entity, 0, len(w.entities))
	for _, e := range w.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadedChunks is the number of chunks holding at least one written block.
func (w *World) LoadedChunks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.chunks)
}

// inCuboid treats block cells as unit cubes, so an entity standing at
// x=max+0.5 is still inside.
func inCuboid(p [3]float64, min, max [3]int) bool {
	for i := 0; i < 3; i++ {
		if p[i] < float64(min[i]) || p[i] >= float64(max[i]+1) {
			return false
		}
	}
	return true
}

func (w *World) CaptureRegion(ctx context.Context, r region.Descriptor) (*volume.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.WorldID != w.id {
		return nil, fmt.Errorf("%w: region world %s, editor world %s", world.ErrWorldUnavailable, r.WorldID, w.id)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return nil, fmt.Errorf("%w: %s", world.ErrWorldUnavailable, w.id)
	}

	dims := r.Dims()
	b := volume.NewBuilder(r.Min, dims)
	for y := 0; y < dims[1]; y++ {
		for z := 0; z < dims[2]; z++ {
			for x := 0; x < dims[0]; x++ {
				b.Set(x, y, z, w.getLocked(r.Min[0]+x, r.Min[1]+y, r.Min[2]+z))
			}
		}
	}

	ids := make([]string, 0, len(w.entities))
	for id, e := range w.entities {
		if inCuboid(e.Pos, r.Min, r.Max) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := w.entities[id]
		b.AddEntity(volume.Entity{
			ID:   e.ID,
			Kind: e.Kind,
			Offset: [3]float64{
				e.Pos[0] - float64(r.Min[0]),
				e.Pos[1] - float64(r.Min[1]),
				e.Pos[2] - float64(r.Min[2]),
			},
			Props: e.Props,
		})
	}
	return b.Build()
}

func (w *World) PasteBuffer(ctx context.Context, snap *volume.Snapshot, origin [3]int, includeAir bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("paste: nil snapshot")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.loaded {
		return fmt.Errorf("%w: %s", world.ErrWorldUnavailable, w.id)
	}

	// Refuse up front so a full palette never leaves a half-pasted region.
	added := 0
	for _, name := range snap.Palette() {
		if _, ok := w.index[name]; !ok {
			added++
		}
	}
	if len(w.palette)+added > volume.MaxPalette {
		return fmt.Errorf("%w: paste needs %d new names, %d free", ErrPaletteFull, added, volume.MaxPalette-len(w.palette))
	}

	dims := snap.Dims()
	for y := 0; y < dims[1]; y++ {
		for z := 0; z < dims[2]; z++ {
			for x := 0; x < dims[0]; x++ {
				name := snap.BlockAt(x, y, z)
				if name == volume.Air && !includeAir {
					continue
				}
				if err := w.setLocked(origin[0]+x, origin[1]+y, origin[2]+z, name); err != nil {
					return err
				}
			}
		}
	}

	if includeAir {
		max := [3]int{origin[0] + dims[0] - 1, origin[1] + dims[1] - 1, origin[2] + dims[2] - 1}
		for id, e := range w.entities {
			if inCuboid(e.Pos, origin, max) {
				delete(w.entities, id)
			}
		}
	}
	for _, e := range snap.Entities() {
		w.entities[e.ID] = Entity{
			ID:   e.ID,
			Kind: e.Kind,
			Pos: [3]float64{
				float64(origin[0]) + e.Offset[0],
				float64(origin[1]) + e.Offset[1],
				float64(origin[2]) + e.Offset[2],
			},
			Props: e.Props,
		}
	}
	return nil
}

// Digest hashes every non-empty chunk in key order. The palette is
// append-only, so ids are stable for the life of the world and two digests
// of one world are comparable. Chunks that hold only air are skipped.
func (w *World) Digest() [32]byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]ChunkKey, 0, len(w.chunks))
	for k, ch := range w.chunks {
		if !ch.empty() {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.CX != b.CX {
			return a.CX < b.CX
		}
		if a.CY != b.CY {
			return a.CY < b.CY
		}
		return a.CZ < b.CZ
	})

	h := sha256.New()
	var tmp [8]byte
	for _, k := range keys {
		for _, v := range [3]int{k.CX, k.CY, k.CZ} {
			binary.LittleEndian.PutUint64(tmp[:], uint64(v))
			h.Write(tmp[:])
		}
		d := w.chunks[k].Digest()
		h.Write(d[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
