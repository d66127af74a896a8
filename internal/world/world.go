package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"coursekeeper.ai/internal/region"
	"coursekeeper.ai/internal/volume"
)

// Editor is the host engine's region copy/paste primitive.
type Editor interface {
	// CaptureRegion copies every block (air included) and every entity of
	// the cuboid. It returns only once the copy is complete.
	CaptureRegion(ctx context.Context, r region.Descriptor) (*volume.Snapshot, error)
	// PasteBuffer writes snap with its minimum corner at origin. With
	// includeAir, air cells overwrite whatever is present.
	PasteBuffer(ctx context.Context, snap *volume.Snapshot, origin [3]int, includeAir bool) error
}

var ErrWorldUnavailable = errors.New("world unavailable")

// Registry resolves world ids to editors.
type Registry struct {
	mu     sync.RWMutex
	worlds map[string]Editor
}

func NewRegistry() *Registry {
	return &Registry{worlds: map[string]Editor{}}
}

func (r *Registry) Register(id string, e Editor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.worlds[id] = e
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.worlds, id)
}

func (r *Registry) HasWorld(id string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.worlds[id]
	return ok
}

func (r *Registry) Editor(id string) (Editor, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorldUnavailable, id)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.worlds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorldUnavailable, id)
	}
	return e, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.worlds))
	for id := range r.worlds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
