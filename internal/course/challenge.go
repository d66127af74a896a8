package course

import (
	"time"

	"github.com/google/uuid"

	"coursekeeper.ai/internal/volume"
)

// DefaultMarkerBlocks are the block kinds a challenge indexes when the
// runtime config does not name its own.
var DefaultMarkerBlocks = []string{"START_PLATE", "CHECKPOINT_PLATE", "FINISH_PLATE"}

// Marker is a gameplay-relevant block found in the course at start time.
type Marker struct {
	Kind string
	Pos  [3]int
}

// Challenge is one mutation session of a level. It exists between
// StartChallenge and StopChallenge.
type Challenge struct {
	ID        string
	Level     string
	StartedAt time.Time

	markers []Marker
	endedAt time.Time
	over    bool
}

func newChallenge(level string, snap *volume.Snapshot, markerKinds []string, now time.Time) *Challenge {
	c := &Challenge{
		ID:        uuid.NewString(),
		Level:     level,
		StartedAt: now,
	}
	c.markers = parseMarkers(snap, markerKinds)
	return c
}

// parseMarkers scans the captured course in block index order.
func parseMarkers(snap *volume.Snapshot, kinds []string) []Marker {
	if snap == nil || len(kinds) == 0 {
		return nil
	}
	want := map[string]bool{}
	for _, k := range kinds {
		want[k] = true
	}
	palette := snap.Palette()
	hit := make([]bool, len(palette))
	found := false
	for i, name := range palette {
		if want[name] {
			hit[i] = true
			found = true
		}
	}
	if !found {
		return nil
	}
	origin := snap.Origin()
	var out []Marker
	for i, b := range snap.Blocks() {
		if !hit[b] {
			continue
		}
		p := snap.Pos(i)
		out = append(out, Marker{
			Kind: palette[b],
			Pos:  [3]int{origin[0] + p[0], origin[1] + p[1], origin[2] + p[2]},
		})
	}
	return out
}

func (c *Challenge) Markers() []Marker {
	return append([]Marker(nil), c.markers...)
}

// MarkersOf filters markers by block kind.
func (c *Challenge) MarkersOf(kind string) []Marker {
	var out []Marker
	for _, m := range c.markers {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (c *Challenge) Over() bool { return c.over }

func (c *Challenge) Elapsed(now time.Time) time.Duration {
	if c.over {
		return c.endedAt.Sub(c.StartedAt)
	}
	return now.Sub(c.StartedAt)
}

// destroy releases session state. The challenge must already be detached
// from its level.
func (c *Challenge) destroy(now time.Time) {
	c.over = true
	c.endedAt = now
	c.markers = nil
}
