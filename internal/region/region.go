package region

import (
	"fmt"
	"strings"
)

// Descriptor identifies a cuboid volume of a world. Both corners are inclusive.
type Descriptor struct {
	WorldID string
	Min     [3]int
	Max     [3]int
}

// Resolver reports whether a world id names a loaded world.
type Resolver interface {
	HasWorld(id string) bool
}

type InvalidRegionError struct {
	WorldID string
	Reason  string
}

func (e *InvalidRegionError) Error() string {
	if e.WorldID == "" {
		return "invalid region: " + e.Reason
	}
	return fmt.Sprintf("invalid region in world %s: %s", e.WorldID, e.Reason)
}

// New validates that min <= max on every axis.
func New(worldID string, min, max [3]int) (Descriptor, error) {
	worldID = strings.TrimSpace(worldID)
	if worldID == "" {
		return Descriptor{}, &InvalidRegionError{Reason: "empty world id"}
	}
	for i, axis := range [3]string{"x", "y", "z"} {
		if min[i] > max[i] {
			return Descriptor{}, &InvalidRegionError{
				WorldID: worldID,
				Reason:  fmt.Sprintf("min.%s=%d > max.%s=%d", axis, min[i], axis, max[i]),
			}
		}
	}
	return Descriptor{WorldID: worldID, Min: min, Max: max}, nil
}

// FromCorners builds a descriptor from two arbitrary opposite corners, as
// produced by a live selection.
func FromCorners(worldID string, a, b [3]int) (Descriptor, error) {
	var min, max [3]int
	for i := 0; i < 3; i++ {
		min[i], max[i] = a[i], b[i]
		if min[i] > max[i] {
			min[i], max[i] = max[i], min[i]
		}
	}
	return New(worldID, min, max)
}

// Resolve fails when the descriptor's world is not loaded.
func (d Descriptor) Resolve(r Resolver) error {
	if r == nil || !r.HasWorld(d.WorldID) {
		return &InvalidRegionError{WorldID: d.WorldID, Reason: "world is not loaded"}
	}
	return nil
}

func (d Descriptor) Dims() [3]int {
	return [3]int{
		d.Max[0] - d.Min[0] + 1,
		d.Max[1] - d.Min[1] + 1,
		d.Max[2] - d.Min[2] + 1,
	}
}

func (d Descriptor) Volume() int {
	dims := d.Dims()
	return dims[0] * dims[1] * dims[2]
}

func (d Descriptor) Contains(p [3]int) bool {
	for i := 0; i < 3; i++ {
		if p[i] < d.Min[i] || p[i] > d.Max[i] {
			return false
		}
	}
	return true
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%d,%d,%d)-(%d,%d,%d)", d.WorldID,
		d.Min[0], d.Min[1], d.Min[2], d.Max[0], d.Max[1], d.Max[2])
}
