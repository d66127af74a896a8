package store

import (
	"time"

	"coursekeeper.ai/internal/persistence/snapshot"
)

type PersistEvent struct {
	Name     string
	Path     string
	Digest   snapshot.Hash
	Size     int
	Dims     [3]int
	Entities int
	Replaced bool
	Archived bool
	At       time.Time
}

type ArchiveEvent struct {
	Name       string
	Path       string
	SourcePath string
	Digest     snapshot.Hash
	At         time.Time
}

// Observer is told about completed store writes. Implementations must not
// block; the index, journal and mirror all queue or append.
type Observer interface {
	SnapshotPersisted(PersistEvent)
	SnapshotArchived(ArchiveEvent)
}

// Observers fans events out to every non-nil member in order.
type Observers []Observer

func (o Observers) SnapshotPersisted(ev PersistEvent) {
	for _, x := range o {
		if x != nil {
			x.SnapshotPersisted(ev)
		}
	}
}

func (o Observers) SnapshotArchived(ev ArchiveEvent) {
	for _, x := range o {
		if x != nil {
			x.SnapshotArchived(ev)
		}
	}
}
