package app

import (
	"errors"
	"fmt"
	"log"
	"time"

	"coursekeeper.ai/internal/config"
	"coursekeeper.ai/internal/course"
	"coursekeeper.ai/internal/metrics"
	"coursekeeper.ai/internal/persistence/indexdb"
	journal "coursekeeper.ai/internal/persistence/log"
	"coursekeeper.ai/internal/persistence/r2s3"
	"coursekeeper.ai/internal/persistence/store"
	"coursekeeper.ai/internal/world"
	"coursekeeper.ai/internal/world/memworld"
)

// Runtime is one wired instance: store with its observers, the world
// registry and the level manager.
type Runtime struct {
	Config  config.Config
	Store   *store.Store
	Worlds  *world.Registry
	Manager *course.Manager

	Index   *indexdb.SQLiteIndex
	Journal *journal.Journal
	Mirror  *r2s3.Mirror
	Metrics *metrics.Recorder

	logger          *log.Logger
	metricsTextfile string
}

type Options struct {
	Logger *log.Logger
	Now    func() time.Time

	// Worlds, when set, replaces the registry built from the config.
	Worlds *world.Registry

	// MetricsTextfile, when set, receives the metrics on Close.
	MetricsTextfile string
}

func Open(cfg config.Config, opts Options) (*Runtime, error) {
	rt := &Runtime{
		Config:          cfg,
		Metrics:         metrics.New(),
		logger:          opts.Logger,
		metricsTextfile: opts.MetricsTextfile,
	}

	observers := store.Observers{rt.Metrics}
	if cfg.Index.Backend == config.IndexSQLite {
		idx, err := indexdb.OpenSQLite(cfg.Index.Path)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		rt.Index = idx
		rt.Metrics.ObserveDropped("index", idx.Dropped)
		observers = append(observers, idx)
	}
	if cfg.Journal.Enabled {
		j := journal.NewJournal(cfg.Journal.Dir)
		j.OnError(func(err error) { rt.printf("journal write failed: %v", err) })
		rt.Journal = j
		observers = append(observers, j)
	}
	if cfg.Mirror.Enabled {
		client, err := r2s3.New(cfg.Mirror.Endpoint, cfg.Mirror.Bucket, cfg.Mirror.AccessKeyID, cfg.Mirror.SecretAccessKey)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("mirror client: %w", err)
		}
		rt.Mirror = r2s3.NewMirror(client, r2s3.MirrorOptions{
			Prefix:           cfg.Mirror.Prefix,
			Workers:          cfg.Mirror.Workers,
			QueueCapacity:    cfg.Mirror.QueueCapacity,
			EnqueueWait:      cfg.Mirror.EnqueueWait(),
			UploadsPerSecond: cfg.Mirror.UploadsPerSecond,
			Logger:           opts.Logger,
		})
		rt.Metrics.ObserveMirror(rt.Mirror)
		observers = append(observers, rt.Mirror)
	}

	st, err := store.New(store.Options{
		CoursesDir: cfg.CoursesDir,
		HistoryDir: cfg.HistoryDir,
		Format:     cfg.Format(),
		Now:        opts.Now,
		Logger:     opts.Logger,
		Observer:   observers,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Store = st

	rt.Worlds = opts.Worlds
	if rt.Worlds == nil {
		rt.Worlds = world.NewRegistry()
		for _, id := range cfg.Worlds {
			rt.Worlds.Register(id, memworld.New(id))
		}
	}

	rt.Manager = course.NewManager(&course.Env{
		LevelsDir:    cfg.LevelsDir,
		Store:        st,
		Worlds:       rt.Worlds,
		MarkerBlocks: cfg.MarkerBlocks,
		Logger:       opts.Logger,
		Now:          opts.Now,
	})
	rt.printf("runtime open data=%s index=%s journal=%v mirror=%v worlds=%d",
		cfg.DataDir, cfg.Index.Backend, cfg.Journal.Enabled, cfg.Mirror.Enabled, len(rt.Worlds.IDs()))
	return rt, nil
}

// Close drains the mirror queue, closes the journal and the index, then
// writes the metrics textfile if one was requested.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Mirror != nil {
		r.Mirror.Close()
	}
	if r.metricsTextfile != "" {
		errs = append(errs, r.Metrics.WriteTextfile(r.metricsTextfile))
	}
	if r.Journal != nil {
		errs = append(errs, r.Journal.Close())
	}
	if r.Index != nil {
		errs = append(errs, r.Index.Close())
	}
	return errors.Join(errs...)
}

func (r *Runtime) printf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
