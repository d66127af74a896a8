package r2s3

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"coursekeeper.ai/internal/persistence/store"
)

const (
	CoursesKeyDir = "courses"
	HistoryKeyDir = "history"
)

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

type MirrorOptions struct {
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration

	// RetryBackoff is the base delay between attempts; attempt n waits
	// n*n*RetryBackoff.
	RetryBackoff time.Duration

	// UploadsPerSecond caps PUT requests across all workers; zero means
	// unlimited.
	UploadsPerSecond float64
	Logger           *log.Logger
}

type job struct {
	key       string
	localPath string
}

// Mirror uploads snapshot files written by the store to a bucket. Uploads
// run on a bounded worker pool; when the queue stays full past EnqueueWait
// the file is dropped and counted.
type Mirror struct {
	client  *Client
	prefix  string
	logger  *log.Logger
	backoff time.Duration
	limiter *rate.Limiter

	jobs        chan job
	enqueueWait time.Duration
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewMirror(client *Client, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 2048
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	limit := rate.Inf
	if opts.UploadsPerSecond > 0 {
		limit = rate.Limit(opts.UploadsPerSecond)
	}
	m := &Mirror{
		client:      client,
		limiter:     rate.NewLimiter(limit, opts.Workers),
		prefix:      strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/"),
		logger:      opts.Logger,
		backoff:     opts.RetryBackoff,
		jobs:        make(chan job, opts.QueueCapacity),
		enqueueWait: opts.EnqueueWait,
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for j := range m.jobs {
				m.uploadOne(j)
			}
		}()
	}
	return m
}

// CanonicalKey is the object key of a course's canonical snapshot file.
func (m *Mirror) CanonicalKey(name string) string {
	return m.key(CoursesKeyDir, name+store.Ext)
}

// HistoryKey is the object key of an archived snapshot file.
func (m *Mirror) HistoryKey(file string) string {
	return m.key(HistoryKeyDir, filepath.Base(file))
}

func (m *Mirror) key(dir, file string) string {
	k := path.Join(dir, file)
	if m.prefix != "" {
		k = path.Join(m.prefix, k)
	}
	return k
}

func (m *Mirror) SnapshotPersisted(ev store.PersistEvent) {
	if m == nil {
		return
	}
	m.Enqueue(m.CanonicalKey(ev.Name), ev.Path)
}

func (m *Mirror) SnapshotArchived(ev store.ArchiveEvent) {
	if m == nil {
		return
	}
	m.Enqueue(m.HistoryKey(ev.Path), ev.Path)
}

// Pull downloads the mirrored canonical snapshot of name to localPath.
func (m *Mirror) Pull(ctx context.Context, name, localPath string) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("mirror disabled")
	}
	return m.client.GetFile(ctx, m.CanonicalKey(name), localPath)
}

func (m *Mirror) Enqueue(key, localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.enqueuedTotal.Add(1)

	j := job{key: key, localPath: localPath}
	select {
	case m.jobs <- j:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- j:
		return
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("r2 mirror drop local=%s reason=queue_saturated wait_ms=%d dropped_total=%d", localPath, m.enqueueWait.Milliseconds(), dropped)
	}
}

// Close stops accepting uploads and waits for queued ones to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(j job) {
	if normalizeObjectKey(j.key) == "" {
		m.printf("r2 mirror skip local=%s err=invalid key %q", j.localPath, j.key)
		return
	}
	if err := m.uploadWithRetry(j.key, j.localPath); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("r2 mirror upload failed key=%s local=%s err=%v", j.key, j.localPath, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	m.printf("r2 mirror uploaded key=%s local=%s", j.key, j.localPath)
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.limiter.Wait(ctx)
		if err == nil {
			err = m.client.PutFile(ctx, key, localPath)
		}
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	return lastErr
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
