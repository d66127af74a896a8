package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"coursekeeper.ai/internal/persistence/r2s3"
	"coursekeeper.ai/internal/persistence/store"
)

const namespace = "coursekeeper"

// Recorder counts store writes per course name. It is a store.Observer.
type Recorder struct {
	reg *prometheus.Registry

	persisted *prometheus.CounterVec
	archived  *prometheus.CounterVec
	replaced  *prometheus.CounterVec
	bytes     *prometheus.GaugeVec
	lastWrite *prometheus.GaugeVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		persisted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_persisted_total",
			Help:      "Canonical snapshot writes.",
		}, []string{"course"}),
		archived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_archived_total",
			Help:      "Canonical snapshots copied into history.",
		}, []string{"course"}),
		replaced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_replaced_total",
			Help:      "Canonical writes that replaced an existing file.",
		}, []string{"course"}),
		bytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes",
			Help:      "Encoded size of the current canonical snapshot.",
		}, []string{"course"}),
		lastWrite: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_last_persist_timestamp_seconds",
			Help:      "Unix time of the last canonical write.",
		}, []string{"course"}),
	}
}

func (s *Recorder) Registry() *prometheus.Registry { return s.reg }

func (s *Recorder) SnapshotPersisted(ev store.PersistEvent) {
	if s == nil {
		return
	}
	s.persisted.WithLabelValues(ev.Name).Inc()
	if ev.Replaced {
		s.replaced.WithLabelValues(ev.Name).Inc()
	}
	s.bytes.WithLabelValues(ev.Name).Set(float64(ev.Size))
	s.lastWrite.WithLabelValues(ev.Name).Set(float64(ev.At.Unix()))
}

func (s *Recorder) SnapshotArchived(ev store.ArchiveEvent) {
	if s == nil {
		return
	}
	s.archived.WithLabelValues(ev.Name).Inc()
}

// ObserveMirror exports the mirror's queue and upload counters.
func (s *Recorder) ObserveMirror(m *r2s3.Mirror) {
	if s == nil || m == nil {
		return
	}
	f := promauto.With(s.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "mirror", Name: "queue_depth",
		Help: "Uploads waiting in the mirror queue.",
	}, func() float64 { return float64(m.Stats().QueueDepth) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "mirror", Name: "uploads_total",
		Help: "Successful mirror uploads.",
	}, func() float64 { return float64(m.Stats().UploadSuccessTotal) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "mirror", Name: "upload_failures_total",
		Help: "Mirror uploads that failed after retries.",
	}, func() float64 { return float64(m.Stats().UploadFailTotal) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "mirror", Name: "dropped_total",
		Help: "Uploads dropped because the queue stayed full.",
	}, func() float64 { return float64(m.Stats().DroppedTotal) })
}

// ObserveDropped exports a drop counter of an asynchronous observer, such
// as the sqlite index.
func (s *Recorder) ObserveDropped(subsystem string, dropped func() uint64) {
	if s == nil || dropped == nil {
		return
	}
	promauto.With(s.reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: "dropped_total",
		Help: "Events dropped because the queue was full.",
	}, func() float64 { return float64(dropped()) })
}

// WriteTextfile writes the registry in the text exposition format, for a
// node exporter textfile collector.
func (s *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, s.reg)
}
