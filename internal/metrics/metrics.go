// Package metrics defines the Prometheus metrics exported by soundshelf.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	// Upload pipeline
	UploadsTotal      *prometheus.CounterVec // soundshelf_uploads_total{kind,outcome}
	FilesTranscoded   *prometheus.CounterVec // soundshelf_files_transcoded_total{outcome}
	TranscodeDuration prometheus.Histogram   // soundshelf_transcode_duration_seconds
	TranscodesActive  prometheus.Gauge       // soundshelf_transcodes_active

	// Quota ledger
	QuotaDenials  prometheus.Counter // soundshelf_quota_denials_total
	BytesReserved prometheus.Counter // soundshelf_quota_reserved_bytes_total
	BytesReleased prometheus.Counter // soundshelf_quota_released_bytes_total

	// Sharing
	GrantsTotal *prometheus.CounterVec // soundshelf_grants_total{level}

	// Object store
	StoreOps *prometheus.CounterVec // soundshelf_object_store_operations_total{operation,status}
}

// Init registers the metrics once; later calls return the same instance.
// A nil registry uses the default registerer.
func Init(registry prometheus.Registerer) *Metrics {
	once.Do(func() {
		instance = newMetrics(registry)
	})
	return instance
}

// New builds an unshared instance on the given registry. Tests use it with a
// fresh prometheus.NewRegistry().
func New(registry prometheus.Registerer) *Metrics {
	return newMetrics(registry)
}

func newMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)
	return &Metrics{
		UploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soundshelf_uploads_total",
			Help: "Upload requests by kind and outcome",
		}, []string{"kind", "outcome"}),

		FilesTranscoded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soundshelf_files_transcoded_total",
			Help: "Files passed through the encoder by outcome",
		}, []string{"outcome"}),

		TranscodeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundshelf_transcode_duration_seconds",
			Help:    "Encoder wall time per file",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		TranscodesActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "soundshelf_transcodes_active",
			Help: "Encoder slots currently held",
		}),

		QuotaDenials: f.NewCounter(prometheus.CounterOpts{
			Name: "soundshelf_quota_denials_total",
			Help: "Reservations denied because the storage cap would be exceeded",
		}),

		BytesReserved: f.NewCounter(prometheus.CounterOpts{
			Name: "soundshelf_quota_reserved_bytes_total",
			Help: "Bytes charged to user quotas",
		}),

		BytesReleased: f.NewCounter(prometheus.CounterOpts{
			Name: "soundshelf_quota_released_bytes_total",
			Help: "Bytes credited back to user quotas",
		}),

		GrantsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soundshelf_grants_total",
			Help: "Access grants applied by level (album, song, object)",
		}, []string{"level"}),

		StoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soundshelf_object_store_operations_total",
			Help: "Object store calls by operation and status",
		}, []string{"operation", "status"}),
	}
}
