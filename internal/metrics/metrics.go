// Package metrics provides Prometheus metrics for transfers.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tonimelisma/mega-go/pkg/mega"
)

const namespace = "mega"

// Recorder implements mega.MetricsRecorder on a Prometheus registry.
type Recorder struct {
	bytes       *prometheus.CounterVec
	chunks      *prometheus.CounterVec
	retries     *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

var _ mega.MetricsRecorder = (*Recorder)(nil)

// New registers the transfer metrics with reg. A nil reg registers nothing,
// which suits one-off commands that only read the values back.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)

	return &Recorder{
		bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_bytes_total",
				Help:      "Plaintext bytes transferred by completed chunks",
			},
			[]string{"direction"},
		),
		chunks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_chunks_total",
				Help:      "Chunks transferred",
			},
			[]string{"direction"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_chunk_retries_total",
				Help:      "Chunk attempts retried after a network failure",
			},
			[]string{"direction"},
		),
		jobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_jobs_total",
				Help:      "Transfer jobs that stopped, by final status",
			},
			[]string{"direction", "status"},
		),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_job_duration_seconds",
				Help:      "Time a job ran before it stopped",
				Buckets:   prometheus.ExponentialBuckets(0.05, 4, 9),
			},
			[]string{"direction"},
		),
	}
}

// BytesTransferred implements mega.MetricsRecorder.
func (r *Recorder) BytesTransferred(dir mega.Direction, n int) {
	r.bytes.WithLabelValues(dir.String()).Add(float64(n))
}

// ChunkCompleted implements mega.MetricsRecorder.
func (r *Recorder) ChunkCompleted(dir mega.Direction) {
	r.chunks.WithLabelValues(dir.String()).Inc()
}

// ChunkRetried implements mega.MetricsRecorder.
func (r *Recorder) ChunkRetried(dir mega.Direction) {
	r.retries.WithLabelValues(dir.String()).Inc()
}

// JobFinished implements mega.MetricsRecorder.
func (r *Recorder) JobFinished(dir mega.Direction, status mega.JobStatus, elapsed time.Duration) {
	r.jobs.WithLabelValues(dir.String(), status.String()).Inc()
	r.jobDuration.WithLabelValues(dir.String()).Observe(elapsed.Seconds())
}

// WriteTextfile writes every metric gathered by g to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("metrics: writing %s: %w", path, err)
	}

	return nil
}
