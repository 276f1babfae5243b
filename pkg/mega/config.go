package mega

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/internal/config"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// Defaults applied by Config for zero values.
const (
	DefaultWorkers        = 4
	DefaultChunkSize      = 1 << 20
	DefaultRequestTimeout = 60 * time.Second
	DefaultChunkTimeout   = 5 * time.Minute

	maxChunkAttempts = 5
)

// Config configures sessions, public access and registration. The zero
// value is usable.
type Config struct {
	// BaseURL is the command endpoint; empty selects production.
	BaseURL string
	// Proxy is an optional http, https or socks5 proxy URL for this
	// session's transport only.
	Proxy     string
	UserAgent string

	RequestTimeout time.Duration
	ChunkTimeout   time.Duration

	// Workers bounds concurrent chunk transfers per job.
	Workers int
	// ChunkSize is the largest storage request. Requests carry whole MAC
	// chunks, whose boundaries are fixed by the file size alone, so a MAC
	// chunk longer than ChunkSize still travels in one request. Must be a
	// multiple of 16.
	ChunkSize int64
	// Resume persists resume records for every transfer, not only the
	// explicitly resumable ones.
	Resume bool
	// Previews generates and attaches thumbnails for uploaded images.
	Previews bool
	// BandwidthLimit caps aggregate transfer throughput in bytes per second
	// across all jobs of a session. Zero means unlimited.
	BandwidthLimit int64

	// ResumeDir holds resume records. Empty selects the per-user default
	// shared with the command-line client.
	ResumeDir string

	// RSAKeyBits sizes the key pair generated for accounts that have none.
	RSAKeyBits int

	Logger     *slog.Logger
	HTTPClient *http.Client
	Metrics    MetricsRecorder
	Observer   JobObserver
	Previewer  PreviewGenerator

	// sleepFunc waits between chunk retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// macSchedule is the MAC chunk layout. Tests shrink it to keep files
	// small; everything else uses megacrypto.StandardSchedule.
	macSchedule megacrypto.Schedule
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}

	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = DefaultChunkTimeout
	}

	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}

	if c.RSAKeyBits <= 0 {
		c.RSAKeyBits = megacrypto.DefaultRSABits
	}

	if c.ResumeDir == "" {
		c.ResumeDir = config.DefaultPaths().ResumeDir()
	}

	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}

	if c.Previewer == nil {
		c.Previewer = ImagePreviewer{}
	}

	if c.sleepFunc == nil {
		c.sleepFunc = api.Sleep
	}

	if c.macSchedule.Unit == 0 {
		c.macSchedule = megacrypto.StandardSchedule
	}

	return c
}

func (c Config) validate() error {
	if c.ChunkSize%megacrypto.BlockSize != 0 {
		return fmt.Errorf("%w: chunk size %d is not a multiple of %d",
			ErrInvalidArgument, c.ChunkSize, megacrypto.BlockSize)
	}

	if c.BandwidthLimit < 0 {
		return fmt.Errorf("%w: negative bandwidth limit", ErrInvalidArgument)
	}

	return nil
}

// newClient builds the command client for one session or public handle.
func (c Config) newClient() (*api.Client, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	hc := c.HTTPClient
	if hc == nil || c.Proxy != "" {
		var err error

		hc, err = api.NewHTTPClient(c.Proxy, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}

	return api.NewClient(api.Options{
		BaseURL:        c.BaseURL,
		HTTPClient:     hc,
		Logger:         c.Logger,
		UserAgent:      c.UserAgent,
		RequestTimeout: c.RequestTimeout,
	}), nil
}

// MetricsRecorder receives transfer measurements. internal/metrics provides
// the Prometheus implementation.
type MetricsRecorder interface {
	BytesTransferred(direction Direction, n int)
	ChunkCompleted(direction Direction)
	ChunkRetried(direction Direction)
	JobFinished(direction Direction, status JobStatus, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) BytesTransferred(Direction, int) {}
func (nopMetrics) ChunkCompleted(Direction) {}
func (nopMetrics) ChunkRetried(Direction) {}
func (nopMetrics) JobFinished(Direction, JobStatus, time.Duration) {}
