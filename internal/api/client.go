package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25

	// DefaultUserAgent is sent when the caller does not configure one.
	DefaultUserAgent = "mega-go/0.1"

	// DefaultBaseURL is the production command endpoint.
	DefaultBaseURL = "https://g.api.mega.co.nz"

	maxResponseSize = 256 << 20
)

// Client talks to the command endpoint. It numbers requests, attaches the
// session id, retries transient failures with exponential backoff and
// classifies server error codes.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	userAgent      string
	requestTimeout time.Duration

	mu     sync.RWMutex
	sid    string
	folder string

	seq *atomic.Uint64

	// sleepFunc is called to wait between retries. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *slog.Logger
	UserAgent      string
	RequestTimeout time.Duration
}

// NewClient creates a command client.
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	seq := &atomic.Uint64{}
	seq.Store(rand.Uint64N(1 << 32)) //nolint:gosec // request ids need no crypto rand

	return &Client{
		baseURL:        opts.BaseURL,
		httpClient:     opts.HTTPClient,
		logger:         opts.Logger,
		userAgent:      opts.UserAgent,
		requestTimeout: opts.RequestTimeout,
		seq:            seq,
		sleepFunc:      timeSleep,
	}
}

// SetSessionID attaches sid to every following command.
func (c *Client) SetSessionID(sid string) {
	c.mu.Lock()
	c.sid = sid
	c.mu.Unlock()
}

// SessionID returns the current session id, empty when anonymous.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.sid
}

// WithFolder returns an anonymous client scoped to the public folder with
// the given public handle. It shares the transport and request counter.
func (c *Client) WithFolder(publicHandle string) *Client {
	return &Client{
		baseURL:        c.baseURL,
		httpClient:     c.httpClient,
		logger:         c.logger,
		userAgent:      c.userAgent,
		requestTimeout: c.requestTimeout,
		folder:         publicHandle,
		seq:            c.seq,
		sleepFunc:      c.sleepFunc,
	}
}

// HTTPClient exposes the underlying transport for storage requests made
// outside the client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// call sends one command and decodes its single result into out (which may
// be nil). Transient failures are retried; server error codes come back as
// *APIError.
func (c *Client) call(ctx context.Context, action string, req, out any) error {
	body, err := json.Marshal([]any{req})
	if err != nil {
		return fmt.Errorf("api: marshaling %s request: %w", action, err)
	}

	var attempt int
	for {
		raw, err := c.doOnce(ctx, action, body)
		if err == nil {
			if out == nil || len(raw) == 0 {
				return nil
			}

			if decErr := json.Unmarshal(raw, out); decErr != nil {
				return fmt.Errorf("api: decoding %s response: %w", action, decErr)
			}

			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("api: %s canceled: %w", action, ctx.Err())
		}

		if !c.retryable(err) || attempt >= maxRetries {
			if attempt > 0 {
				c.logger.Error("command failed after retries",
					slog.String("action", action),
					slog.Int("attempts", attempt+1),
					slog.String("error", err.Error()),
				)
			}

			return err
		}

		backoff := c.calcBackoff(attempt)
		c.logger.Warn("retrying command",
			slog.String("action", action),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return fmt.Errorf("api: %s canceled: %w", action, sleepErr)
		}

		attempt++
	}
}

// retryable is narrower than IsRetryable: command-level retries skip
// ErrTooManyConnections, which only applies to storage.
func (c *Client) retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrAgain) || errors.Is(err, ErrTempUnavailable)
}

// doOnce executes a single command request and returns the raw JSON of the
// first result.
func (c *Client) doOnce(ctx context.Context, action string, body []byte) (json.RawMessage, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.commandURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("api: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNetwork, action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrNetwork, action, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(respBody))}
	}

	c.logger.Debug("command completed",
		slog.String("action", action),
		slog.Duration("elapsed", time.Since(start)),
	)

	return parseResult(action, respBody)
}

func (c *Client) commandURL() string {
	q := url.Values{}
	q.Set("id", strconv.FormatUint(c.seq.Add(1), 10))

	c.mu.RLock()
	if c.sid != "" {
		q.Set("sid", c.sid)
	}

	if c.folder != "" {
		q.Set("n", c.folder)
	}
	c.mu.RUnlock()

	return c.baseURL + "/cs?" + q.Encode()
}

// parseResult unwraps the response array and turns numeric error codes into
// *APIError. A bare negative integer answers the whole request.
func parseResult(action string, body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)

	if code, ok := errorCode(body); ok {
		return nil, NewAPIError(action, code)
	}

	var results []json.RawMessage
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("%w: malformed %s response: %w", ErrNetwork, action, err)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: empty %s response", ErrNetwork, action)
	}

	first := bytes.TrimSpace(results[0])
	if code, ok := errorCode(first); ok {
		return nil, NewAPIError(action, code)
	}

	return first, nil
}

// errorCode reports whether b is a bare negative integer.
func errorCode(b []byte) (int, bool) {
	if len(b) < 2 || b[0] != '-' {
		return 0, false
	}

	code, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, false
	}

	return code, true
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	return CalcBackoff(attempt)
}

// CalcBackoff computes exponential backoff with ±25% jitter for attempt
// (zero-based). Exported for the chunk retry loop in the transfer engine.
func CalcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is canceled.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
