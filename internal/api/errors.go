// Package api is the transport for the storage service: a JSON command
// channel with retry and error-code classification, and a storage channel
// for encrypted chunk and file-attribute bodies.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Server error codes. The command channel answers with a bare negative
// integer (or an array holding one) when a command fails.
const (
	CodeInternal           = -1
	CodeArgs               = -2
	CodeAgain              = -3
	CodeRateLimit          = -4
	CodeFailed             = -5
	CodeTooMany            = -6
	CodeRange              = -7
	CodeExpired            = -8
	CodeNotFound           = -9
	CodeCircular           = -10
	CodeAccess             = -11
	CodeExists             = -12
	CodeIncomplete         = -13
	CodeKey                = -14
	CodeSession            = -15
	CodeBlocked            = -16
	CodeOverQuota          = -17
	CodeTempUnavailable    = -18
	CodeTooManyConnections = -19
	CodeWrite              = -20
	CodeRead               = -21
	CodeAppKey             = -22
)

// Sentinel errors for server error codes. Use errors.Is(err, api.ErrNotFound).
var (
	ErrInternal           = errors.New("api: internal error")
	ErrArgs               = errors.New("api: invalid arguments")
	ErrAgain              = errors.New("api: try again")
	ErrRateLimit          = errors.New("api: rate limited")
	ErrFailed             = errors.New("api: request failed")
	ErrTooMany            = errors.New("api: too many concurrent requests")
	ErrRange              = errors.New("api: out of range")
	ErrExpired            = errors.New("api: expired")
	ErrNotFound           = errors.New("api: not found")
	ErrCircular           = errors.New("api: circular linkage")
	ErrAccess             = errors.New("api: access denied")
	ErrExists             = errors.New("api: already exists")
	ErrIncomplete         = errors.New("api: incomplete")
	ErrKey                = errors.New("api: invalid key")
	ErrSession            = errors.New("api: invalid or expired session")
	ErrBlocked            = errors.New("api: account blocked")
	ErrOverQuota          = errors.New("api: over quota")
	ErrTempUnavailable    = errors.New("api: temporarily unavailable")
	ErrTooManyConnections = errors.New("api: too many connections")
	ErrWrite              = errors.New("api: write failed")
	ErrRead               = errors.New("api: read failed")
	ErrAppKey             = errors.New("api: invalid application key")
	ErrUnknownCode        = errors.New("api: unknown error code")

	// ErrNetwork marks transport failures: connection errors, timeouts,
	// 5xx responses and malformed bodies. These are safe to retry.
	ErrNetwork = errors.New("api: network failure")

	// ErrHTTPStatus marks an unexpected non-retryable HTTP status.
	ErrHTTPStatus = errors.New("api: unexpected HTTP status")
)

var codeSentinels = map[int]error{
	CodeInternal:           ErrInternal,
	CodeArgs:               ErrArgs,
	CodeAgain:              ErrAgain,
	CodeRateLimit:          ErrRateLimit,
	CodeFailed:             ErrFailed,
	CodeTooMany:            ErrTooMany,
	CodeRange:              ErrRange,
	CodeExpired:            ErrExpired,
	CodeNotFound:           ErrNotFound,
	CodeCircular:           ErrCircular,
	CodeAccess:             ErrAccess,
	CodeExists:             ErrExists,
	CodeIncomplete:         ErrIncomplete,
	CodeKey:                ErrKey,
	CodeSession:            ErrSession,
	CodeBlocked:            ErrBlocked,
	CodeOverQuota:          ErrOverQuota,
	CodeTempUnavailable:    ErrTempUnavailable,
	CodeTooManyConnections: ErrTooManyConnections,
	CodeWrite:              ErrWrite,
	CodeRead:               ErrRead,
	CodeAppKey:             ErrAppKey,
}

// APIError wraps a sentinel with the numeric server code and the command
// that produced it.
type APIError struct {
	Code   int
	Action string
	Err    error // sentinel, for errors.Is()
}

// NewAPIError builds an APIError for code.
func NewAPIError(action string, code int) *APIError {
	sentinel, ok := codeSentinels[code]
	if !ok {
		sentinel = ErrUnknownCode
	}

	return &APIError{Code: code, Action: action, Err: sentinel}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s: error %d: %s", e.Action, e.Code, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// HTTPError is returned for non-200 responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	if isRetryableStatus(e.StatusCode) {
		return ErrNetwork
	}

	return ErrHTTPStatus
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a transient failure: a network-class
// error or a server code asking the client to come back later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrAgain) ||
		errors.Is(err, ErrTempUnavailable) ||
		errors.Is(err, ErrTooManyConnections)
}
