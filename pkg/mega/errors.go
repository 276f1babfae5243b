package mega

import (
	"context"
	"errors"
	"fmt"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// Error kinds. Every error returned by this package matches exactly one of
// these with errors.Is, so callers can branch on recoverability.
var (
	ErrNetwork       = errors.New("mega: network failure")
	ErrCrypto        = errors.New("mega: crypto failure")
	ErrNotFound      = errors.New("mega: not found")
	ErrConflict      = errors.New("mega: conflict")
	ErrQuotaExceeded = errors.New("mega: quota exceeded")
	ErrAuth          = errors.New("mega: authentication failed")

	// ErrIO marks local filesystem failures (reading the upload source,
	// writing the download target, resume state).
	ErrIO = errors.New("mega: local I/O failure")

	// ErrInvalidArgument is returned before any network call for malformed
	// paths, names, URLs and access levels.
	ErrInvalidArgument = errors.New("mega: invalid argument")

	// ErrPaused is returned by Job.Wait when the job was canceled and can
	// be resumed.
	ErrPaused = errors.New("mega: transfer paused")
)

// AuthReason says why authentication failed.
type AuthReason int

// Authentication failure reasons.
const (
	AuthInvalidCredentials AuthReason = iota
	AuthNetwork
	AuthRateLimited
	AuthExpired
	AuthBlocked
)

func (r AuthReason) String() string {
	switch r {
	case AuthInvalidCredentials:
		return "invalid credentials"
	case AuthNetwork:
		return "network error"
	case AuthRateLimited:
		return "rate limited"
	case AuthExpired:
		return "session expired"
	case AuthBlocked:
		return "account blocked"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// AuthError is returned by login, load and any call made with a session the
// server no longer accepts. errors.Is(err, ErrAuth) matches it; AuthNetwork
// failures also match ErrNetwork.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mega: authentication failed (%s): %v", e.Reason, e.Err)
	}

	return fmt.Sprintf("mega: authentication failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches ErrAuth, and ErrNetwork for network-caused failures.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuth || (target == ErrNetwork && e.Reason == AuthNetwork)
}

// classify maps transport and crypto errors onto the package error kinds.
// Errors that already carry a kind pass through unchanged.
func classify(err error) error {
	if err == nil || alreadyClassified(err) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, api.ErrNetwork) {
			return fmt.Errorf("%w: %w", ErrNetwork, err)
		}

		return err
	}

	var kind error

	switch {
	case errors.Is(err, api.ErrSession):
		return &AuthError{Reason: AuthExpired, Err: err}
	case errors.Is(err, api.ErrBlocked):
		return &AuthError{Reason: AuthBlocked, Err: err}
	case errors.Is(err, megacrypto.ErrCrypto), errors.Is(err, api.ErrKey):
		kind = ErrCrypto
	case errors.Is(err, api.ErrNotFound):
		kind = ErrNotFound
	case errors.Is(err, api.ErrOverQuota):
		kind = ErrQuotaExceeded
	case api.IsRetryable(err), errors.Is(err, api.ErrRateLimit), errors.Is(err, api.ErrInternal),
		errors.Is(err, api.ErrHTTPStatus):
		kind = ErrNetwork
	default:
		kind = ErrConflict
	}

	return fmt.Errorf("%w: %w", kind, err)
}

func alreadyClassified(err error) bool {
	for _, kind := range []error{
		ErrNetwork, ErrCrypto, ErrNotFound, ErrConflict, ErrQuotaExceeded,
		ErrAuth, ErrIO, ErrInvalidArgument, ErrPaused,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}

	return false
}

// authFromAPI classifies errors during login and session load.
func authFromAPI(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, api.ErrRateLimit):
		return &AuthError{Reason: AuthRateLimited, Err: err}
	case errors.Is(err, api.ErrBlocked):
		return &AuthError{Reason: AuthBlocked, Err: err}
	case errors.Is(err, api.ErrSession), errors.Is(err, api.ErrExpired):
		return &AuthError{Reason: AuthExpired, Err: err}
	case errors.Is(err, api.ErrNetwork), api.IsRetryable(err), errors.Is(err, api.ErrHTTPStatus),
		errors.Is(err, context.DeadlineExceeded):
		return &AuthError{Reason: AuthNetwork, Err: err}
	default:
		return &AuthError{Reason: AuthInvalidCredentials, Err: err}
	}
}

// loginRefreshError maps a failed first listing during Login. The handshake
// is not done until the tree loads, so network trouble there is still an
// authentication failure.
func loginRefreshError(err error) error {
	var ae *AuthError
	if errors.As(err, &ae) || errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded) {
		return &AuthError{Reason: AuthNetwork, Err: err}
	}

	return err
}

func ioError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}
