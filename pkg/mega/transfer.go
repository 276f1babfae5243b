package mega

import (
	"context"
	"fmt"
	"log/slog"
)

// Retry starts a new job for a failed or paused one. The new job continues
// from the chunks the old one completed and records the old job's id in
// RetryOf.
func (s *Session) Retry(ctx context.Context, j *Job) (*Job, error) {
	return retryJob(ctx, j)
}

// Resume restarts a paused job in place.
func (s *Session) Resume(ctx context.Context, j *Job) error {
	return resumeJob(ctx, j)
}

func retryJob(ctx context.Context, j *Job) (*Job, error) {
	if j == nil {
		return nil, fmt.Errorf("%w: nil job", ErrInvalidArgument)
	}

	j.mu.Lock()
	status, st := j.status, j.state
	j.mu.Unlock()

	if status != StatusFailed && status != StatusPaused {
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidArgument, j.ID, status)
	}

	nj := newJob(j.eng, j.Direction, j.LocalPath, j.RemotePath, j.resumable, j.run)
	nj.RetryOf = j.ID
	nj.state = st
	nj.node = j.Node()

	j.eng.logger.Info("retrying transfer",
		slog.String("job", nj.ID),
		slog.String("retry_of", j.ID),
		slog.String("direction", j.Direction.String()),
	)

	nj.start(ctx)

	return nj, nil
}

func resumeJob(ctx context.Context, j *Job) error {
	if j == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidArgument)
	}

	if err := j.rearm(); err != nil {
		return err
	}

	j.eng.logger.Info("resuming transfer", slog.String("job", j.ID))
	j.start(ctx)

	return nil
}
