// Package jobrun drives a remote scraping job to a terminal status through a
// bounded poll loop.
package jobrun

import (
	"context"
	"log/slog"
	"time"

	"github.com/adlibio/adprep/models"
)

// StatusFunc fetches the job's current status from the provider.
type StatusFunc func(ctx context.Context) (models.JobStatus, error)

// AwaitCompletion polls the job status every pollInterval until a terminal
// status is observed or timeout elapses, whichever comes first. On deadline
// expiry the returned handle carries StatusTimedOut and no further poll is
// issued. Cancelling ctx ends the wait the same way: the caller gave up on
// the job locally, so the handle also carries StatusTimedOut.
//
// A transient status-fetch failure is logged and treated as "still running"
// for that tick; it is never retried within the tick and never fatal. If
// every fetch in the window fails, the caller still receives TimedOut.
func AwaitCompletion(ctx context.Context, job models.JobHandle, status StatusFunc, timeout, pollInterval time.Duration, logger *slog.Logger) models.JobHandle {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	deadline := time.Now().Add(timeout)

	for {
		st, err := status(ctx)
		if err != nil {
			logger.Warn("status fetch failed, treating as still running",
				"job_id", job.ID, "error", err)
		} else {
			job.Status = st
			if st.Terminal() {
				logger.Info("job reached terminal status", "job_id", job.ID, "status", st)
				return job
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			job.Status = models.StatusTimedOut
			return job
		}

		// When less than one interval remains, sleep out the remainder and
		// time out without polling past the deadline.
		wait := pollInterval
		lastTick := remaining <= pollInterval
		if lastTick {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			job.Status = models.StatusTimedOut
			return job
		case <-time.After(wait):
		}

		if lastTick {
			job.Status = models.StatusTimedOut
			logger.Warn("job did not reach a terminal status before the deadline",
				"job_id", job.ID, "timeout", timeout)
			return job
		}
	}
}
