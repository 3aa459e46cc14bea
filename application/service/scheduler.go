package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/archie-dev/archie/domain/task"
)

// Scheduler is the explicit owner of long-running job lifetimes described in
// §9: it accepts fire-and-forget jobs, runs them under their own
// budget-bounded context independent of the caller's, and exposes an
// observable status surface. It generalizes the teacher's Queue/Worker/
// Registry dispatch machinery into a single per-repository keyed lock plus
// a background time budget, the shape §5 and §9 call for.
type Scheduler struct {
	logger     *slog.Logger
	timeBudget time.Duration

	mu    sync.Mutex
	locks map[int64]*repositoryLock
}

type repositoryLock struct {
	mu       sync.Mutex
	inFlight bool
	statusID string
}

// NewScheduler creates a Scheduler. timeBudget bounds every background job
// this scheduler runs (design target: 30 minutes, see
// internal/config.DefaultIngestionTimeBudget).
func NewScheduler(logger *slog.Logger, timeBudget time.Duration) *Scheduler {
	return &Scheduler{
		logger:     logger,
		timeBudget: timeBudget,
		locks:      make(map[int64]*repositoryLock),
	}
}

// TryAcquireRepositoryLock attempts to mark repositoryID as having an
// in-flight ingestion/graph job. It returns (true, "") if the lock was
// acquired, or (false, statusID) if a job is already in flight — the
// caller returns the existing status instead of enqueueing a second job
// (§5: "a second request while one is InProgress returns the existing
// status").
func (s *Scheduler) TryAcquireRepositoryLock(repositoryID int64, statusID string) (bool, string) {
	s.mu.Lock()
	lock, ok := s.locks[repositoryID]
	if !ok {
		lock = &repositoryLock{}
		s.locks[repositoryID] = lock
	}
	s.mu.Unlock()

	lock.mu.Lock()
	defer lock.mu.Unlock()
	if lock.inFlight {
		return false, lock.statusID
	}
	lock.inFlight = true
	lock.statusID = statusID
	return true, ""
}

// ReleaseRepositoryLock marks repositoryID as no longer having an in-flight
// job. Safe to call even if no lock was ever acquired.
func (s *Scheduler) ReleaseRepositoryLock(repositoryID int64) {
	s.mu.Lock()
	lock, ok := s.locks[repositoryID]
	s.mu.Unlock()
	if !ok {
		return
	}
	lock.mu.Lock()
	lock.inFlight = false
	lock.statusID = ""
	lock.mu.Unlock()
}

// RunInBackground launches fn in its own goroutine under a context derived
// from context.Background() (not ctx) with Scheduler's configured time
// budget, so that it outlives the caller's request regardless of caller
// cancellation (§4.2, §5). Unexpected failures (including panics) are
// captured and logged — never swallowed silently, per §5.
func (s *Scheduler) RunInBackground(operation task.Operation, repositoryID int64, fn func(ctx context.Context) error) {
	bgCtx, cancel := context.WithTimeout(context.Background(), s.timeBudget)

	go func() {
		defer cancel()
		defer s.ReleaseRepositoryLock(repositoryID)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background job panicked",
					slog.String("operation", operation.String()),
					slog.Int64("repository_id", repositoryID),
					slog.Any("panic", r),
				)
			}
		}()

		start := time.Now()
		s.logger.Info("background job started",
			slog.String("operation", operation.String()),
			slog.Int64("repository_id", repositoryID),
		)

		if err := fn(bgCtx); err != nil {
			s.logger.Error("background job failed",
				slog.String("operation", operation.String()),
				slog.Int64("repository_id", repositoryID),
				slog.String("error", err.Error()),
				slog.Duration("duration", time.Since(start)),
			)
			return
		}

		s.logger.Info("background job completed",
			slog.String("operation", operation.String()),
			slog.Int64("repository_id", repositoryID),
			slog.Duration("duration", time.Since(start)),
		)
	}()
}
