package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stock-alert/internal/models"
)

// StatusStore persists the run status record.
type StatusStore interface {
	LoadRunStatus(ctx context.Context) (models.RunStatus, error)
	SaveRunStatus(ctx context.Context, rs models.RunStatus) error
}

// RunState guards the bulk run lock. The phase moves idle → running →
// finished and back to running on the next start; only one run may hold the
// running phase. Every transition is persisted.
type RunState struct {
	mu      sync.Mutex
	status  models.RunStatus
	store   StatusStore
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRunState creates an idle state. timeout bounds how long a run may stay
// in the running phase before it is reported as interrupted_timeout.
func NewRunState(store StatusStore, timeout time.Duration, logger zerolog.Logger) *RunState {
	return &RunState{
		status:  models.RunStatus{Phase: models.PhaseIdle},
		store:   store,
		timeout: timeout,
		logger:  logger,
	}
}

// Recover loads the persisted status. A run left in the running phase by a
// previous process is finished as interrupted.
func (s *RunState) Recover(ctx context.Context, now time.Time) (models.RunStatus, error) {
	persisted, err := s.store.LoadRunStatus(ctx)
	if err != nil {
		return models.RunStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = persisted
	if s.status.Phase == "" {
		s.status.Phase = models.PhaseIdle
	}
	if s.status.Running() {
		s.logger.Warn().Str("run_id", s.status.RunID).Msg("Recovering run interrupted by restart")
		s.forceFinishLocked(ctx, now, models.StatusInterrupted, "Previous run was interrupted by a restart")
	}
	return s.status, nil
}

// TryStart moves the phase to running. It returns false when a run already
// holds the lock.
func (s *RunState) TryStart(ctx context.Context, runID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(ctx, now)
	if s.status.Running() {
		return false
	}

	started := now
	s.status = models.RunStatus{
		RunID:     runID,
		Phase:     models.PhaseRunning,
		StartedAt: &started,
		Message:   "Updating quotes…",
	}
	s.persistLocked(ctx)
	return true
}

// Finish completes runID. It is a no-op when the run was already force
// finished by a reset or timeout.
func (s *RunState) Finish(ctx context.Context, runID string, now time.Time, result models.RunStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.Running() || s.status.RunID != runID {
		s.logger.Warn().Str("run_id", runID).Msg("Run finished after it was force finished; result dropped")
		return false
	}

	finished := now
	s.status.Phase = models.PhaseFinished
	s.status.FinishedAt = &finished
	s.status.OKCount = result.OKCount
	s.status.ErrCount = result.ErrCount
	s.status.NotifiedCount = result.NotifiedCount
	s.status.StatusCode = result.StatusCode
	s.status.Message = result.Message
	s.persistLocked(ctx)
	return true
}

// Snapshot returns the current status. A run older than the timeout is
// finished as interrupted_timeout first.
func (s *RunState) Snapshot(ctx context.Context, now time.Time) models.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(ctx, now)
	return s.status
}

// Running reports whether a run holds the lock.
func (s *RunState) Running(ctx context.Context, now time.Time) bool {
	return s.Snapshot(ctx, now).Running()
}

// Reset force finishes any run with manual_reset.
func (s *RunState) Reset(ctx context.Context, now time.Time) models.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forceFinishLocked(ctx, now, models.StatusManualReset, "Run status reset manually")
	return s.status
}

func (s *RunState) expireLocked(ctx context.Context, now time.Time) {
	if !s.status.Running() || s.timeout <= 0 || s.status.StartedAt == nil {
		return
	}
	if now.Sub(*s.status.StartedAt) > s.timeout {
		s.logger.Warn().Str("run_id", s.status.RunID).Dur("timeout", s.timeout).Msg("Run exceeded timeout")
		s.forceFinishLocked(ctx, now, models.StatusInterruptedTimeout, "Run exceeded timeout and was marked finished")
	}
}

func (s *RunState) forceFinishLocked(ctx context.Context, now time.Time, code models.StatusCode, msg string) {
	finished := now
	s.status.Phase = models.PhaseFinished
	s.status.FinishedAt = &finished
	s.status.StatusCode = code
	s.status.Message = msg
	s.persistLocked(ctx)
}

func (s *RunState) persistLocked(ctx context.Context) {
	if err := s.store.SaveRunStatus(context.WithoutCancel(ctx), s.status); err != nil {
		s.logger.Error().Err(err).Str("run_id", s.status.RunID).Msg("Failed to persist run status")
	}
}
