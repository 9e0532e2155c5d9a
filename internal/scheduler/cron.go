package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
)

// Start schedules periodic bulk runs and makes ctx the parent of background
// runs. Fixed fire times take precedence over the refresh interval. Ticks
// never overlap, and a tick that finds a run in progress is skipped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.root = ctx
	if len(s.opts.FireTimes) == 0 && s.opts.RefreshInterval <= 0 {
		s.logger.Info().Msg("Periodic refresh disabled")
		return nil
	}

	cron := gocron.NewScheduler(s.deps.Calendar.Location())
	cron.SingletonModeAll()

	var err error
	if len(s.opts.FireTimes) > 0 {
		_, err = cron.Every(1).Day().At(strings.Join(s.opts.FireTimes, ";")).Tag("bulk").Do(s.tick)
	} else {
		_, err = cron.Every(s.opts.RefreshInterval).WaitForSchedule().Tag("bulk").Do(s.tick)
	}
	if err != nil {
		return err
	}

	cron.StartAsync()
	s.cron = cron
	s.logger.Info().
		Strs("fire_times", s.opts.FireTimes).
		Dur("interval", s.opts.RefreshInterval).
		Time("next_run", s.nextRunLocked()).
		Msg("Scheduler started")
	return nil
}

// Stop cancels future ticks and waits for background runs.
func (s *Service) Stop() {
	s.mu.Lock()
	cron := s.cron
	s.cron = nil
	s.mu.Unlock()

	if cron != nil {
		cron.Stop()
		s.logger.Info().Msg("Scheduler stopped")
	}
	s.wg.Wait()
}

// NextRun returns the next scheduled tick, or zero when none is scheduled.
func (s *Service) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunLocked()
}

func (s *Service) nextRunLocked() time.Time {
	if s.cron == nil {
		return time.Time{}
	}
	_, next := s.cron.NextRun()
	return next
}

func (s *Service) tick() {
	if !s.TriggerBulkUpdate() {
		s.logger.Info().Msg("Scheduled run skipped; a run is already in progress")
	}
}
