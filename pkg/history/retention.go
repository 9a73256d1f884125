package history

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/latoulicious/Kanade/pkg/pipeline"
)

// DefaultRetentionAge is how long history rows are kept.
const DefaultRetentionAge = 30 * 24 * time.Hour

// DefaultRetentionSchedule runs the sweep daily at 03:00.
const DefaultRetentionSchedule = "0 0 3 * * *"

// Sweeper deletes expired history rows on a cron schedule.
type Sweeper struct {
	store    *Store
	cron     *cron.Cron
	age      time.Duration
	schedule string
	logger   pipeline.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates and starts a retention sweeper. Stop must be
// called on shutdown.
func NewSweeper(store *Store, age time.Duration, schedule string, logger pipeline.Logger) (*Sweeper, error) {
	if age <= 0 {
		age = DefaultRetentionAge
	}
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	if logger == nil {
		logger = pipeline.NullLogger()
	}

	s := &Sweeper{
		store:    store,
		cron:     cron.New(cron.WithSeconds()),
		age:      age,
		schedule: schedule,
		logger:   logger.With(pipeline.String("component", "history-retention")),
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, err
	}
	s.cron.Start()

	s.logger.Info("Retention sweeper scheduled",
		pipeline.String("schedule", schedule),
		pipeline.Duration("age", age),
	)
	return s, nil
}

// sweep runs one retention pass. Overlapping runs are skipped.
func (s *Sweeper) sweep() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	deleted, err := s.store.DeleteOlderThan(s.age)
	if err != nil {
		s.logger.Error("Retention sweep failed", pipeline.Error(err))
		return
	}
	s.logger.Info("Retention sweep finished", pipeline.Int64("deleted", deleted))
}

// SweepNow runs a retention pass immediately.
func (s *Sweeper) SweepNow() {
	s.sweep()
}

// NextRun returns when the next scheduled sweep fires.
func (s *Sweeper) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop halts the scheduler. A sweep already in progress finishes.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}
