package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"propmarket/server/config"
	"propmarket/server/internal/processor"
)

// JobType represents the scheduled batch kinds
type JobType int

const (
	JobTypeIntelligence JobType = iota
	JobTypeProximityRebuild
)

// String returns the string representation of a JobType
func (j JobType) String() string {
	switch j {
	case JobTypeIntelligence:
		return "intelligence"
	case JobTypeProximityRebuild:
		return "proximity_rebuild"
	default:
		return "unknown"
	}
}

// Runner is the batch surface the scheduler drives.
type Runner interface {
	RunIntelligenceBatch(ctx context.Context, limit int) (int, error)
	RunProximityBatch(ctx context.Context) (processor.BatchResult, error)
}

type Option func(*Scheduler)

// WithTick replaces the one-minute polling interval.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		s.tick = d
	}
}

// Scheduler runs the intelligence batch on a fixed interval and the full
// proximity rebuild once a day at a configured UTC hour. Jobs never overlap.
type Scheduler struct {
	runner   Runner
	cfg      config.SchedulerConfig
	logger   *logrus.Logger
	tick     time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
	jobMutex sync.Mutex // Ensures sequential job execution

	startupRun       atomic.Bool
	lastIntelligence time.Time
	lastRebuildDay   string
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, cfg config.SchedulerConfig, logger *logrus.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:   runner,
		cfg:      cfg,
		logger:   logger,
		tick:     time.Minute,
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the scheduled tasks. The intelligence batch runs once right
// away; ticks that arrive while it is running are skipped.
func (s *Scheduler) Start() {
	s.startupRun.Store(true)
	s.wg.Add(2)

	go func() {
		defer s.wg.Done()
		s.jobMutex.Lock()
		defer s.jobMutex.Unlock()
		defer s.startupRun.Store(false)

		s.logger.Info("Running startup intelligence batch")
		s.runIntelligence(time.Now().UTC())
	}()

	go s.runScheduler()
}

func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case t := <-ticker.C:
			s.executeScheduledJobs(t.UTC())
		}
	}
}

// executeScheduledJobs runs all jobs that are due at t
func (s *Scheduler) executeScheduledJobs(t time.Time) {
	if s.startupRun.Load() {
		s.logger.Debug("Skipping scheduled jobs while startup is in progress")
		return
	}

	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	if s.rebuildDue(t) {
		s.runProximityRebuild(t)
	}

	if s.cfg.IntelligenceInterval > 0 && t.Sub(s.lastIntelligence) >= s.cfg.IntelligenceInterval {
		s.runIntelligence(t)
	}
}

func (s *Scheduler) rebuildDue(t time.Time) bool {
	if s.cfg.ProximityRebuildHour < 0 || t.Hour() != s.cfg.ProximityRebuildHour {
		return false
	}
	return s.lastRebuildDay != t.Format(time.DateOnly)
}

func (s *Scheduler) runIntelligence(t time.Time) {
	s.lastIntelligence = t
	log := s.logger.WithField("job_type", JobTypeIntelligence.String())

	updated, err := s.runner.RunIntelligenceBatch(s.ctx, 0)
	if err != nil {
		log.WithError(err).Error("Scheduled job failed")
		return
	}
	log.WithField("updated", updated).Info("Scheduled job completed successfully")
}

func (s *Scheduler) runProximityRebuild(t time.Time) {
	s.lastRebuildDay = t.Format(time.DateOnly)
	log := s.logger.WithField("job_type", JobTypeProximityRebuild.String())

	result, err := s.runner.RunProximityBatch(s.ctx)
	if err != nil {
		log.WithError(err).WithField("run_id", result.RunID).Error("Scheduled job failed")
		return
	}
	log.WithFields(logrus.Fields{
		"run_id":    result.RunID,
		"processed": result.Processed,
		"changed":   result.Changed,
		"errors":    len(result.Errors),
	}).Info("Scheduled job completed successfully")
}

// Stop cancels any running batch between chunks and waits for the scheduler
// goroutines to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	close(s.stopChan)
	s.wg.Wait()
}
