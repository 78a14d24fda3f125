package scheduler

import (
	"context"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"realty/server/config"
	"realty/server/internal/models"
)

// JobType represents the periodic jobs
type JobType int

const (
	JobTypeStartup JobType = iota
	JobTypeRefresh
	JobTypePurge
)

// String returns the string representation of a JobType
func (j JobType) String() string {
	switch j {
	case JobTypeStartup:
		return "startup"
	case JobTypeRefresh:
		return "refresh"
	case JobTypePurge:
		return "purge"
	default:
		return "unknown"
	}
}

// ListingLoader loads and publishes the active listings
type ListingLoader interface {
	LoadActiveListings(ctx context.Context) ([]models.Property, error)
}

// Scheduler refreshes listings and sweeps expired cache entries on a fixed cadence
type Scheduler struct {
	loader          ListingLoader
	purgers         map[string]func() int
	refreshInterval time.Duration
	purgeInterval   time.Duration
	logger          *logrus.Logger
	stopChan        chan struct{}
	wg              sync.WaitGroup
	jobMutex        sync.Mutex // Ensures sequential job execution
	isStartupRun    atomic.Bool
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewScheduler creates a scheduler. purgers maps a cache name to its sweep function.
func NewScheduler(loader ListingLoader, purgers map[string]func() int, cfg *config.Config, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		loader:          loader,
		purgers:         purgers,
		refreshInterval: cfg.Sync.RefreshInterval,
		purgeInterval:   cfg.Sync.PurgeInterval,
		logger:          logger,
		stopChan:        make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}
	s.isStartupRun.Store(true)
	return s
}

// Start runs the startup load and begins the scheduled tasks
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.runScheduler()
}

func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(JobTypeStartup)
		s.isStartupRun.Store(false)
	}()

	refresh := newTicker(s.refreshInterval)
	defer refresh.Stop()
	purge := newTicker(s.purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-refresh.C:
			// Skip if we're still running the startup load
			if s.isStartupRun.Load() {
				s.logger.Debug("Skipping scheduled refresh while startup is in progress")
				continue
			}
			s.runJob(JobTypeRefresh)
		case <-purge.C:
			s.runJob(JobTypePurge)
		}
	}
}

// runJob executes one job. Jobs never overlap.
func (s *Scheduler) runJob(job JobType) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	start := time.Now()
	fields := logrus.Fields{"job_type": job.String()}

	switch job {
	case JobTypeStartup, JobTypeRefresh:
		properties, err := s.loader.LoadActiveListings(s.ctx)
		if err != nil {
			s.logger.WithError(err).WithFields(fields).Error("Listing load failed")
			return
		}
		fields["count"] = len(properties)
	case JobTypePurge:
		names := make([]string, 0, len(s.purgers))
		for name := range s.purgers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fields[name] = s.purgers[name]()
		}
	}

	fields["duration"] = time.Since(start).String()
	s.logger.WithFields(fields).Info("Scheduled job completed")
}

// Stop gracefully stops the scheduler and waits for a running job
func (s *Scheduler) Stop() {
	s.cancel()
	close(s.stopChan)
	s.wg.Wait()
}

// newTicker returns a ticker that never fires for a non-positive interval
func newTicker(interval time.Duration) *time.Ticker {
	if interval <= 0 {
		t := time.NewTicker(time.Hour)
		t.Stop()
		return t
	}
	return time.NewTicker(interval)
}
