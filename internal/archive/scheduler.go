package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tgvault/tgvault/internal/store"
	"github.com/tgvault/tgvault/internal/telegram"
)

// Scheduler drains the job queue one job at a time. Single-flight is
// deliberate: the remote network throttles per account, so parallel jobs
// would trade throughput for backoff.
type Scheduler struct {
	db     *store.DB
	engine *Engine
	log    *zap.Logger

	interJobDelay time.Duration

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewScheduler(db *store.DB, engine *Engine, interJobDelay time.Duration, log *zap.Logger) *Scheduler {
	if interJobDelay <= 0 {
		interJobDelay = 2 * time.Second
	}
	return &Scheduler{
		db:            db,
		engine:        engine,
		log:           log,
		interJobDelay: interJobDelay,
		kick:          make(chan struct{}, 1),
	}
}

// Start launches the drain loop. Jobs left in_progress by a previous crash
// are picked up again because NextJob considers them runnable.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	s.Kick()
}

// Stop requests shutdown and blocks until the loop exits. A job caught
// mid-flight is rolled back to pending so a restart resumes it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// Kick wakes the drain loop. Safe to call from any goroutine; a pending
// kick is coalesced.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	// The minute tick re-polls jobs left pending after rate-limit backoff
	// or an aborted drain; in-process enqueues arrive via Kick.
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-ticker.C:
		}
		s.drain(ctx)
	}
}

// drain processes jobs until the queue is empty or the context is
// cancelled.
func (s *Scheduler) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := s.db.NextJob()
		if err != nil {
			s.log.Error("pull next job", zap.Error(err))
			return
		}
		if job == nil {
			return
		}

		wait := s.processOne(ctx, job)
		if wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				return
			}
			continue
		}
		if err := sleepCtx(ctx, s.interJobDelay); err != nil {
			return
		}
	}
}

// processOne runs a single job to a terminal state. The returned duration
// is nonzero only for rate-limited jobs, telling the caller how long to
// back off before the queue is consulted again.
func (s *Scheduler) processOne(ctx context.Context, job *store.Job) time.Duration {
	runID := uuid.NewString()
	log := s.log.With(
		zap.String("run_id", runID),
		zap.Int64("job_id", job.JobID),
		zap.Int64("channel_id", job.ChannelID))

	if err := s.db.SetJobStatus(job.JobID, store.JobInProgress, ""); err != nil {
		log.Error("mark job in progress", zap.Error(err))
		return 0
	}
	log.Info("job started")

	err := s.engine.ProcessJob(ctx, job)
	switch {
	case err == nil:
		if serr := s.db.SetJobStatus(job.JobID, store.JobIdle, ""); serr != nil {
			log.Error("mark job idle", zap.Error(serr))
		}
		log.Info("job completed")
		return 0

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Shutdown mid-flight: roll back so a restart resumes cleanly.
		if serr := s.db.SetJobStatus(job.JobID, store.JobPending, ""); serr != nil {
			log.Error("roll job back to pending", zap.Error(serr))
		}
		log.Info("job interrupted")
		return 0

	default:
		if rl, ok := telegram.AsRateLimited(err); ok {
			note := fmt.Sprintf("rate limited: wait %ds", rl.Seconds)
			if serr := s.db.SetJobStatus(job.JobID, store.JobPending, note); serr != nil {
				log.Error("mark job pending", zap.Error(serr))
			}
			log.Warn("job rate limited", zap.Int("wait_seconds", rl.Seconds))
			return time.Duration(rl.Seconds) * time.Second
		}
		if serr := s.db.SetJobStatus(job.JobID, store.JobError, err.Error()); serr != nil {
			log.Error("mark job failed", zap.Error(serr))
		}
		log.Error("job failed", zap.Error(err))
		return 0
	}
}
