package dialer

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobFunc executes a due job.
type JobFunc func(ctx context.Context, job Job) error

// LocalScheduler runs jobs in-process on timers. Jobs are deduplicated by
// ID; pending timers die with the process.
type LocalScheduler struct {
	base context.Context
	run  JobFunc
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]Job
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
}

// NewLocalScheduler creates a scheduler whose jobs run under base.
func NewLocalScheduler(base context.Context, run JobFunc) *LocalScheduler {
	return &LocalScheduler{
		base:    base,
		run:     run,
		now:     time.Now,
		pending: make(map[string]Job),
		timers:  make(map[string]*time.Timer),
	}
}

// Schedule arms a timer for job. Past RunAt times fire immediately.
func (s *LocalScheduler) Schedule(_ context.Context, job Job) error {
	id := job.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		return nil
	}

	delay := job.RunAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.pending[id] = job
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.fire(id, job)
	})
	return nil
}

func (s *LocalScheduler) fire(id string, job Job) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	if s.base.Err() != nil {
		return
	}

	log := zap.L().With(zap.String("job", id))
	start := time.Now()
	log.Info("dialer: job starting")
	if err := s.run(s.base, job); err != nil {
		log.Error("dialer: job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	log.Info("dialer: job complete", zap.Duration("elapsed", time.Since(start)))
}

// Pending returns scheduled jobs ordered by RunAt, including ones that have
// already fired today.
func (s *LocalScheduler) Pending() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.pending))
	for _, j := range s.pending {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].RunAt.Before(out[k].RunAt) })
	return out
}

// Stop cancels timers that have not fired and waits for running jobs.
func (s *LocalScheduler) Stop() {
	s.mu.Lock()
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
