package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/osahq/osa/internal/agent"
)

// Runner is the slice of the agent loop a fired job needs.
type Runner interface {
	ProcessMessage(ctx context.Context, req agent.Request) agent.Outcome
}

// Scheduler fires due jobs once per minute. Each fire injects the job's
// message into the agent loop on the "cron" channel with the plan gate
// pre-approved, since nobody is there to confirm.
type Scheduler struct {
	store *Store
	loop  Runner
	gron  *gronx.Gronx
	log   *slog.Logger

	// tick is overridable in tests.
	tick time.Duration

	mu      sync.Mutex
	running map[string]bool // job id → in flight
	wg      sync.WaitGroup
}

func NewScheduler(store *Store, loop Runner, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:   store,
		loop:    loop,
		gron:    gronx.New(),
		log:     log,
		tick:    time.Minute,
		running: make(map[string]bool),
	}
}

// Validate reports whether expr is an acceptable cron expression.
func (s *Scheduler) Validate(expr string) error {
	if !s.gron.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// AddJob validates the expression and persists the job.
func (s *Scheduler) AddJob(name, expr, message string) (string, error) {
	if err := s.Validate(expr); err != nil {
		return "", err
	}
	return s.store.Add(name, expr, message)
}

// Run blocks until ctx is cancelled, checking for due jobs every tick.
// It waits for in-flight jobs before returning.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

// fireDue starts every enabled, due, not-already-running job.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	jobs, err := s.store.Enabled()
	if err != nil {
		s.log.Error("cron: list jobs failed", "error", err)
		return
	}
	for _, job := range jobs {
		due, err := s.gron.IsDue(job.Expr, now)
		if err != nil {
			s.log.Warn("cron: bad expression", "job", job.ID, "expr", job.Expr, "error", err)
			continue
		}
		if !due {
			continue
		}
		if !s.tryAcquire(job.ID) {
			s.log.Debug("cron: job still running, skipping fire", "job", job.ID)
			continue
		}
		s.wg.Add(1)
		go func(job *Job) {
			defer s.wg.Done()
			defer s.release(job.ID)
			s.fire(ctx, job)
		}(job)
	}
}

func (s *Scheduler) fire(ctx context.Context, job *Job) {
	s.log.Info("cron: firing job", "job", job.ID, "name", job.Name)

	out := s.loop.ProcessMessage(ctx, agent.Request{
		SessionID:    "cron:" + job.ID,
		Channel:      "cron",
		Text:         job.Message,
		PlanApproved: true,
	})

	var runErr error
	if out.Kind == agent.OutcomeError {
		runErr = out.Err
		s.log.Warn("cron: job failed", "job", job.ID, "error", runErr)
	}
	if err := s.store.MarkRun(job.ID, time.Now(), runErr); err != nil {
		s.log.Warn("cron: record run failed", "job", job.ID, "error", err)
	}
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}
