package cron

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osahq/osa/internal/agent"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStoreRoundTrip(t *testing.T) {
	st := newStore(t)

	id, err := st.Add("morning brief", "0 8 * * *", "summarize my inbox")
	require.NoError(t, err)

	job, err := st.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "morning brief", job.Name)
	assert.Equal(t, "0 8 * * *", job.Expr)
	assert.Equal(t, "summarize my inbox", job.Message)
	assert.True(t, job.Enabled)
	assert.True(t, job.LastRun.IsZero())
}

func TestStoreListNewestFirst(t *testing.T) {
	st := newStore(t)
	// created_at has second granularity; force distinct timestamps via
	// direct ordering check on count instead.
	_, err := st.Add("a", "* * * * *", "one")
	require.NoError(t, err)
	_, err = st.Add("b", "* * * * *", "two")
	require.NoError(t, err)

	jobs, err := st.List()
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestStoreEnableDisable(t *testing.T) {
	st := newStore(t)
	id, err := st.Add("nightly", "0 2 * * *", "run backups")
	require.NoError(t, err)

	require.NoError(t, st.SetEnabled(id, false))
	enabled, err := st.Enabled()
	require.NoError(t, err)
	assert.Empty(t, enabled)

	require.NoError(t, st.SetEnabled(id, true))
	enabled, err = st.Enabled()
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestStoreRemove(t *testing.T) {
	st := newStore(t)
	id, err := st.Add("temp", "* * * * *", "x")
	require.NoError(t, err)

	require.NoError(t, st.Remove(id))
	_, err = st.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.Remove(id), ErrNotFound)
}

func TestStoreMarkRun(t *testing.T) {
	st := newStore(t)
	id, err := st.Add("job", "* * * * *", "x")
	require.NoError(t, err)

	require.NoError(t, st.MarkRun(id, time.Now(), assert.AnError))
	job, err := st.Get(id)
	require.NoError(t, err)
	assert.False(t, job.LastRun.IsZero())
	assert.Equal(t, assert.AnError.Error(), job.LastError)

	require.NoError(t, st.MarkRun(id, time.Now(), nil))
	job, err = st.Get(id)
	require.NoError(t, err)
	assert.Empty(t, job.LastError)
}

type recordingRunner struct {
	mu       sync.Mutex
	requests []agent.Request
	block    chan struct{} // when set, ProcessMessage waits on it
}

func (r *recordingRunner) ProcessMessage(_ context.Context, req agent.Request) agent.Outcome {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	return agent.Outcome{Kind: agent.OutcomeOK, Content: "done"}
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func TestSchedulerValidate(t *testing.T) {
	s := NewScheduler(newStore(t), &recordingRunner{}, nil)
	assert.NoError(t, s.Validate("*/5 * * * *"))
	assert.Error(t, s.Validate("not a cron expr"))
}

func TestAddJobRejectsBadExpression(t *testing.T) {
	s := NewScheduler(newStore(t), &recordingRunner{}, nil)
	_, err := s.AddJob("bad", "61 * * * *", "x")
	assert.Error(t, err)
}

func TestFireDueInjectsMessage(t *testing.T) {
	st := newStore(t)
	runner := &recordingRunner{}
	s := NewScheduler(st, runner, nil)

	id, err := s.AddJob("always", "* * * * *", "check the queue")
	require.NoError(t, err)

	s.fireDue(context.Background(), time.Now())
	s.wg.Wait()

	require.Equal(t, 1, runner.count())
	req := runner.requests[0]
	assert.Equal(t, "cron:"+id, req.SessionID)
	assert.Equal(t, "cron", req.Channel)
	assert.Equal(t, "check the queue", req.Text)
	assert.True(t, req.PlanApproved)

	job, err := st.Get(id)
	require.NoError(t, err)
	assert.False(t, job.LastRun.IsZero())
}

func TestFireDueSkipsNotDue(t *testing.T) {
	st := newStore(t)
	runner := &recordingRunner{}
	s := NewScheduler(st, runner, nil)

	// Fires only at midnight Jan 1; reference time is noon mid-year.
	_, err := s.AddJob("rare", "0 0 1 1 *", "happy new year")
	require.NoError(t, err)

	ref := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	s.fireDue(context.Background(), ref)
	s.wg.Wait()
	assert.Zero(t, runner.count())
}

func TestFireDueSkipsDisabled(t *testing.T) {
	st := newStore(t)
	runner := &recordingRunner{}
	s := NewScheduler(st, runner, nil)

	id, err := s.AddJob("paused", "* * * * *", "x")
	require.NoError(t, err)
	require.NoError(t, st.SetEnabled(id, false))

	s.fireDue(context.Background(), time.Now())
	s.wg.Wait()
	assert.Zero(t, runner.count())
}

func TestOverlappingFireSkipped(t *testing.T) {
	st := newStore(t)
	runner := &recordingRunner{block: make(chan struct{})}
	s := NewScheduler(st, runner, nil)

	_, err := s.AddJob("slow", "* * * * *", "long task")
	require.NoError(t, err)

	s.fireDue(context.Background(), time.Now())
	assert.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 10*time.Millisecond)

	// Second tick while the first run is still in flight.
	s.fireDue(context.Background(), time.Now())
	assert.Equal(t, 1, runner.count(), "overlapping fire must be skipped")

	close(runner.block)
	s.wg.Wait()
}
