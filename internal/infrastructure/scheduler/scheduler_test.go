package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestEvery_ClampsSubSecondIntervals(t *testing.T) {
	s := Every(10 * time.Millisecond)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(time.Second), s.Next(base))
}

func TestEvery_Next(t *testing.T) {
	s := Every(5 * time.Minute)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(5*time.Minute), s.Next(base))
	assert.Equal(t, "every 5m0s", s.String())
}

func TestRegister_RejectsDuplicateName(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Register(&countingJob{name: "sweep"}, Every(time.Minute)))
	assert.Error(t, s.Register(&countingJob{name: "sweep"}, Every(time.Minute)))
}

func TestScheduler_RunsAndRecordsResult(t *testing.T) {
	job := &countingJob{name: "sweep"}
	s := New(Config{})
	require.NoError(t, s.Register(job, Every(time.Second)))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return job.runs.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := s.LastRun("sweep")
		return ok
	}, 3*time.Second, 50*time.Millisecond)

	result, ok := s.LastRun("sweep")
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.Equal(t, "sweep", result.JobName)
}

func TestScheduler_RecordsFailure(t *testing.T) {
	job := &countingJob{name: "sweep", err: errors.New("boom")}
	s := New(Config{})
	require.NoError(t, s.Register(job, Every(time.Second)))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		r, ok := s.LastRun("sweep")
		return ok && !r.Success
	}, 3*time.Second, 50*time.Millisecond)

	result, _ := s.LastRun("sweep")
	assert.EqualError(t, result.Error, "boom")
}

func TestScheduler_StopWaitsForLoops(t *testing.T) {
	job := &countingJob{name: "sweep"}
	s := New(Config{})
	require.NoError(t, s.Register(job, Every(time.Minute)))

	s.Start(context.Background())
	s.Stop()

	// Stopping twice is a no-op.
	s.Stop()
}
