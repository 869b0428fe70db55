package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/autopost/internal/publisher/mock"
	"github.com/kiranshivaraju/autopost/internal/scheduler"
	"github.com/kiranshivaraju/autopost/internal/store"
	"github.com/kiranshivaraju/autopost/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_FirstCycleRunsImmediately(t *testing.T) {
	s := store.NewMemoryStore()
	owner := uuid.New()
	job := newJob(owner, time.Now().Add(-time.Minute), "youtube")
	seed(t, s, job)

	c := newCycle(s, registryWith(mock.NewMockPublisher(), "youtube"), scheduler.Config{BatchSize: 5})
	r := scheduler.NewRunner(c, time.Hour, owner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return mustGet(t, s, job).Status == models.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_TicksPickUpNewJobs(t *testing.T) {
	s := store.NewMemoryStore()
	owner := uuid.New()

	c := newCycle(s, registryWith(mock.NewMockPublisher(), "youtube"), scheduler.Config{BatchSize: 5})
	r := scheduler.NewRunner(c, 20*time.Millisecond, owner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	job := newJob(owner, time.Now().Add(-time.Second), "youtube")
	seed(t, s, job)

	assert.Eventually(t, func() bool {
		return mustGet(t, s, job).Status == models.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunner_ShutdownWaitsForInFlightCycle(t *testing.T) {
	s := store.NewMemoryStore()
	owner := uuid.New()
	job := newJob(owner, time.Now().Add(-time.Minute), "youtube")
	seed(t, s, job)

	// The publisher blocks until the registry timeout fires, so the cycle is
	// still mid-dispatch when the runner is told to stop.
	pub := mock.NewBlockingPublisher()
	c := newCycle(s, registryWithTimeout(pub, 150*time.Millisecond, "youtube"), scheduler.Config{BatchSize: 5})
	r := scheduler.NewRunner(c, time.Hour, owner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.CallCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	// The cycle was allowed to finish, so the job reached a terminal state
	// rather than being left in flight.
	got := mustGet(t, s, job)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.Len(t, got.Results, 1)
	assert.Contains(t, got.Results[0].Error, models.ErrPublishTimeout.Error())
	assert.False(t, c.Guard().Running())
}

func TestRunner_DeadlineIsReturned(t *testing.T) {
	c := newCycle(store.NewMemoryStore(), registryWith(mock.NewMockPublisher(), "youtube"), scheduler.Config{})
	r := scheduler.NewRunner(c, time.Hour, uuid.Nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
