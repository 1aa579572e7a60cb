package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "fieldbridge/pkg/logx"
)

func TestRunOnStartAndSkipOverlap(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 4)

	s, err := New(Config{Spec: DefaultSpec(60), RunOnStart: true}, func(ctx context.Context) {
		runs.Add(1)
		started <- struct{}{}
		<-release
	}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("run on start did not fire")
	}

	s.RunNow() // skipped: first run still holds the guard
	assert.EqualValues(t, 1, runs.Load())

	close(release)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
}

func TestNoRunBeforeFirstInterval(t *testing.T) {
	var runs atomic.Int32
	s, err := New(Config{Spec: "@every 1h"}, func(context.Context) { runs.Add(1) }, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	next, err := s.Next()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, 5*time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestReschedule(t *testing.T) {
	s, err := New(Config{Spec: "@every 1h"}, func(context.Context) {}, logx.Nop())
	require.NoError(t, err)

	_, err = s.Next()
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	require.NoError(t, s.Reschedule(Config{Spec: "5m"}))
	next, err := s.Next()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), next, 5*time.Second)

	require.Error(t, s.Reschedule(Config{Spec: "nope"}))
	require.Error(t, s.Reschedule(Config{Spec: "5m", Timezone: "Mars/Olympus"}))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Spec: ""}, func(context.Context) {}, logx.Nop())
	require.Error(t, err)
	_, err = New(Config{Spec: "1m", Timezone: "Nowhere/Land"}, func(context.Context) {}, logx.Nop())
	require.Error(t, err)
	_, err = New(Config{Spec: "1m"}, nil, logx.Nop())
	require.Error(t, err)
}
