package cron

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOnceFiresExactlyOnce(t *testing.T) {
	var n int32
	s := New(10 * time.Millisecond)
	s.Once(func() { atomic.AddInt32(&n, 1) })
	s.Start()
	time.Sleep(80 * time.Millisecond)
	s.Stop()
	require.EqualValues(t, 1, atomic.LoadInt32(&n))
}

func TestEveryFiresRepeatedly(t *testing.T) {
	var n int32
	s := New(10 * time.Millisecond)
	s.Every(15*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	s.Start()
	time.Sleep(120 * time.Millisecond)
	s.Stop()
	require.Greater(t, int(atomic.LoadInt32(&n)), 1)
}

func TestStopLatencyBound(t *testing.T) {
	s := New(time.Hour)
	s.Every(time.Hour, func() {})
	s.Start()

	start := time.Now()
	s.Stop()
	require.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestRemoveUnregistersJob(t *testing.T) {
	var n int32
	s := New(10 * time.Millisecond)
	id := s.Every(5*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	s.Remove(id)
	s.Start()
	time.Sleep(60 * time.Millisecond)
	s.Stop()
	require.EqualValues(t, 0, atomic.LoadInt32(&n))
}
