package models

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazyBuildsOnceUnderConcurrency(t *testing.T) {
	var builds atomic.Int64
	l := NewLazy(func(context.Context) (int, error) {
		builds.Add(1)
		time.Sleep(5 * time.Millisecond)
		return 42, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), builds.Load())
	assert.True(t, l.Built())
}

func TestLazyRetriesAfterFailure(t *testing.T) {
	calls := 0
	l := NewLazy(func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("model download failed")
		}
		return "ready", nil
	})

	_, err := l.Get(context.Background())
	require.Error(t, err)
	assert.False(t, l.Built())

	v, err := l.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", v)
}

func TestGateBoundsConcurrency(t *testing.T) {
	g := NewGate(2)
	var inFlight, peak atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func() error {
				n := inFlight.Add(1)
				for {
					cur := peak.Load()
					if n <= cur || peak.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestNilGateAdmitsEveryone(t *testing.T) {
	var g *Gate = NewGate(0)
	ran := false
	require.NoError(t, g.Do(context.Background(), func() error { ran = true; return nil }))
	assert.True(t, ran)
}

func TestGateHonorsCancellation(t *testing.T) {
	g := NewGate(1)
	hold := make(chan struct{})
	go g.Do(context.Background(), func() error { <-hold; return nil })
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	close(hold)
}
