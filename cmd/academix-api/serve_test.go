package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func TestGuardedPanicRunsShutdownPath(t *testing.T) {
	g, gctx := errgroup.WithContext(context.Background())
	shutdownRan := make(chan struct{})

	g.Go(guarded(zap.NewNop(), "listener", func() error {
		panic("bind exploded")
	}))
	g.Go(guarded(zap.NewNop(), "shutdown", func() error {
		select {
		case <-gctx.Done():
			close(shutdownRan)
		case <-time.After(time.Second):
		}
		return nil
	}))

	err := g.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener panicked: bind exploded")

	select {
	case <-shutdownRan:
	default:
		t.Fatal("shutdown goroutine did not observe cancellation")
	}
}

func TestGuardedPassesErrorsThrough(t *testing.T) {
	assert.NoError(t, guarded(zap.NewNop(), "noop", func() error { return nil })())
	assert.EqualError(t, guarded(zap.NewNop(), "fail", func() error { return context.Canceled })(), context.Canceled.Error())
}
