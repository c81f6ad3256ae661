package signal_test

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/telemetry-agent/pkg/signal"
)

func TestShutdownOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := signal.WaitForShutdown(ctx, nil, time.Second, func() error { called = true; return nil })
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestShutdownOnSignal(t *testing.T) {
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	}()
	want := errors.New("close failed")
	err := signal.WaitForShutdown(context.Background(), nil, time.Second, func() error { return want })
	assert.ErrorIs(t, err, want)
}

func TestShutdownTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)
	err := signal.WaitForShutdown(ctx, nil, 20*time.Millisecond, func() error { <-block; return nil })
	assert.ErrorIs(t, err, signal.ErrShutdownTimeout)
}
