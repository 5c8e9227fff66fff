package feature_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/audiopanel/internal/feature"
	"github.com/rickgao/audiopanel/internal/feature/featuretest"
)

func TestOnConnect(t *testing.T) {
	bus := featuretest.NewBus()

	var calls atomic.Int32
	stop := feature.OnConnect(context.Background(), bus, func() { calls.Add(1) })
	defer stop()

	bus.SetConnected(true)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	// Repeated "connected" without a disconnect is not a reconnect.
	bus.SetConnected(true)
	bus.SetConnected(false)
	bus.SetConnected(true)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	stop()
	bus.SetConnected(false)
	bus.SetConnected(true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOnConnect_AlreadyConnected(t *testing.T) {
	bus := featuretest.NewBus()
	bus.SetConnected(true)

	called := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	stop := feature.OnConnect(ctx, bus, func() { called <- struct{}{} })

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("fn not called for an already open bus")
	}

	cancel()
	stop()
}
