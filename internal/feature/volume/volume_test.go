package volume

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/audiopanel/internal/feature/featuretest"
)

func newTestVolume(t *testing.T, opts ...Option) (*Volume, *featuretest.Bus) {
	t.Helper()
	bus := featuretest.NewBus()
	v := New(bus, append([]Option{WithSettle(time.Millisecond)}, opts...)...)
	v.Start(context.Background())
	t.Cleanup(v.Close)
	return v, bus
}

func TestVolume_TracksStatus(t *testing.T) {
	v, bus := newTestVolume(t)

	require.NoError(t, bus.Inject(`{"channel":"volume","type":"volume_status","volume":42,"alsa_volume":61}`))
	assert.Equal(t, State{Volume: 42, AlsaVolume: 61}, v.State())

	// Other message types are ignored.
	require.NoError(t, bus.Inject(`{"channel":"volume","type":"something_else","volume":5}`))
	assert.Equal(t, 42, v.State().Volume)

	// Out-of-range values are clamped.
	require.NoError(t, bus.Inject(`{"channel":"volume","type":"volume_status","volume":140}`))
	assert.Equal(t, 100, v.State().Volume)
}

func TestVolume_MalformedPayload(t *testing.T) {
	_, bus := newTestVolume(t)
	assert.Error(t, bus.Inject(`{"channel":"volume","type":"volume_status","volume":"loud"}`))
}

func TestVolume_Adjust(t *testing.T) {
	v, bus := newTestVolume(t)
	require.NoError(t, bus.Inject(`{"channel":"volume","type":"volume_status","volume":50}`))

	require.NoError(t, v.Increase(context.Background()))
	assert.Equal(t, 52, v.State().Volume)
	assert.False(t, v.State().Adjusting)

	published := bus.Published()
	require.Len(t, published, 2)
	assert.JSONEq(t, `{"channel":"volume","type":"adjust_volume","delta":2}`, published[0])
	assert.JSONEq(t, `{"channel":"volume","type":"get_volume"}`, published[1])
}

func TestVolume_AdjustClamps(t *testing.T) {
	v, bus := newTestVolume(t)
	require.NoError(t, bus.Inject(`{"channel":"volume","type":"volume_status","volume":1}`))

	require.NoError(t, v.Adjust(context.Background(), -10))
	assert.Equal(t, 0, v.State().Volume)

	require.NoError(t, v.Adjust(context.Background(), 250))
	assert.Equal(t, 100, v.State().Volume)
}

func TestVolume_IgnoresStatusWhileAdjusting(t *testing.T) {
	v, bus := newTestVolume(t, WithSettle(100*time.Millisecond))
	require.NoError(t, bus.Inject(`{"channel":"volume","type":"volume_status","volume":30}`))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, v.Adjust(context.Background(), 10))
	}()

	require.Eventually(t, func() bool { return v.State().Adjusting }, time.Second, time.Millisecond)

	// A stale server update mid-adjustment must not clobber the local value.
	require.NoError(t, bus.Inject(`{"channel":"volume","type":"volume_status","volume":30}`))
	assert.Equal(t, 40, v.State().Volume)

	// A second adjustment is rejected while one is in flight.
	assert.ErrorIs(t, v.Adjust(context.Background(), 10), ErrAdjusting)

	wg.Wait()
	require.NoError(t, bus.Inject(`{"channel":"volume","type":"volume_status","volume":41}`))
	assert.Equal(t, 41, v.State().Volume)
}

func TestVolume_AdjustCancelled(t *testing.T) {
	v, _ := newTestVolume(t, WithSettle(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, v.Adjust(ctx, 2), context.Canceled)
	assert.False(t, v.State().Adjusting)
}

func TestVolume_RefreshOnConnect(t *testing.T) {
	_, bus := newTestVolume(t)
	assert.Empty(t, bus.Published())

	bus.SetConnected(true)
	require.Eventually(t, func() bool { return len(bus.Published()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"get_volume"}, bus.PublishedTypes())

	bus.SetConnected(false)
	bus.SetConnected(true)
	require.Eventually(t, func() bool { return len(bus.Published()) == 2 }, time.Second, time.Millisecond)
}

func TestVolume_CloseUnsubscribes(t *testing.T) {
	v, bus := newTestVolume(t)
	assert.Equal(t, 1, bus.Subscriptions())

	v.Close()
	assert.Equal(t, 0, bus.Subscriptions())

	require.NoError(t, bus.Inject(`{"channel":"volume","type":"volume_status","volume":77}`))
	assert.Equal(t, 0, v.State().Volume)
}
