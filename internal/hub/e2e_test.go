package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/audiopanel/internal/api"
	"github.com/rickgao/audiopanel/internal/feature/audio"
	"github.com/rickgao/audiopanel/internal/feature/spotify"
	"github.com/rickgao/audiopanel/internal/feature/volume"
)

// TestPanelAgainstHub runs the feature modules over a real transport
// against the demo services.
func TestPanelAgainstHub(t *testing.T) {
	h := New(DefaultConfig(), WithLogger(discardLogger()))
	demo, err := RegisterDemo(h)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.Handle("/api/", demo.ControlHandler(h))
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		h.Close()
		server.Close()
	})

	cfg := newPanelConfig(wsURL(server) + "/ws")
	tr := newPanelWith(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	vol := volume.New(tr, volume.WithLogger(discardLogger()), volume.WithSettle(20*time.Millisecond))
	vol.Start(ctx)
	t.Cleanup(vol.Close)

	src := audio.New(tr, discardLogger())
	src.Start(ctx)
	t.Cleanup(src.Close)

	client, err := api.NewClient(server.URL, api.WithLogger(discardLogger()), api.WithRetries(0, 0))
	require.NoError(t, err)
	sp := spotify.New(tr, spotify.WithLogger(discardLogger()), spotify.WithAPI(client))
	sp.Start(ctx)
	t.Cleanup(sp.Close)

	// Primed over REST before the websocket delivered anything.
	assert.True(t, sp.State().Connected)
	assert.Equal(t, "Teardrop", sp.State().Playback.TrackName)

	require.True(t, tr.Connect(ctx))

	t.Run("volume", func(t *testing.T) {
		require.Eventually(t, func() bool { return vol.State().Volume == 50 }, eventually, 5*time.Millisecond)
		require.NoError(t, vol.Increase(ctx))
		require.Eventually(t, func() bool { return demo.Volume.Volume() == 52 }, eventually, 5*time.Millisecond)
		require.Eventually(t, func() bool { return vol.State().Volume == 52 }, eventually, 5*time.Millisecond)
	})

	t.Run("audio", func(t *testing.T) {
		require.NoError(t, src.SwitchSource(SourceBluetooth))
		require.Eventually(t, func() bool {
			st := src.State()
			return st.CurrentSource == SourceBluetooth && !st.IsSwitching
		}, eventually, 5*time.Millisecond)
	})

	t.Run("spotify", func(t *testing.T) {
		require.NoError(t, sp.PlayPause())
		require.Eventually(t, func() bool { return sp.State().Playback.IsPlaying }, eventually, 5*time.Millisecond)

		require.NoError(t, sp.Next())
		require.Eventually(t, func() bool { return sp.State().Playback.TrackName == "Glory Box" }, eventually, 5*time.Millisecond)

		_, err := client.Stop(ctx, SpotifyChannel)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return !sp.State().Connected }, eventually, 5*time.Millisecond)
	})
}
