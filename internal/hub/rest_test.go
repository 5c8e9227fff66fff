package hub

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/audiopanel/internal/api"
)

func newControlServer(t *testing.T) (*Demo, *api.Client) {
	t.Helper()
	h := New(DefaultConfig(), WithLogger(discardLogger()))
	demo, err := RegisterDemo(h)
	require.NoError(t, err)

	server := httptest.NewServer(demo.ControlHandler(h))
	t.Cleanup(func() {
		server.Close()
		h.Close()
	})
	client, err := api.NewClient(server.URL, api.WithRetries(0, 0), api.WithLogger(discardLogger()))
	require.NoError(t, err)
	return demo, client
}

func TestControl_StatusStartStop(t *testing.T) {
	demo, client := newControlServer(t)
	ctx := context.Background()

	st, err := client.GetStatus(ctx, "spotify")
	require.NoError(t, err)
	assert.Equal(t, &api.ServiceStatus{Status: "running", Connected: true}, st)

	resp, err := client.Stop(ctx, "spotify")
	require.NoError(t, err)
	assert.Equal(t, "spotify stopped", resp.Message)
	assert.False(t, demo.Spotify.Connected())

	st, err = client.GetStatus(ctx, "spotify")
	require.NoError(t, err)
	assert.Equal(t, &api.ServiceStatus{Status: "stopped"}, st)

	st, err = client.GetStatus(ctx, "bluetooth")
	require.NoError(t, err)
	assert.False(t, st.Connected)

	_, err = client.Start(ctx, "bluetooth")
	require.NoError(t, err)
	st, err = client.GetStatus(ctx, "bluetooth")
	require.NoError(t, err)
	assert.Equal(t, &api.ServiceStatus{Status: "running", Connected: true}, st)
}

func TestControl_Playback(t *testing.T) {
	_, client := newControlServer(t)

	p, err := client.GetPlayback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Teardrop", p.TrackName)
	assert.False(t, p.IsPlaying)
}

func TestControl_UnknownService(t *testing.T) {
	_, client := newControlServer(t)

	_, err := client.GetStatus(context.Background(), "radio")
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "unknown service: radio")
}
