package serialmux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan string) (string, bool) {
	t.Helper()
	select {
	case line, ok := <-ch:
		return line, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for feed")
		return "", false
	}
}

func TestDisabledSerialMux_SensorStopIsIgnored(t *testing.T) {
	t.Parallel()
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	defer d.Unsubscribe(id)

	require.NoError(t, d.Initialize())
	require.NoError(t, d.SendCommand("sensorStop"))
	require.NoError(t, d.SendCommand("sensorStart 0"))

	line, ok := recv(t, ch)
	require.True(t, ok)
	assert.Equal(t, "sensorStop"+IgnoredSuffix, line)
	line, _ = recv(t, ch)
	assert.Equal(t, "sensorStart 0"+IgnoredSuffix, line)
	assert.Equal(t, []string{"sensorStop", "sensorStart 0"}, d.Sent())
}

func TestDisabledSerialMux_UnsubscribeClosesFeed(t *testing.T) {
	t.Parallel()
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()

	d.Unsubscribe(id)
	_, ok := recv(t, ch)
	assert.False(t, ok)
	require.NoError(t, d.SendCommand("sensorStop"), "no subscribers left")
}

func TestDisabledSerialMux_Close(t *testing.T) {
	t.Parallel()
	d := NewDisabledSerialMux()
	id1, ch1 := d.Subscribe()
	_, ch2 := d.Subscribe()

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	for _, ch := range []chan string{ch1, ch2} {
		_, ok := recv(t, ch)
		assert.False(t, ok)
	}

	_, late := d.Subscribe()
	_, ok := recv(t, late)
	assert.False(t, ok, "subscribing after Close yields a closed feed")

	require.NoError(t, d.SendCommand("sensorStop"))
	assert.Empty(t, d.Sent())
	d.Unsubscribe(id1)
}

func TestDisabledSerialMux_Monitor(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewDisabledSerialMux().Monitor(ctx), context.Canceled)
}

func TestDisabledSerialMux_AdminRoutes(t *testing.T) {
	t.Parallel()
	d := NewDisabledSerialMux()
	httpMux := http.NewServeMux()
	d.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(url.Values{"command": {"sensorStop"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sensorStop")
	assert.Equal(t, []string{"sensorStop"}, d.Sent())

	w = httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mmWave CLI")
}
