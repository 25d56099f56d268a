package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caarlos0/homekit-scout"
	"github.com/caarlos0/homekit-scout/bridge"
	"github.com/stretchr/testify/require"
)

func TestStatusPage(t *testing.T) {
	platform, err := bridge.NewPlatform(bridge.PlatformConfig{
		Dir:  t.TempDir(),
		Addr: "127.0.0.1:0",
		Pin:  "00102003",
		Name: "Scout Bridge",
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, platform.Close()) })

	page := &statusPage{
		platform: platform,
		listener: scout.NewListener(nil),
		err:      errors.New("no scout location found"),
	}

	rec := httptest.NewRecorder()
	page.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "Alarm: <strong>Unknown</strong>")
	require.Contains(t, body, "Scout connection: <strong>disconnected</strong>")
	require.Contains(t, body, "no scout location found")
}
