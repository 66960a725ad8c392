package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := NewServer(":0", reg, nil) // :0 lets OS pick available port

	require.NotNil(t, server)
	require.NotNil(t, server.httpServer)
	require.Equal(t, ":0", server.httpServer.Addr)
}

func TestServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.RecordPut("DEV.QUEUE.1", time.Millisecond, true)

	t.Run("default health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewServer(":0", reg, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok", rec.Body.String())
	})

	t.Run("custom health", func(t *testing.T) {
		health := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		rec := httptest.NewRecorder()
		NewServer(":0", reg, health).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewServer(":0", reg, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, strings.Contains(rec.Body.String(), "qbridge_put_total"))
	})
}

func httpGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

func TestServer_StartAndShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := NewServer("127.0.0.1:19191", reg, nil)

	errCh := server.Start()

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = httpGet(t.Context(), "http://127.0.0.1:19191/health")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	// channel closes without an error after a clean shutdown
	require.NoError(t, <-errCh)
}
