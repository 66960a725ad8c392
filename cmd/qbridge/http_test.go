package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glimte/qbridge"
	"github.com/glimte/qbridge/messaging"
	"github.com/glimte/qbridge/transports/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, options ...qbridge.ClientOption) (*httptest.Server, *memory.Broker, *qbridge.Client) {
	t.Helper()
	broker := memory.NewBroker(memory.WithQueues("DEV.QUEUE.1"))
	id := messaging.Identity{QueueManager: "QM1", Endpoint: "localhost(1414)", AppName: "qbridge-test"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	options = append([]qbridge.ClientOption{qbridge.WithConnector(broker), qbridge.WithLogger(logger)}, options...)
	c := qbridge.NewClient(id, "DEV.QUEUE.1", options...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Disconnect)

	h := &bridgeHandler{client: c, defaults: messaging.GetOptions{WaitInterval: 10 * time.Millisecond}, logger: logger}
	srv := httptest.NewServer(newBridgeMux(h, nil))
	t.Cleanup(srv.Close)
	return srv, broker, c
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHTTPPutThenGet(t *testing.T) {
	srv, broker, _ := newTestBridge(t)

	resp, err := http.Post(srv.URL+"/mq/messages", "application/json", strings.NewReader(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	receipt := decode[receiptResponse](t, resp)
	assert.Len(t, receipt.MessageID, 32)
	assert.Equal(t, 1, broker.Depth("DEV.QUEUE.1"))

	resp, err = http.Get(srv.URL + "/mq/messages")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[getResponse](t, resp)
	assert.Equal(t, "DEV.QUEUE.1", got.Queue)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Text)
	assert.Equal(t, receipt.MessageID, got.Messages[0].MessageID)
	assert.Equal(t, "text", got.Messages[0].Format)
}

func TestHTTPGetByMatchID(t *testing.T) {
	srv, broker, c := newTestBridge(t)
	_, err := c.Put(context.Background(), "first")
	require.NoError(t, err)
	second, err := c.Put(context.Background(), "second")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/mq/messages?matchId=" + second.HexMessageID())
	require.NoError(t, err)
	got := decode[getResponse](t, resp)

	require.Len(t, got.Messages, 1)
	assert.Equal(t, "second", got.Messages[0].Text)
	assert.Equal(t, 1, broker.Depth("DEV.QUEUE.1"))
}

func TestHTTPGetEmptyQueue(t *testing.T) {
	srv, _, _ := newTestBridge(t)

	resp, err := http.Get(srv.URL + "/mq/messages?wait=0s")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[getResponse](t, resp)
	assert.Empty(t, got.Messages)
}

func TestHTTPBadRequests(t *testing.T) {
	srv, _, _ := newTestBridge(t)

	for _, query := range []string{"matchId=zz", "wait=forever", "limit=-1", "limit=x"} {
		t.Run(query, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/mq/messages?" + query)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, err := http.Post(srv.URL+"/mq/messages", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPPutStamped(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	srv, _, c := newTestBridge(t, qbridge.WithClock(func() time.Time { return at }))

	resp, err := http.Get(srv.URL + "/mq/put-message?text=hi")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	msgs, err := c.Get(context.Background(), messaging.GetOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi Tue Jan 02 2024 03:04:05 GMT+0000", msgs[0].Text())
}

func TestHTTPSessionNotOpen(t *testing.T) {
	srv, _, c := newTestBridge(t)
	c.Disconnect()

	resp, err := http.Post(srv.URL+"/mq/messages", "application/json", strings.NewReader(`{"text":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestHTTPFatalGet(t *testing.T) {
	srv, broker, c := newTestBridge(t)
	broker.DropConnections()

	resp, err := http.Get(srv.URL + "/mq/messages")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	got := decode[getResponse](t, resp)
	assert.Contains(t, got.Error, "2009")
	assert.Equal(t, 1, c.ExitCode())

	resp, err = http.Get(srv.URL + "/mq/messages")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}
