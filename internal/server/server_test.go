package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visca-bridge/internal/dispatch"
	"visca-bridge/internal/metrics"
	"visca-bridge/internal/protocol"
	"visca-bridge/internal/serialport"
	"visca-bridge/internal/visca"
)

type recordingHandler struct {
	mu   sync.Mutex
	reqs []protocol.Request
}

func (h *recordingHandler) Handle(req protocol.Request) protocol.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reqs = append(h.reqs, req)
	if req.Command == "report" {
		return protocol.OK(map[string]any{"pan": 1})
	}
	return protocol.Fail("unknown command")
}

func newTestServer(t *testing.T, h Handler, cfg Config) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.New(reg, metrics.DefaultConfig()).ObserveCommand("report", "ok")
	srv := httptest.NewServer(New(cfg, h, reg, nil).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/server", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestPostCommand(t *testing.T) {
	h := &recordingHandler{}
	srv := newTestServer(t, h, Config{})

	resp, out := post(t, srv.URL, `{"command":"report","camera":2}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	assert.Equal(t, map[string]any{"status": "ok", "pan": float64(1)}, out)

	require.Len(t, h.reqs, 1)
	assert.Equal(t, "report", h.reqs[0].Command)
	assert.Equal(t, json.Number("2"), h.reqs[0].Params["camera"])
}

func TestPostBadRequest(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{}, Config{})

	resp, out := post(t, srv.URL, `{"command":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "fail", out["status"])

	resp, err := http.Get(srv.URL + "/server")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusPage(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{}, Config{SerialPort: "sim", Baud: 9600, Simulated: true, Version: "1.2.3"})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "<td>sim</td>")
	assert.Contains(t, string(body), "<td>9600</td>")
	assert.Contains(t, string(body), "simulated")

	resp, err = http.Get(srv.URL + "/nothing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{}, Config{Metrics: true})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `visca_dispatch_commands_total{command="report",status="ok"} 1`)

	off := newTestServer(t, &recordingHandler{}, Config{Metrics: false})
	resp, err = http.Get(off.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestWebSocketCommand(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{}, Config{})
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "command",
		"id":      "req-1",
		"payload": map[string]any{"command": "report"},
	}))

	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, protocol.TypeResult, msg.Type)
	assert.Equal(t, "req-1", msg.ID)

	var res map[string]any
	require.NoError(t, msg.ParsePayload(&res))
	assert.Equal(t, "ok", res["status"])
}

func TestWebSocketPingAndErrors(t *testing.T) {
	srv := newTestServer(t, &recordingHandler{}, Config{})
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping", "payload": map[string]any{"timestamp": 42}}))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, protocol.TypePong, msg.Type)
	var pong protocol.PongPayload
	require.NoError(t, msg.ParsePayload(&pong))
	assert.Equal(t, int64(42), pong.ClientTimestamp)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, protocol.TypeError, msg.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance", "payload": nil}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, protocol.TypeError, msg.Type)
}

func TestEndToEndSimulated(t *testing.T) {
	ctrl, err := visca.NewController(visca.Config{Port: serialport.NewSimulator(nil)})
	require.NoError(t, err)
	d := dispatch.New(ctrl, dispatch.Info{}, nil, nil)
	srv := newTestServer(t, d, Config{})

	_, out := post(t, srv.URL, `{"command":"report"}`)
	assert.Equal(t, map[string]any{"status": "ok", "camera": float64(1), "pan": float64(0), "tilt": float64(0), "zoom": float64(0)}, out)

	_, out = post(t, srv.URL, `{"command":"pan","value":"left","speed":3}`)
	assert.Equal(t, map[string]any{"status": "ok"}, out)

	_, out = post(t, srv.URL, `{"command":"fly"}`)
	assert.Equal(t, map[string]any{"status": "fail", "errors": []any{"unknown command"}}, out)
}
