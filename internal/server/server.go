package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loopholelabs/logging/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visca-bridge/internal/protocol"
)

const (
	maxBodySize   = 64 * 1024
	pongWait      = 60 * time.Second
	pingPeriod    = 30 * time.Second
	writeWait     = 10 * time.Second
	shutdownWait  = 5 * time.Second
	requestHeader = "X-Request-Id"
)

// Handler executes one command request. The dispatcher implements it.
type Handler interface {
	Handle(req protocol.Request) protocol.Result
}

// Config for the server
type Config struct {
	ListenAddr string
	Metrics    bool

	// Shown on the status page
	SerialPort string
	Baud       int
	Driver     string
	Simulated  bool
	Version    string
}

// Server is the HTTP and WebSocket front end of the bridge
type Server struct {
	cfg       Config
	handler   Handler
	gatherer  prometheus.Gatherer
	log       types.Logger
	clients   map[*Client]bool
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
	httpSrv   *http.Server
}

// Client represents a connected WebSocket client
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// New creates a new server instance. gatherer may be nil when metrics are disabled.
func New(cfg Config, h Handler, gatherer prometheus.Gatherer, log types.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		handler:  h,
		gatherer: gatherer,
		log:      log,
		clients:  make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local use
			},
		},
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes returns the HTTP handler for all endpoints
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/server", s.handleCommand)
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.cfg.Metrics && s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.handleStatus)
	return mux
}

// Start serves until Stop is called
func (s *Server) Start() error {
	if s.log != nil {
		s.log.Info().Str("listen", s.cfg.ListenAddr).Msg("server starting")
	}
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes all WebSocket clients and shuts the HTTP server down
func (s *Server) Stop() {
	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil && s.log != nil {
		s.log.Warn().Err(err).Msg("server shutdown")
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := uuid.NewString()
	w.Header().Set(requestHeader, id)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, protocol.Fail("request too large"))
		return
	}

	req, err := protocol.ParseRequest(body)
	if err != nil {
		if s.log != nil {
			s.log.Debug().Str("request", id).Err(err).Msg("bad request")
		}
		writeJSON(w, http.StatusBadRequest, protocol.Fail(err.Error()))
		return
	}

	res := s.run(id, req)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) run(id string, req protocol.Request) protocol.Result {
	start := time.Now()
	res := s.handler.Handle(req)
	if s.log != nil {
		s.log.Debug().
			Str("request", id).
			Str("command", req.Command).
			Str("status", res.Status()).
			Int64("micros", time.Since(start).Microseconds()).
			Msg("command")
	}
	return res
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var statusPage = template.Must(template.New("status").Parse(`<html><head><title>VISCA Bridge</title></head><body>
<h1>VISCA Bridge</h1>
<table>
<tr><td>Version</td><td>{{.Version}}</td></tr>
<tr><td>Serial port</td><td>{{.SerialPort}}</td></tr>
<tr><td>Baud</td><td>{{.Baud}}</td></tr>
<tr><td>Driver</td><td>{{.Driver}}</td></tr>
<tr><td>Mode</td><td>{{if .Simulated}}simulated{{else}}serial{{end}}</td></tr>
</table>
<p>POST commands as JSON to <code>/server</code>, or send them over <code>/ws</code>.</p>
</body></html>
`))

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPage.Execute(w, s.cfg); err != nil && s.log != nil {
		s.log.Warn().Err(err).Msg("status page")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade")
		}
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, 256),
	}

	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()

	if s.log != nil {
		s.log.Debug().Str("client", client.id).Str("remote", r.RemoteAddr).Msg("websocket connected")
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) sendMessage(msgType string, id string, payload any) {
	msg, err := protocol.NewMessage(msgType, id, payload)
	if err != nil {
		c.logError(err, "failed to create message")
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logError(err, "failed to marshal message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logError(errors.New("send buffer full"), "dropping message")
	}
}

func (c *Client) logError(err error, msg string) {
	if c.server.log != nil {
		c.server.log.Warn().Str("client", c.id).Err(err).Msg(msg)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.clientsMu.Lock()
		delete(c.server.clients, c)
		c.server.clientsMu.Unlock()
		c.Close()
	}()

	c.conn.SetReadLimit(maxBodySize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logError(err, "websocket read")
			}
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendMessage(protocol.TypeError, "", protocol.ErrorPayload{
			Code:    protocol.ErrInvalidMessage,
			Message: "Failed to parse message",
		})
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		c.sendMessage(protocol.TypePong, msg.ID, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeCommand:
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		req, err := protocol.ParseRequest(msg.Payload)
		if err != nil {
			c.sendMessage(protocol.TypeError, id, protocol.ErrorPayload{
				Code:    protocol.ErrInvalidMessage,
				Message: err.Error(),
			})
			return
		}
		c.sendMessage(protocol.TypeResult, id, c.server.run(id, req))

	default:
		c.sendMessage(protocol.TypeError, msg.ID, protocol.ErrorPayload{
			Code:    protocol.ErrInvalidMessage,
			Message: "unknown message type: " + msg.Type,
		})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
