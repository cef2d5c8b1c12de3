// Package relay tunnels outbound HTTP requests through a single agent
// connected over a WebSocket. The agent runs inside the network that can
// reach the upstream services and answers each request by id.
package relay

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds how long a relayed request waits for the agent.
const DefaultTimeout = 75 * time.Second

var (
	ErrAgentNotConnected = errors.New("relay: agent not connected")
	ErrAgentTimeout      = errors.New("relay: agent timeout")
	ErrSendFailed        = errors.New("relay: failed to send to agent")
)

// Request is one HTTP request forwarded to the agent. Body is base64.
type Request struct {
	RequestID string            `json:"request_id"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
}

// Response is the agent's answer to a Request. Body is base64.
type Response struct {
	RequestID string            `json:"request_id"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Hub holds the connected agent and the requests awaiting its answers.
type Hub struct {
	mu      sync.Mutex
	agent   Conn
	pending map[string]chan Response

	writeMu sync.Mutex
	timeout time.Duration
	logger  zerolog.Logger
}

// NewHub creates a Hub. A zero timeout selects DefaultTimeout.
func NewHub(timeout time.Duration, logger zerolog.Logger) *Hub {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Hub{
		pending: make(map[string]chan Response),
		timeout: timeout,
		logger:  logger,
	}
}

// Register makes conn the active agent, closing any previous one.
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	prev := h.agent
	h.agent = conn
	h.mu.Unlock()

	if prev != nil && prev != conn {
		h.logger.Info().Msg("relay agent replaced")
		_ = prev.Close()
	}
}

// Unregister clears conn if it is still the active agent.
func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.agent == conn {
		h.agent = nil
	}
}

// Connected reports whether an agent is registered.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.agent != nil
}

// Fulfill delivers an agent response to its waiting request. Responses
// for unknown or abandoned requests are dropped.
func (h *Hub) Fulfill(resp Response) {
	h.mu.Lock()
	ch, ok := h.pending[resp.RequestID]
	delete(h.pending, resp.RequestID)
	h.mu.Unlock()

	if !ok {
		h.logger.Debug().Str("request_id", resp.RequestID).Msg("relay response for unknown request")
		return
	}
	ch <- resp
}

// Send forwards req to the agent and waits for its response.
func (h *Hub) Send(ctx context.Context, req Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode relay request: %w", err)
	}

	ch := make(chan Response, 1)
	h.mu.Lock()
	agent := h.agent
	if agent == nil {
		h.mu.Unlock()
		return nil, ErrAgentNotConnected
	}
	h.pending[req.RequestID] = ch
	h.mu.Unlock()

	h.writeMu.Lock()
	err = agent.WriteMessage(gorillawebsocket.TextMessage, payload)
	h.writeMu.Unlock()
	if err != nil {
		h.forget(req.RequestID)
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return &resp, nil
	case <-timer.C:
		h.forget(req.RequestID)
		return nil, ErrAgentTimeout
	case <-ctx.Done():
		h.forget(req.RequestID)
		return nil, ctx.Err()
	}
}

func (h *Hub) forget(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// RoundTrip implements http.RoundTripper so an http.Client can send its
// requests through the agent.
func (h *Hub) RoundTrip(r *http.Request) (*http.Response, error) {
	req := Request{
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: make(map[string]string, len(r.Header)),
	}
	for name, values := range r.Header {
		req.Headers[name] = headerValue(values)
	}
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		req.Body = base64.StdEncoding.EncodeToString(body)
	}

	resp, err := h.Send(r.Context(), req)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("relay agent: %s", resp.Error)
	}
	body, err := base64.StdEncoding.DecodeString(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode relay response body: %w", err)
	}

	header := make(http.Header, len(resp.Headers))
	for name, value := range resp.Headers {
		header.Set(name, value)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.Status, http.StatusText(resp.Status)),
		StatusCode:    resp.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}, nil
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

// The agent is not a browser and authenticates with a bearer secret,
// which browsers cannot attach to a WebSocket handshake.
var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler accepts agent connections.
type Handler struct {
	hub    *Hub
	secret []byte
	logger zerolog.Logger
}

// NewHandler creates a Handler bound to hub. Agents must present secret
// as a bearer token; an empty secret refuses every agent.
func NewHandler(hub *Hub, secret string, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, secret: []byte(secret), logger: logger}
}

// RegisterRoutes registers the agent endpoint at /relay/ws.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/relay/ws", h.HandleConnect)
}

// HandleConnect upgrades the connection, registers it as the agent and
// reads its responses until it disconnects.
func (h *Handler) HandleConnect(c echo.Context) error {
	if !h.authorized(c.Request()) {
		h.logger.Warn().Str("remote_ip", c.RealIP()).Msg("relay agent rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, "relay agent not authorised")
	}
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	conn := &gorillaConnAdapter{ws}
	h.hub.Register(conn)
	h.logger.Info().Str("remote_ip", c.RealIP()).Msg("relay agent connected")

	go h.readPump(conn)
	return nil
}

func (h *Handler) authorized(r *http.Request) bool {
	if len(h.secret) == 0 {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get(echo.HeaderAuthorization), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), h.secret) == 1
}

func (h *Handler) readPump(conn Conn) {
	defer func() {
		h.hub.Unregister(conn)
		conn.Close()
		h.logger.Info().Msg("relay agent disconnected")
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var resp Response
		if err := json.Unmarshal(message, &resp); err != nil {
			h.logger.Warn().Err(err).Msg("malformed relay response")
			continue
		}
		h.hub.Fulfill(resp)
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy Conn.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

// Close sends a going-away close frame before closing the socket.
func (a *gorillaConnAdapter) Close() error {
	msg := gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseGoingAway, "")
	_ = a.conn.WriteControl(gorillawebsocket.CloseMessage, msg, time.Now().Add(time.Second))
	return a.conn.Close()
}

// headerValue joins repeated header values the way they are relayed.
func headerValue(values []string) string {
	return strings.Join(values, ", ")
}
