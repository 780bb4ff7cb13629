package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/K3das/sparkbridge/bridge"
	"github.com/K3das/sparkbridge/metrics"
	"github.com/K3das/sparkbridge/utils"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const ChannelPath = "/channel"

// Hub serves the method channel over websocket. Calls from every connection
// go to the same bridge; events are broadcast to all connections.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	dispatcher

	writeTimeout      time.Duration
	eventWriteTimeout time.Duration
	readLimit         int64

	mu    sync.Mutex
	conns map[*hubConn]struct{}
}

type hubConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
}

func (c *hubConn) write(payload []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

type HubExtraOptions func(*Hub)

func WithWriteTimeout(timeout time.Duration) HubExtraOptions {
	return func(h *Hub) {
		h.writeTimeout = timeout
	}
}

// WithEventWriteTimeout bounds each event write. Events are written from the
// main loop, so a slow peer holds up every other call for this long.
func WithEventWriteTimeout(timeout time.Duration) HubExtraOptions {
	return func(h *Hub) {
		h.eventWriteTimeout = timeout
	}
}

func WithReadLimit(limit int64) HubExtraOptions {
	return func(h *Hub) {
		h.readLimit = limit
	}
}

// WithCheckOrigin replaces the origin check. By default every origin is
// accepted.
func WithCheckOrigin(check func(r *http.Request) bool) HubExtraOptions {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = check
	}
}

func NewHub(parentLogger *zap.Logger, handler Handler, loop bridge.Poster, extraOptions ...HubExtraOptions) *Hub {
	log := parentLogger.Named("channel").With(zap.String("transport", "websocket"))
	h := &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		dispatcher: dispatcher{
			log:     log,
			handler: handler,
			loop:    loop,
		},
		writeTimeout:      5 * time.Second,
		eventWriteTimeout: 500 * time.Millisecond,
		readLimit:         64 * 1024,
		conns:             map[*hubConn]struct{}{},
	}
	for _, option := range extraOptions {
		option(h)
	}
	return h
}

// Mount registers the channel endpoint on r.
func (h *Hub) Mount(r chi.Router) {
	r.Get(ChannelPath, h.ServeHTTP)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	log := h.log.With(zap.String("remote_addr", r.RemoteAddr))
	defer utils.PanicRecovery(log)

	c := &hubConn{ws: ws}
	h.add(c)
	defer h.remove(c)

	log.Info("channel connected")

	ws.SetReadLimit(h.readLimit)
	for {
		messageType, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("channel read failed", zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		h.dispatch(payload, func(_ string, reply []byte) error {
			return c.write(reply, h.writeTimeout)
		})
	}

	log.Info("channel disconnected")
}

// InvokeMethod broadcasts an event to every open connection.
func (h *Hub) InvokeMethod(ctx context.Context, method string, arguments any) error {
	payload, err := EncodeEvent(method, arguments)
	if err != nil {
		return err
	}

	conns := h.snapshot()
	if len(conns) == 0 {
		h.log.With(zap.String("event", method)).Debug("no channel connections, event not delivered")
		return nil
	}

	var errs []error
	for _, c := range conns {
		if err := c.write(payload, h.eventWriteTimeout); err != nil {
			errs = append(errs, err)
			// the read loop notices and removes the connection
			c.ws.Close()
		}
	}
	return errors.Join(errs...)
}

// Close disconnects every connection.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	}
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) snapshot() []*hubConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) add(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
	metrics.ChannelConnections.Inc()
}

func (h *Hub) remove(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		metrics.ChannelConnections.Dec()
		c.ws.Close()
	}
}
