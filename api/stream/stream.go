// Package stream pushes controller events to operator consoles. Clients
// asking for a websocket upgrade get JSON text frames; every other client
// gets a server-sent event stream.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/kilianp07/stationctl/core/events"
	"github.com/kilianp07/stationctl/core/logger"
	"github.com/kilianp07/stationctl/internal/eventbus"
)

// TypeSnapshot is the first message sent to a new client.
const TypeSnapshot = "snapshot"

// Handler serves GET /api/stream.
type Handler struct {
	bus      *eventbus.Bus[events.Envelope]
	snapshot func() any
	log      logger.Logger

	// Buffer is the per-client event buffer.
	Buffer int
	// PingInterval is the keep-alive period for both transports.
	PingInterval time.Duration
	// OriginPatterns are passed to the websocket handshake.
	OriginPatterns []string
}

// New returns a Handler fanning out events published on bus. snapshot, when
// set, produces the state sent to each client on connect.
func New(bus *eventbus.Bus[events.Envelope], snapshot func() any, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop{}
	}
	return &Handler{
		bus:            bus,
		snapshot:       snapshot,
		log:            log,
		Buffer:         256,
		PingInterval:   15 * time.Second,
		OriginPatterns: []string{"*"},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		h.serveWS(w, r)
		return
	}
	h.serveSSE(w, r)
}

func (h *Handler) hello() (events.Envelope, bool) {
	if h.snapshot == nil {
		return events.Envelope{}, false
	}
	return events.Envelope{Type: TypeSnapshot, Time: time.Now().UTC(), Payload: h.snapshot()}, true
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		h.log.Warnf("websocket accept failed: %v", err)
		return
	}
	id := uuid.NewString()
	sub := h.bus.SubscribeBuffered(h.Buffer)
	h.log.Debugw("stream client connected", map[string]any{"client_id": id, "transport": "websocket"})

	// CloseRead discards client frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	defer func() {
		h.bus.Unsubscribe(sub)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.log.Debugw("stream client disconnected", map[string]any{"client_id": id})
	}()

	if env, ok := h.hello(); ok {
		if err := writeWS(ctx, conn, env); err != nil {
			return
		}
	}
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := writeWS(ctx, conn, env); err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (h *Handler) serveSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.bus.SubscribeBuffered(h.Buffer)
	defer h.bus.Unsubscribe(sub)

	_, _ = fmt.Fprint(w, ": connected\n\n")
	if env, ok := h.hello(); ok {
		if err := writeSSE(w, env); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case env, ok := <-sub:
			if !ok {
				return
			}
			if err := writeSSE(w, env); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, "event: ping\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, env events.Envelope) error {
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data)
	return err
}
