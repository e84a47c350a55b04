// Package websocket provides WebSocket-based live push of scheduler stats
// for notifyq.
//
// Clients open a WebSocket connection to:
//
//	GET /stream
//
// The server pushes a StatsSurface snapshot every 500ms. There is no
// client→server control frame: this is a read-only observability feed, not
// a message-delivery channel.
//
// Server → client frame:
//
//	{"name":"...","idle":3,"pending":1}
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/snehjoshi/notifyq/internal/service"
)

const pushInterval = 500 * time.Millisecond

var urlParse = url.Parse

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// A request is considered same-origin when its Origin header matches the
	// Host header (scheme-agnostic). Requests without an Origin header
	// (e.g. from native clients/curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		parsed, err := parseHost(origin)
		if err != nil {
			return false
		}
		return parsed == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func parseHost(rawURL string) (string, error) {
	u, err := urlParse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Handler serves the live stats WebSocket endpoint.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a Handler backed by svc.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// statsFrame is the JSON structure pushed to every connected client.
type statsFrame struct {
	Name    string `json:"name"`
	Idle    int    `json:"idle"`
	Pending int    `json:"pending"`
}

// ServeHTTP upgrades the connection and starts the push loop. The
// connection is read-only from the client's perspective; a background
// goroutine drains and discards any client frames so that the read side
// still notices a closed connection promptly.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			st := h.svc.Stats()
			frame := statsFrame{Name: st.Name, Idle: st.Idle, Pending: st.Pending}
			data, _ := json.Marshal(frame)
			if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				return
			}
		}
	}
}
