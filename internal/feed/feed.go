// Package feed exposes the engine's event stream over WebSocket. Each client
// gets its own bus subscription, so a slow client drops its own events and
// never stalls the engine or other clients.
package feed

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tonfabric/agent-engine/pkg/events"
	"github.com/tonfabric/agent-engine/pkg/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Server streams engine events to WebSocket clients. Clients may narrow the
// stream with a comma-separated "types" query parameter.
type Server struct {
	bus      *events.Bus
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewServer(bus *events.Bus, logger zerolog.Logger) *Server {
	return &Server{
		bus:    bus,
		logger: logger.With().Str("component", "event_feed").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	var filter []types.EventType
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter = append(filter, types.EventType(t))
			}
		}
	}

	ch, cancel := s.bus.Subscribe(filter...)
	s.logger.Info().Str("remote", r.RemoteAddr).Int("filtered_types", len(filter)).Msg("Feed client connected")

	go s.readLoop(conn, cancel)
	s.writeLoop(conn, ch, cancel)
}

// readLoop discards client frames; it exists to notice the close handshake
// and keep pong handling alive.
func (s *Server) readLoop(conn *websocket.Conn, cancel func()) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, ch <-chan types.Event, cancel func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug().Err(err).Msg("Feed client write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
