package api

import (
	"context"
	"net/http"
	"time"

	"github.com/adaptivelb/server/pkg/counters"
	"github.com/adaptivelb/server/pkg/store"
	"github.com/gorilla/websocket"
)

const (
	liveRequests   = 10
	liveMetrics    = 9
	liveWriteWait  = 5 * time.Second
	liveMaxMessage = 512
)

// update is the message pushed to the live clients.
type update struct {
	Traffic   counters.Snapshot `json:"traffic"`
	Stats     store.Stats       `json:"stats"`
	Requests  []store.Request   `json:"requests"`
	Metrics   []store.Metric    `json:"metrics"`
	Timestamp string            `json:"timestamp"`
}

// live upgrades the connection to a websocket and pushes an [update] right away,
// and then every [Config.LiveInterval], until the client goes away or the server closes.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		s.fail(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied with an error
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	gone := make(chan struct{})
	go readUntilClosed(conn, gone)

	ticker := time.NewTicker(s.config.LiveInterval)
	defer ticker.Stop()

	for {
		if err := s.push(r.Context(), conn); err != nil {
			s.log.Debug("api: live client dropped", "error", err)
			return
		}

		select {
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(liveWriteWait))
			return

		case <-gone:
			return

		case <-ticker.C:
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn) error {
	u := update{
		Traffic:   s.traffic.Snapshot(),
		Stats:     s.store.Stats(ctx),
		Requests:  s.store.RecentRequests(ctx, liveRequests),
		Metrics:   s.store.RecentMetrics(ctx, liveMetrics),
		Timestamp: store.Now(),
	}

	conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return conn.WriteJSON(u)
}

// readUntilClosed discards what the client sends, closing gone when the connection fails.
// Reading is required to process the control messages.
func readUntilClosed(conn *websocket.Conn, gone chan struct{}) {
	defer close(gone)
	conn.SetReadLimit(liveMaxMessage)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
