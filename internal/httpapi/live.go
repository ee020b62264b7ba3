package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// liveInterval is how often the live feed pushes a state snapshot.
const liveInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The feed is read-only public data; cross-origin dashboards are fine.
	CheckOrigin: func(*http.Request) bool { return true },
}

// liveFrame is one websocket message of the live feed.
type liveFrame struct {
	Status        StatusResponse   `json:"status"`
	ServerRanking []ServerRankView `json:"server_ranking"`
	Queue         []QueueView      `json:"queue"`
}

// handleLive upgrades to a websocket and pushes a snapshot every
// liveInterval until the client goes away.
func (s *Server) handleLive(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Drain (and discard) client messages so pings and close frames are
	// processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(liveInterval)
	defer ticker.Stop()

	for {
		frame := liveFrame{
			Status:        s.status(),
			ServerRanking: make([]ServerRankView, 0),
			Queue:         make([]QueueView, 0),
		}
		for _, row := range s.rankings.ServerRanking() {
			frame.ServerRanking = append(frame.ServerRanking, ServerRankView{
				Rank:        row.Rank,
				Login:       row.PlayerLogin,
				DisplayName: row.DisplayName,
				Wins:        row.Wins,
				Losses:      row.Losses,
			})
		}
		for _, e := range s.rankings.QueuePreview() {
			frame.Queue = append(frame.Queue, QueueView{MapUID: e.MapUID, Score: e.Score, Pinned: e.Pinned})
		}

		conn.SetWriteDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
		if err := conn.WriteJSON(frame); err != nil {
			return nil // client gone
		}

		select {
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}
