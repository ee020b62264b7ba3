// Package httpapi provides read-only HTTP endpoints over the controller's
// state: health, live match status, maps and records, rankings, and a
// websocket feed pushing state snapshots. It runs on its own TCP port,
// separate from the game server connection.
package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"steward/server/internal/match"
	"steward/server/internal/queue"
	"steward/server/internal/records"
	"steward/server/store"
)

// RankingSource exposes the controller's cached ranking snapshots.
type RankingSource interface {
	ServerRanking() []records.ServerRank
	QueuePreview() []queue.Entry
}

// Server provides the REST endpoints and the live feed.
type Server struct {
	store    *store.Store
	state    *match.State
	rankings RankingSource
	version  string
	echo     *echo.Echo
}

// New constructs a Server and registers all routes.
func New(st *store.Store, state *match.State, rankings RankingSource, version string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[api] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	s := &Server{store: st, state: state, rankings: rankings, version: version, echo: e}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.GET("/api/maps", s.handleMaps)
	s.echo.GET("/api/maps/:uid/records", s.handleMapRecords)
	s.echo.GET("/api/server-ranking", s.handleServerRanking)
	s.echo.GET("/api/queue", s.handleQueue)
	s.echo.GET("/api/live", s.handleLive)
	s.echo.GET("/api/version", s.handleVersion)
}

// Run starts the Echo HTTP server on addr and blocks until ctx is
// cancelled. The returned error is nil on a clean shutdown.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		log.Printf("[api] shutdown: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"version": s.version})
}

// PlayerView is one connected player in a status response.
type PlayerView struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	Spectator   bool   `json:"spectator"`
}

// StatusResponse is the payload of GET /api/status and of live feed frames.
type StatusResponse struct {
	Phase      string       `json:"phase"`
	Map        string       `json:"map,omitempty"`
	MapUID     string       `json:"map_uid,omitempty"`
	NextMap    string       `json:"next_map,omitempty"`
	InWarmup   bool         `json:"in_warmup"`
	Paused     bool         `json:"paused"`
	Players    []PlayerView `json:"players"`
	VoteOpen   bool         `json:"vote_open"`
	VoteYes    int          `json:"vote_yes,omitempty"`
	VoteNeeded int          `json:"vote_eligible,omitempty"`
}

func (s *Server) status() StatusResponse {
	snap := s.state.Snapshot()
	resp := StatusResponse{
		Phase:    snap.Phase.String(),
		InWarmup: snap.InWarmup,
		Paused:   snap.Paused,
		Players:  make([]PlayerView, 0, len(snap.Players)),
	}
	if snap.CurrentMap != nil {
		resp.Map = snap.CurrentMap.Name
		resp.MapUID = snap.CurrentMap.UID
	}
	if snap.NextMap != nil {
		resp.NextMap = snap.NextMap.Name
	}
	for _, p := range snap.Players {
		resp.Players = append(resp.Players, PlayerView{
			Login:       p.Login,
			DisplayName: p.DisplayName,
			Spectator:   p.Spectator,
		})
	}
	if snap.Vote != nil {
		resp.VoteOpen = true
		resp.VoteYes = snap.Vote.Yes()
		resp.VoteNeeded = snap.Vote.Eligible()
	}
	return resp
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.status())
}

// MapView is one imported map in a listing.
type MapView struct {
	UID          string `json:"uid"`
	Name         string `json:"name"`
	AuthorLogin  string `json:"author_login"`
	AuthorMillis int    `json:"author_millis"`
	InPlaylist   bool   `json:"in_playlist"`
}

func (s *Server) handleMaps(c echo.Context) error {
	maps, err := s.store.ListMaps()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	uids, err := s.store.ListPlaylistUIDs()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	inPlaylist := make(map[string]bool, len(uids))
	for _, uid := range uids {
		inPlaylist[uid] = true
	}
	out := make([]MapView, 0, len(maps))
	for _, m := range maps {
		out = append(out, MapView{
			UID:          m.UID,
			Name:         m.Name,
			AuthorLogin:  m.AuthorLogin,
			AuthorMillis: m.AuthorMillis,
			InPlaylist:   inPlaylist[m.UID],
		})
	}
	return c.JSON(http.StatusOK, out)
}

// RecordView is one row of a map ranking response.
type RecordView struct {
	Rank        int    `json:"rank"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	Millis      int    `json:"millis"`
}

func (s *Server) handleMapRecords(c echo.Context) error {
	uid := c.Param("uid")
	if _, ok, err := s.store.GetMap(uid); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	} else if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown map")
	}
	ranking, err := s.store.MapRanking(uid, 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RecordView, 0, len(ranking))
	for _, row := range ranking {
		out = append(out, RecordView{
			Rank:        row.Rank,
			Login:       row.PlayerLogin,
			DisplayName: row.DisplayName,
			Millis:      row.Millis,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// ServerRankView is one row of the server ranking response.
type ServerRankView struct {
	Rank        int    `json:"rank"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
}

func (s *Server) handleServerRanking(c echo.Context) error {
	ranking := s.rankings.ServerRanking()
	out := make([]ServerRankView, 0, len(ranking))
	for _, row := range ranking {
		out = append(out, ServerRankView{
			Rank:        row.Rank,
			Login:       row.PlayerLogin,
			DisplayName: row.DisplayName,
			Wins:        row.Wins,
			Losses:      row.Losses,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// QueueView is one row of the queue preview response.
type QueueView struct {
	MapUID string  `json:"map_uid"`
	Score  float64 `json:"score"`
	Pinned bool    `json:"pinned"`
}

func (s *Server) handleQueue(c echo.Context) error {
	preview := s.rankings.QueuePreview()
	out := make([]QueueView, 0, len(preview))
	for _, e := range preview {
		out = append(out, QueueView{MapUID: e.MapUID, Score: e.Score, Pinned: e.Pinned})
	}
	return c.JSON(http.StatusOK, out)
}
