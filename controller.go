package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"steward/server/internal/event"
	"steward/server/internal/gbx"
	"steward/server/internal/match"
	"steward/server/internal/queue"
	"steward/server/internal/records"
	"steward/server/store"
)

// Renderer is the opaque UI surface: it receives one addressed frame per
// player and decides how to show it. The default implementation forwards
// frames as chat messages; a widget renderer plugs in the same way.
type Renderer interface {
	Render(ctx context.Context, frames map[string]string)
}

// ChatRenderer renders frames as per-login server chat messages. Send
// failures are logged and dropped; chat is not a critical call.
type ChatRenderer struct {
	Client *gbx.Client
}

func (r *ChatRenderer) Render(ctx context.Context, frames map[string]string) {
	for login, text := range frames {
		if text == "" {
			continue
		}
		if err := r.Client.ChatSendTo(ctx, text, login); err != nil {
			log.Printf("[render] chat to %s: %v", login, err)
		}
	}
}

// AdminCommand is one already-parsed command from the admin surface. The
// chat/config parsing that produces these lives outside the controller.
type AdminCommand struct {
	Kind   string // see the handleAdmin switch for the accepted kinds
	Issuer string
	Login  string  // target player, where applicable
	MapUID string  // target map, where applicable
	Value  float64 // numeric argument (time limit factor, warm-up seconds, pause on/off)
}

// RankDelta is a player's rank movement across one outro, for the renderer.
type RankDelta struct {
	Login         string
	OldServerRank int // 0 = previously unranked
	NewServerRank int
	OldMapRank    int
	NewMapRank    int
}

// Controller drives the match state machine from the normalized event
// stream, issues RPCs, reconciles the store, and fans frames out to the
// renderer. It owns MatchState; everything it shares goes out as snapshots.
type Controller struct {
	client   *gbx.Client
	store    *store.Store
	state    *match.State
	engine   *records.Engine
	renderer Renderer
	admin    <-chan AdminCommand

	outroDuration time.Duration
	timeLimitMin  time.Duration
	timeLimitMax  time.Duration

	// serverMapOrder mirrors the dedicated server's map list so playlist
	// uids can be committed as indexes. Maintained at boot and on
	// MapListModified.
	serverMapOrder []string

	// mapRankingAtStart is the finishing map's ranking as of intro, kept for
	// outro deltas.
	mapRankingAtStart []store.RankedRecord

	// mu guards the cached rankings shared with the HTTP API.
	mu            sync.RWMutex
	serverRanking []records.ServerRank
	queuePreview  []queue.Entry

	// voteClose fires 2/3 of the way through the outro window; nil outside
	// an outro.
	voteClose <-chan time.Time
}

// NewController wires the controller to its collaborators.
func NewController(client *gbx.Client, st *store.Store, state *match.State,
	engine *records.Engine, renderer Renderer, admin <-chan AdminCommand,
	outro, tlMin, tlMax time.Duration) *Controller {
	return &Controller{
		client:        client,
		store:         st,
		state:         state,
		engine:        engine,
		renderer:      renderer,
		admin:         admin,
		outroDuration: outro,
		timeLimitMin:  tlMin,
		timeLimitMax:  tlMax,
	}
}

// ServerRanking returns the last computed server ranking snapshot.
func (c *Controller) ServerRanking() []records.ServerRank {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]records.ServerRank, len(c.serverRanking))
	copy(out, c.serverRanking)
	return out
}

// QueuePreview returns the last published queue ordering.
func (c *Controller) QueuePreview() []queue.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]queue.Entry, len(c.queuePreview))
	copy(out, c.queuePreview)
	return out
}

// Run consumes callbacks and admin commands until the connection dies or
// ctx is cancelled. Transport and protocol failures return an error; the
// process is expected to exit (supervision is external).
func (c *Controller) Run(ctx context.Context) error {
	callbacks := c.client.Callbacks()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cb, ok := <-callbacks:
			if !ok {
				err := c.client.Err()
				if err == nil {
					err = gbx.ErrConnLost
				}
				return fmt.Errorf("controller: callback stream closed: %w", err)
			}
			ev, ok := event.Normalize(cb)
			if !ok {
				continue
			}
			c.handleEvent(ctx, ev)
		case cmd := <-c.admin:
			c.handleAdmin(ctx, cmd)
		case <-c.voteClose:
			c.voteClose = nil
			c.closeVote(ctx)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case event.PlayerInfoChanged:
		c.onPlayerInfo(e.Player)
	case event.PlayerDisconnect:
		if c.state.RemovePlayer(e.Login) {
			log.Printf("[controller] %s disconnected", e.Login)
		}
		c.engine.DropRun(e.Login)
	case event.PlayerIncoherence:
		c.engine.DropRun(e.Login)
	case event.PlayerChat:
		// Command parsing is the admin surface's concern; plain chat passes
		// through the server untouched.
	case event.ManialinkAnswer:
		c.onAnswer(e)
	case event.MapListModified:
		c.syncMapOrder(ctx)
		c.recomputeServerRanking()
	case event.StartServerEnd:
		c.state.SetPhase(match.PhaseIdle)
		c.syncPlayers(ctx)
		c.syncMapOrder(ctx)
	case event.LoadingMapEnd:
		c.onMapLoaded(ctx, e.MapUID)
	case event.StartMapStart:
		// The time limit was committed during onMapLoaded; nothing left to
		// do here.
	case event.StartPlayLoop:
		c.state.SetPhase(match.PhaseRunning)
	case event.EndPlayLoop:
		// The outro proper begins at EndMap_Start.
	case event.EndMapStart:
		c.state.SetPhase(match.PhaseOutro)
		c.runOutro(ctx)
	case event.UnloadingMapEnd:
		c.state.SetPhase(match.PhaseIdle)
	case event.WarmUpStart:
		c.state.SetWarmup(true)
	case event.WarmUpEnd:
		c.state.SetWarmup(false)
	case event.WarmUpStatus:
		c.state.SetWarmup(e.Active)
	case event.PauseStatus:
		c.state.SetPause(e.Available, e.Active)
	case event.Scores:
		// The score table feeds widgets only; records are derived from
		// waypoints.
	case event.StartLine:
		c.engine.StartLine(e.Login)
	case event.Waypoint:
		c.onWaypoint(ctx, e)
	case event.GiveUp:
		c.engine.DropRun(e.Login)
	case event.SkipOutro, event.Respawn:
		// Respawning keeps the run; skipping the outro is cosmetic.
	}
}

func (c *Controller) onPlayerInfo(p gbx.PlayerInfo) {
	_, known := c.state.Player(p.Login)
	c.state.UpsertPlayer(match.Player{
		Login:       p.Login,
		DisplayName: p.NickName,
		Spectator:   p.IsPureSpectator(),
	})
	if err := c.store.UpsertPlayer(store.Player{Login: p.Login, DisplayName: p.NickName}); err != nil {
		log.Printf("[controller] persist player %s: %v", p.Login, err)
	}
	if !known {
		log.Printf("[controller] %s connected", p.Login)
	}
}

func (c *Controller) onAnswer(e event.ManialinkAnswer) {
	switch e.Answer.Action {
	case "vote_restart":
		if c.state.CastVote(e.Login) {
			log.Printf("[controller] %s voted to restart", e.Login)
		}
	case "set_pref":
		if e.Answer.MapUID == "" {
			return
		}
		value := e.Answer.Pref
		switch value {
		case "pick", "veto", "remove", "":
		default:
			return
		}
		if err := c.store.UpsertPreference(e.Login, e.Answer.MapUID, value); err != nil {
			log.Printf("[controller] preference %s/%s: %v", e.Login, e.Answer.MapUID, err)
		}
	}
}

func (c *Controller) onWaypoint(ctx context.Context, e event.Waypoint) {
	if !e.IsEndRace {
		c.engine.Checkpoint(e)
		return
	}
	p, _ := c.state.Player(e.Login)
	imp, improved, err := c.engine.Finish(e, p.Spectator, time.Now().UTC())
	if err != nil {
		if errors.Is(err, records.ErrInvalidRecord) {
			log.Printf("[controller] rejected finish by %s: %v", e.Login, err)
			return
		}
		log.Printf("[controller] record write for %s: %v", e.Login, err)
		return
	}
	if !improved {
		return
	}
	c.announceImprovement(ctx, imp)
}

func (c *Controller) announceImprovement(ctx context.Context, imp records.Improvement) {
	p, _ := c.state.Player(imp.PlayerLogin)
	name := p.DisplayName
	if name == "" {
		name = imp.PlayerLogin
	}
	var text string
	if imp.HadRecord {
		text = fmt.Sprintf("%s improved to %s (rank %d, was %s)",
			name, formatMillis(imp.NewMillis), imp.NewMapRank, formatMillis(imp.OldMillis))
	} else {
		text = fmt.Sprintf("%s set a record: %s (rank %d)",
			name, formatMillis(imp.NewMillis), imp.NewMapRank)
	}
	frames := make(map[string]string)
	for _, login := range c.state.ConnectedLogins() {
		frames[login] = text
	}
	c.renderer.Render(ctx, frames)
}

// onMapLoaded runs between LoadingMap_End and StartMap_Start: it resolves
// the map against the store (importing server-known maps on first sight),
// resets the record engine, and commits the dynamic time limit.
func (c *Controller) onMapLoaded(ctx context.Context, uid string) {
	c.state.SetPhase(match.PhaseIntro)

	m, ok, err := c.store.GetMap(uid)
	if err != nil {
		log.Printf("[controller] map lookup %s: %v", uid, err)
		return
	}
	info, infoErr := c.currentMapInfo(ctx, uid)
	if !ok {
		// First sight of a map the server already carries: import metadata
		// now; the file blob follows through the blob source when an admin
		// requests it.
		if infoErr != nil {
			log.Printf("[controller] resolve unknown map %s: %v", uid, infoErr)
			return
		}
		m = store.Map{
			UID:          uid,
			FileName:     info.FileName,
			Name:         info.Name,
			AuthorLogin:  info.Author,
			AuthorMillis: info.AuthorTime,
			AddedSince:   time.Now().UTC(),
		}
		if err := c.store.InsertMap(m, nil); err != nil {
			log.Printf("[controller] import map %s: %v", uid, err)
		}
		if err := c.store.SetInPlaylist(uid, true); err != nil {
			log.Printf("[controller] playlist add %s: %v", uid, err)
		}
	}

	nbCheckpoints := 0
	nbLaps := 0
	if infoErr == nil {
		nbCheckpoints = info.NbCheckpoints
		if info.LapRace {
			nbLaps = info.NbLaps
		}
	}
	c.engine.SetMap(uid, nbCheckpoints, nbLaps)

	ranking, err := c.store.MapRanking(uid, 0)
	if err != nil {
		log.Printf("[controller] ranking for %s: %v", uid, err)
		ranking = nil
	}
	c.mapRankingAtStart = ranking

	c.state.SetCurrentMap(&match.Map{
		UID:          m.UID,
		FileName:     m.FileName,
		Name:         m.Name,
		AuthorLogin:  m.AuthorLogin,
		AuthorMillis: m.AuthorMillis,
		NbCheckpoints: nbCheckpoints,
		AddedSince:   m.AddedSince,
	})

	c.commitTimeLimit(ctx, m, ranking)
}

// currentMapInfo resolves the live map's metadata from the server.
func (c *Controller) currentMapInfo(ctx context.Context, uid string) (gbx.MapInfo, error) {
	v, err := c.client.Invoke(ctx, "GetCurrentMapInfo")
	if err != nil {
		return gbx.MapInfo{}, err
	}
	st, ok := v.(gbx.Struct)
	if !ok {
		return gbx.MapInfo{}, fmt.Errorf("controller: GetCurrentMapInfo returned %T", v)
	}
	info := gbx.MapInfo{
		UID:           st.Str("UId"),
		Name:          st.Str("Name"),
		FileName:      st.Str("FileName"),
		Author:        st.Str("Author"),
		AuthorTime:    st.Int("AuthorTime"),
		LapRace:       st.Bool("LapRace"),
		NbLaps:        st.Int("NbLaps"),
		NbCheckpoints: st.Int("NbCheckpoints"),
	}
	if info.UID != uid {
		return info, fmt.Errorf("controller: current map is %s, expected %s", info.UID, uid)
	}
	return info, nil
}

// commitTimeLimit computes and commits the dynamic time limit. Must finish
// before StartMap_Start; a fault here is non-critical (the previous limit
// stays).
func (c *Controller) commitTimeLimit(ctx context.Context, m store.Map, ranking []store.RankedRecord) {
	top := 0
	if len(ranking) > 0 {
		top = ranking[0].Millis
	}
	var factor float64
	c.state.View(func(d match.Data) { factor = d.TimeLimitFactor })
	limit := match.TimeLimit(factor, m.AuthorMillis, top, c.timeLimitMin, c.timeLimitMax)
	err := c.client.SetModeScriptSettings(ctx, gbx.Struct{
		"S_TimeLimit": int64(limit / time.Second),
	})
	if err != nil {
		log.Printf("[controller] set time limit for %s: %v", m.UID, err)
		return
	}
	log.Printf("[controller] time limit for %s: %v", m.Name, limit)
}

// runOutro executes the outro sequence in its required order: flush record
// writes, recompute rankings and deltas, queue and commit the next map,
// open the restart vote, and render the match summary.
func (c *Controller) runOutro(ctx context.Context) {
	// 1. No record write for the finishing map may still be in flight.
	c.engine.Flush()

	snap := c.state.Snapshot()

	// Stamp play history before ranking so queue ages see this playthrough.
	if snap.CurrentMap != nil {
		logins := make([]string, 0, len(snap.Players))
		for l := range snap.Players {
			logins = append(logins, l)
		}
		if err := c.store.UpsertPlayHistory(logins, snap.CurrentMap.UID, time.Now().UTC()); err != nil {
			log.Printf("[controller] play history: %v", err)
		}
	}

	// 2. Recompute server ranks and collect per-player deltas.
	oldRanking := c.ServerRanking()
	c.recomputeServerRanking()
	newRanking := c.ServerRanking()

	var newMapRanking []store.RankedRecord
	if snap.CurrentMap != nil {
		var err error
		newMapRanking, err = c.store.MapRanking(snap.CurrentMap.UID, 0)
		if err != nil {
			log.Printf("[controller] outro map ranking: %v", err)
		}
	}
	deltas := collectDeltas(snap, oldRanking, newRanking, c.mapRankingAtStart, newMapRanking)

	// 3. Queue and commit the next map (an admin pin pre-empts the scorer; a
	// passed vote later overrides the commit in closeVote).
	c.queueNextMap(ctx, snap)

	// 4. Restart vote window, closing 2/3 of the way through the outro.
	c.state.OpenVote()
	c.voteClose = time.After(c.outroDuration * 2 / 3)

	// 5. Match summary frames for every connected player.
	c.renderSummary(ctx, snap, deltas)
}

// collectDeltas pairs each connected player's old and new ranks.
func collectDeltas(snap match.Data, oldSrv, newSrv []records.ServerRank,
	oldMap, newMap []store.RankedRecord) []RankDelta {
	mapRank := func(ranking []store.RankedRecord, login string) int {
		for _, row := range ranking {
			if row.PlayerLogin == login {
				return row.Rank
			}
		}
		return 0
	}
	deltas := make([]RankDelta, 0, len(snap.Players))
	for login := range snap.Players {
		deltas = append(deltas, RankDelta{
			Login:         login,
			OldServerRank: records.RankOf(oldSrv, login),
			NewServerRank: records.RankOf(newSrv, login),
			OldMapRank:    mapRank(oldMap, login),
			NewMapRank:    mapRank(newMap, login),
		})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Login < deltas[j].Login })
	return deltas
}

// recomputeServerRanking rebuilds the cross-map ranking from the store.
func (c *Controller) recomputeServerRanking() {
	uids, err := c.store.ListPlaylistUIDs()
	if err != nil {
		log.Printf("[controller] playlist for ranking: %v", err)
		return
	}
	n, err := c.store.NbPlayersWithAnyRecord(uids)
	if err != nil {
		log.Printf("[controller] ranking player count: %v", err)
		return
	}
	inputs, err := c.store.ServerRankingInputs(uids)
	if err != nil {
		log.Printf("[controller] ranking inputs: %v", err)
		return
	}
	ranking := records.ComputeServerRanking(inputs, n)
	c.mu.Lock()
	c.serverRanking = ranking
	c.mu.Unlock()
}

// queueNextMap scores the playlist, publishes the preview, and commits the
// selection. An admin pin pre-empts the scorer for this one selection; a
// restart decision arrives later through closeVote.
func (c *Controller) queueNextMap(ctx context.Context, snap match.Data) {
	currentUID := ""
	if snap.CurrentMap != nil {
		currentUID = snap.CurrentMap.UID
	}
	pin, _ := c.state.TakeQueuePin()

	entries, err := c.scoreQueue(snap, currentUID, pin)
	if err != nil {
		log.Printf("[controller] queue scoring: %v", err)
		return
	}
	if len(entries) == 0 {
		log.Printf("[controller] queue empty; leaving server choice alone")
		return
	}

	// The preview never shows the excluded current map (score -inf).
	preview := make([]queue.Entry, 0, 3)
	for _, e := range entries {
		if math.IsInf(e.Score, -1) {
			continue
		}
		preview = append(preview, e)
		if len(preview) == 3 {
			break
		}
	}
	c.mu.Lock()
	c.queuePreview = append([]queue.Entry(nil), preview...)
	c.mu.Unlock()

	next := entries[0].MapUID
	if err := c.commitNextMap(ctx, next); err != nil {
		log.Printf("[controller] commit next map %s: %v", next, err)
		return
	}
	if m, ok, _ := c.store.GetMap(next); ok {
		c.state.SetNextMap(&match.Map{
			UID: m.UID, FileName: m.FileName, Name: m.Name,
			AuthorLogin: m.AuthorLogin, AuthorMillis: m.AuthorMillis,
			AddedSince: m.AddedSince,
		})
	}
}

// scoreQueue assembles scorer candidates from the store, counting effective
// preferences of connected players only and deriving each map's age from
// the play dates.
func (c *Controller) scoreQueue(snap match.Data, currentUID, pin string) ([]queue.Entry, error) {
	uids, err := c.store.ListPlaylistUIDs()
	if err != nil {
		return nil, err
	}
	playDates, err := c.store.MapPlayDates()
	if err != nil {
		return nil, err
	}

	// age(m) = how many other maps were played after m's last playthrough.
	age := func(uid string) int {
		at, played := playDates[uid]
		if !played {
			return -1
		}
		n := 0
		for other, otherAt := range playDates {
			if other != uid && otherAt.After(at) {
				n++
			}
		}
		return n
	}

	cands := make([]queue.Candidate, 0, len(uids))
	for _, uid := range uids {
		m, ok, err := c.store.GetMap(uid)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		prefs, err := c.store.EffectivePreferences(uid)
		if err != nil {
			return nil, err
		}
		cand := queue.Candidate{MapUID: uid, AddedSince: m.AddedSince, Age: age(uid)}
		for _, p := range prefs {
			if _, connected := snap.Players[p.PlayerLogin]; !connected {
				continue
			}
			switch p.Value {
			case "pick", "auto":
				cand.Picks++
			case "veto":
				cand.Vetoes++
			case "remove":
				cand.Removes++
			}
		}
		cands = append(cands, cand)
	}
	return queue.Rank(cands, currentUID, pin), nil
}

// commitNextMap translates the uid to the server's map index and commits
// it. SetNextMapIndex is a critical call: on a fault the controller
// re-queries the server's own choice, accepts it when it already equals
// the wanted index, and otherwise retries exactly once.
func (c *Controller) commitNextMap(ctx context.Context, uid string) error {
	index := -1
	for i, u := range c.serverMapOrder {
		if u == uid {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("controller: map %s not in the server rotation", uid)
	}

	err := c.client.SetNextMapIndex(ctx, index)
	if err == nil {
		return nil
	}
	var fault *gbx.Fault
	if !errors.As(err, &fault) {
		return err
	}

	got, qerr := c.client.GetNextMapIndex(ctx)
	if qerr == nil && got == index {
		return nil // the server already holds our choice
	}
	return c.client.SetNextMapIndex(ctx, index)
}

// closeVote ends the restart window. A passed vote pre-empts the committed
// next map with a restart of the current one.
func (c *Controller) closeVote(ctx context.Context) {
	if !c.state.CloseVote() {
		return
	}
	if err := c.client.RestartMap(ctx); err != nil {
		log.Printf("[controller] restart map: %v", err)
		return
	}
	c.state.NoteRestart()
	log.Printf("[controller] restart vote passed")

	frames := make(map[string]string)
	for _, login := range c.state.ConnectedLogins() {
		frames[login] = "Restart vote passed — playing this one again"
	}
	c.renderer.Render(ctx, frames)
}

// renderSummary emits the outro frame to every connected player.
func (c *Controller) renderSummary(ctx context.Context, snap match.Data, deltas []RankDelta) {
	byLogin := make(map[string]RankDelta, len(deltas))
	for _, d := range deltas {
		byLogin[d.Login] = d
	}
	mapName := ""
	if snap.CurrentMap != nil {
		mapName = snap.CurrentMap.Name
	}
	frames := make(map[string]string, len(snap.Players))
	for login := range snap.Players {
		d := byLogin[login]
		var b strings.Builder
		fmt.Fprintf(&b, "%s finished.", mapName)
		if d.NewMapRank > 0 {
			fmt.Fprintf(&b, " Map rank %s.", deltaText(d.OldMapRank, d.NewMapRank))
		}
		if d.NewServerRank > 0 {
			fmt.Fprintf(&b, " Server rank %s.", deltaText(d.OldServerRank, d.NewServerRank))
		}
		frames[login] = b.String()
	}
	c.renderer.Render(ctx, frames)
}

func deltaText(old, cur int) string {
	switch {
	case old == 0:
		return fmt.Sprintf("%d (new)", cur)
	case old == cur:
		return fmt.Sprintf("%d", cur)
	default:
		return fmt.Sprintf("%d (was %d)", cur, old)
	}
}

// syncPlayers reconciles connected players with the server's list.
func (c *Controller) syncPlayers(ctx context.Context) {
	players, err := c.client.GetPlayerList(ctx, 255, 0)
	if err != nil {
		log.Printf("[controller] player list: %v", err)
		return
	}
	for _, p := range players {
		if p.Login == "" {
			continue
		}
		c.onPlayerInfo(p)
	}
}

// syncMapOrder refreshes the mirror of the server's map rotation and makes
// sure every server-side map exists in the store and playlist.
func (c *Controller) syncMapOrder(ctx context.Context) {
	maps, err := c.client.GetMapList(ctx, 1000, 0)
	if err != nil {
		log.Printf("[controller] map list: %v", err)
		return
	}
	order := make([]string, 0, len(maps))
	for _, m := range maps {
		order = append(order, m.UID)
		if _, ok, _ := c.store.GetMap(m.UID); ok {
			continue
		}
		err := c.store.InsertMap(store.Map{
			UID:          m.UID,
			FileName:     m.FileName,
			Name:         m.Name,
			AuthorLogin:  m.Author,
			AuthorMillis: m.AuthorTime,
			AddedSince:   time.Now().UTC(),
		}, nil)
		if err != nil {
			log.Printf("[controller] import map %s: %v", m.UID, err)
			continue
		}
		if err := c.store.SetInPlaylist(m.UID, true); err != nil {
			log.Printf("[controller] playlist add %s: %v", m.UID, err)
		}
	}
	c.serverMapOrder = order
}

// handleAdmin executes one parsed admin command. Domain failures go back to
// the issuer through the renderer; they are never retried.
func (c *Controller) handleAdmin(ctx context.Context, cmd AdminCommand) {
	fail := func(err error) {
		log.Printf("[admin] %s by %s: %v", cmd.Kind, cmd.Issuer, err)
		if cmd.Issuer != "" {
			c.renderer.Render(ctx, map[string]string{
				cmd.Issuer: fmt.Sprintf("command %s failed: %v", cmd.Kind, err),
			})
		}
	}

	switch cmd.Kind {
	case "skip":
		if err := c.client.NextMap(ctx); err != nil {
			fail(err)
		}
	case "restart":
		if err := c.client.RestartMap(ctx); err != nil {
			fail(err)
			return
		}
		c.state.NoteRestart()
	case "queue_pin":
		c.state.PinQueue(cmd.MapUID)
	case "playlist_add":
		if err := c.store.SetInPlaylist(cmd.MapUID, true); err != nil {
			fail(err)
			return
		}
		c.recomputeServerRanking()
	case "playlist_remove":
		if err := c.store.SetInPlaylist(cmd.MapUID, false); err != nil {
			fail(err)
			return
		}
		c.recomputeServerRanking()
	case "force_spectator":
		if err := c.client.ForceSpectator(ctx, cmd.Login, 1); err != nil {
			fail(err)
		}
	case "kick":
		if err := c.client.Kick(ctx, cmd.Login, "kicked by admin"); err != nil {
			fail(err)
		}
	case "blacklist":
		if err := c.client.Blacklist(ctx, cmd.Login); err != nil {
			fail(err)
		}
	case "unblacklist":
		if err := c.client.Unblacklist(ctx, cmd.Login); err != nil {
			fail(err)
		}
	case "warmup_extend":
		if err := c.client.TriggerModeScriptEventArray(ctx, "Trackmania.WarmUp.Extend", fmt.Sprintf("%d", int(cmd.Value))); err != nil {
			fail(err)
		}
	case "warmup_stop":
		if err := c.client.TriggerModeScriptEventArray(ctx, "Trackmania.WarmUp.ForceStop"); err != nil {
			fail(err)
		}
	case "pause":
		var available bool
		c.state.View(func(d match.Data) { available = d.PauseAvailable })
		if !available {
			fail(errors.New("the mode does not support pausing"))
			return
		}
		active := cmd.Value != 0
		if err := c.client.TriggerModeScriptEventArray(ctx, "Maniaplanet.Pause.SetActive", fmt.Sprintf("%t", active)); err != nil {
			fail(err)
		}
	case "timelimit_factor":
		if cmd.Value <= 0 {
			fail(fmt.Errorf("factor %v out of range", cmd.Value))
			return
		}
		c.state.SetTimeLimitFactor(cmd.Value)
	default:
		fail(fmt.Errorf("unknown command"))
	}
}

// formatMillis renders a race time as m:ss.mmm.
func formatMillis(millis int) string {
	d := time.Duration(millis) * time.Millisecond
	return fmt.Sprintf("%d:%02d.%03d",
		int(d.Minutes()), int(d.Seconds())%60, millis%1000)
}
