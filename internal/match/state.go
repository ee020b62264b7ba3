// Package match holds the in-memory source of truth for the live match:
// connected players, current and next map, phase, warm-up and pause flags,
// and the restart vote. The whole of it sits behind a single read/write
// guard; mutators are short and synchronous, and no caller ever holds the
// guard across a store or RPC operation — components snapshot, release, do
// their I/O, and commit.
package match

import (
	"sync"
	"time"
)

// Phase is the top-level position in the map cycle. Warm-up and pause are
// flags inside Running, not phases of their own.
type Phase int

const (
	PhaseBoot Phase = iota
	PhaseIdle
	PhaseIntro
	PhaseRunning
	PhaseOutro
)

func (p Phase) String() string {
	switch p {
	case PhaseBoot:
		return "boot"
	case PhaseIdle:
		return "idle"
	case PhaseIntro:
		return "intro"
	case PhaseRunning:
		return "running"
	case PhaseOutro:
		return "outro"
	}
	return "unknown"
}

// Player is the controller's view of one connected player.
type Player struct {
	Login       string
	DisplayName string
	Spectator   bool
}

// Map is the controller's view of one playlist map.
type Map struct {
	UID                string
	FileName           string
	Name               string
	AuthorLogin        string
	AuthorDisplayName  string
	AuthorMillis       int
	NbCheckpoints      int
	AddedSince         time.Time
	ExchangeID         int // 0 = not from the exchange
}

// Data is the guarded match state. Callers receive copies via View/Snapshot;
// only Update sees the live value.
type Data struct {
	Phase      Phase
	Players    map[string]Player
	CurrentMap *Map
	NextMap    *Map

	InWarmup       bool
	Paused         bool
	PauseAvailable bool

	// ConsecutiveRestarts counts how many times in a row the current map was
	// restarted; it drives the escalating vote threshold and resets on any
	// map change.
	ConsecutiveRestarts int

	Vote *RestartVote

	// QueuePinUID pre-empts the queue scorer for exactly one selection.
	QueuePinUID string

	// TimeLimitFactor scales the dynamic time limit; admin-overridable.
	TimeLimitFactor float64
}

// State is the single guarded holder of Data.
type State struct {
	mu   sync.RWMutex
	data Data
}

// NewState returns a State in the boot phase with no players.
func NewState() *State {
	return &State{data: Data{
		Phase:           PhaseBoot,
		Players:         make(map[string]Player),
		TimeLimitFactor: 1.0,
	}}
}

// Update runs fn with exclusive write access. fn must not block on I/O; the
// snapshot-release-commit pattern exists for that.
func (s *State) Update(fn func(*Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
}

// View runs fn with shared read access on a shallow copy-safe view. fn must
// not retain references to maps it is handed.
func (s *State) View(fn func(Data)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

// Snapshot returns a deep copy safe to use without the guard.
func (s *State) Snapshot() Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.data
	cp.Players = make(map[string]Player, len(s.data.Players))
	for k, v := range s.data.Players {
		cp.Players[k] = v
	}
	if s.data.CurrentMap != nil {
		m := *s.data.CurrentMap
		cp.CurrentMap = &m
	}
	if s.data.NextMap != nil {
		m := *s.data.NextMap
		cp.NextMap = &m
	}
	if s.data.Vote != nil {
		cp.Vote = s.data.Vote.clone()
	}
	return cp
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Phase
}

// SetPhase transitions to the given phase.
func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	s.data.Phase = p
	s.mu.Unlock()
}

// UpsertPlayer records a player as connected, replacing any previous view.
func (s *State) UpsertPlayer(p Player) {
	s.mu.Lock()
	s.data.Players[p.Login] = p
	s.mu.Unlock()
}

// RemovePlayer drops a player. Returns false if the login was unknown.
func (s *State) RemovePlayer(login string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Players[login]; !ok {
		return false
	}
	delete(s.data.Players, login)
	return true
}

// Player looks a player up by login.
func (s *State) Player(login string) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.Players[login]
	return p, ok
}

// ConnectedLogins returns the logins of all connected players, spectators
// included.
func (s *State) ConnectedLogins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logins := make([]string, 0, len(s.data.Players))
	for l := range s.data.Players {
		logins = append(logins, l)
	}
	return logins
}

// SetCurrentMap installs the map now loading and clears per-map state: the
// restart counter survives only when uid equals the previous map's.
func (s *State) SetCurrentMap(m *Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.CurrentMap == nil || m == nil || s.data.CurrentMap.UID != m.UID {
		s.data.ConsecutiveRestarts = 0
	}
	s.data.CurrentMap = m
	s.data.NextMap = nil
	s.data.Vote = nil
}

// CurrentMap returns a copy of the current map, if any.
func (s *State) CurrentMap() (Map, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.CurrentMap == nil {
		return Map{}, false
	}
	return *s.data.CurrentMap, true
}

// SetNextMap records the committed choice for the next map.
func (s *State) SetNextMap(m *Map) {
	s.mu.Lock()
	s.data.NextMap = m
	s.mu.Unlock()
}

// NoteRestart increments the consecutive restart counter.
func (s *State) NoteRestart() {
	s.mu.Lock()
	s.data.ConsecutiveRestarts++
	s.mu.Unlock()
}

// SetWarmup toggles the warm-up flag.
func (s *State) SetWarmup(active bool) {
	s.mu.Lock()
	s.data.InWarmup = active
	s.mu.Unlock()
}

// InWarmup reports the warm-up flag.
func (s *State) InWarmup() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.InWarmup
}

// SetPause records pause availability and state as reported by the mode.
func (s *State) SetPause(available, active bool) {
	s.mu.Lock()
	s.data.PauseAvailable = available
	s.data.Paused = active
	s.mu.Unlock()
}

// PinQueue records an admin pin; it pre-empts the scorer for one selection.
func (s *State) PinQueue(uid string) {
	s.mu.Lock()
	s.data.QueuePinUID = uid
	s.mu.Unlock()
}

// TakeQueuePin returns and clears the admin pin.
func (s *State) TakeQueuePin() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := s.data.QueuePinUID
	s.data.QueuePinUID = ""
	return uid, uid != ""
}

// SetTimeLimitFactor overrides the dynamic time limit factor.
func (s *State) SetTimeLimitFactor(f float64) {
	s.mu.Lock()
	s.data.TimeLimitFactor = f
	s.mu.Unlock()
}

// OpenVote starts a restart vote among the players connected right now.
func (s *State) OpenVote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	eligible := make(map[string]bool, len(s.data.Players))
	for login := range s.data.Players {
		eligible[login] = true
	}
	s.data.Vote = newRestartVote(eligible)
}

// CastVote records a yes-vote. Returns false when no vote is open or the
// player was not present at open.
func (s *State) CastVote(login string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Vote == nil {
		return false
	}
	return s.data.Vote.cast(login)
}

// CloseVote ends the vote window and reports whether it passed under the
// escalating threshold.
func (s *State) CloseVote() (passed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Vote == nil {
		return false
	}
	passed = s.data.Vote.passed(s.data.ConsecutiveRestarts)
	s.data.Vote = nil
	return passed
}
