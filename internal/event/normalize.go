package event

import (
	"encoding/json"
	"log"
	"strings"

	"steward/server/internal/gbx"
)

// Normalize maps one raw callback to its typed event. The second return is
// false for callbacks outside the supported set, which are ignored.
func Normalize(cb gbx.Callback) (Event, bool) {
	switch cb.Method {
	case "ManiaPlanet.PlayerInfoChanged":
		st, ok := arg[gbx.Struct](cb.Args, 0)
		if !ok {
			return nil, false
		}
		return PlayerInfoChanged{Player: playerFromStruct(st)}, true

	case "ManiaPlanet.PlayerDisconnect":
		login, ok := arg[string](cb.Args, 0)
		if !ok {
			return nil, false
		}
		return PlayerDisconnect{Login: login}, true

	case "TrackMania.PlayerIncoherence":
		// (PlayerUid, Login)
		login, ok := arg[string](cb.Args, 1)
		if !ok {
			return nil, false
		}
		return PlayerIncoherence{Login: login}, true

	case "ManiaPlanet.PlayerChat":
		// (PlayerUid, Login, Text, IsRegisteredCmd)
		login, ok1 := arg[string](cb.Args, 1)
		text, ok2 := arg[string](cb.Args, 2)
		isCmd, _ := arg[bool](cb.Args, 3)
		if !ok1 || !ok2 {
			return nil, false
		}
		return PlayerChat{Login: login, Text: text, IsCommand: isCmd}, true

	case "ManiaPlanet.PlayerManialinkPageAnswer":
		// (PlayerUid, Login, Answer, Entries)
		login, ok1 := arg[string](cb.Args, 1)
		raw, ok2 := arg[string](cb.Args, 2)
		if !ok1 || !ok2 {
			return nil, false
		}
		var ans Answer
		if err := json.Unmarshal([]byte(raw), &ans); err != nil {
			log.Printf("[event] bad manialink answer from %s: %v", login, err)
			return nil, false
		}
		return ManialinkAnswer{Login: login, Answer: ans}, true

	case "ManiaPlanet.MapListModified":
		cur, _ := arg[int64](cb.Args, 0)
		next, _ := arg[int64](cb.Args, 1)
		modified, _ := arg[bool](cb.Args, 2)
		return MapListModified{CurIndex: int(cur), NextIndex: int(next), ListModified: modified}, true

	case "ManiaPlanet.ModeScriptCallbackArray":
		name, ok := arg[string](cb.Args, 0)
		if !ok {
			return nil, false
		}
		var payload string
		if params, ok := arg[gbx.Array](cb.Args, 1); ok && len(params) > 0 {
			payload, _ = params[0].(string)
		}
		return normalizeModeScript(name, payload)

	case "ManiaPlanet.ModeScriptCallback":
		name, ok := arg[string](cb.Args, 0)
		if !ok {
			return nil, false
		}
		payload, _ := arg[string](cb.Args, 1)
		return normalizeModeScript(name, payload)
	}
	return nil, false
}

// normalizeModeScript decodes the nested mode-script callback family. The
// payload is a JSON document (possibly empty for bare markers).
func normalizeModeScript(name, payload string) (Event, bool) {
	// Life-cycle markers carry no data the controller uses beyond the map of
	// LoadingMap_End.
	switch name {
	case "Maniaplanet.StartServer_End":
		return StartServerEnd{}, true
	case "Maniaplanet.LoadingMap_End":
		var body struct {
			Map struct {
				UID string `json:"uid"`
			} `json:"map"`
		}
		decodeJSON(name, payload, &body)
		return LoadingMapEnd{MapUID: body.Map.UID}, true
	case "Maniaplanet.StartMap_Start":
		return StartMapStart{}, true
	case "Maniaplanet.StartPlayLoop":
		return StartPlayLoop{}, true
	case "Maniaplanet.EndPlayLoop":
		return EndPlayLoop{}, true
	case "Maniaplanet.EndMap_Start":
		return EndMapStart{}, true
	case "Maniaplanet.UnloadingMap_End":
		return UnloadingMapEnd{}, true
	}

	switch name {
	case "Trackmania.WarmUp.Start", "Trackmania.WarmUp.StartRound":
		return WarmUpStart{}, true
	case "Trackmania.WarmUp.End", "Trackmania.WarmUp.EndRound":
		return WarmUpEnd{}, true
	case "Trackmania.WarmUp.Status":
		var body struct {
			Available bool `json:"available"`
			Active    bool `json:"active"`
		}
		if !decodeJSON(name, payload, &body) {
			return nil, false
		}
		return WarmUpStatus{Available: body.Available, Active: body.Active}, true
	case "Maniaplanet.Pause.Status":
		var body struct {
			Available bool `json:"available"`
			Active    bool `json:"active"`
		}
		if !decodeJSON(name, payload, &body) {
			return nil, false
		}
		return PauseStatus{Available: body.Available, Active: body.Active}, true
	case "Trackmania.Scores":
		var body struct {
			Section string        `json:"section"`
			Players []PlayerScore `json:"players"`
		}
		if !decodeJSON(name, payload, &body) {
			return nil, false
		}
		return Scores{Section: body.Section, Players: body.Players}, true
	}

	if strings.HasPrefix(name, "Trackmania.Event.") {
		return normalizeRaceEvent(strings.TrimPrefix(name, "Trackmania.Event."), payload)
	}
	return nil, false
}

// normalizeRaceEvent decodes the Trackmania.Event.* family.
func normalizeRaceEvent(kind, payload string) (Event, bool) {
	switch kind {
	case "StartLine":
		var body struct {
			Login string `json:"login"`
		}
		if !decodeJSON(kind, payload, &body) {
			return nil, false
		}
		return StartLine{Login: body.Login}, true
	case "WayPoint":
		var body struct {
			Login            string  `json:"login"`
			RaceTime         int     `json:"racetime"`
			LapTime          int     `json:"laptime"`
			CheckpointInRace int     `json:"checkpointinrace"`
			IsEndRace        bool    `json:"isendrace"`
			IsEndLap         bool    `json:"isendlap"`
			Speed            float64 `json:"speed"`
			Distance         float64 `json:"distance"`
		}
		if !decodeJSON(kind, payload, &body) {
			return nil, false
		}
		return Waypoint{
			Login:            body.Login,
			RaceTime:         body.RaceTime,
			LapTime:          body.LapTime,
			CheckpointInRace: body.CheckpointInRace,
			IsEndRace:        body.IsEndRace,
			IsEndLap:         body.IsEndLap,
			Speed:            body.Speed,
			Distance:         body.Distance,
		}, true
	case "GiveUp":
		var body struct {
			Login string `json:"login"`
		}
		if !decodeJSON(kind, payload, &body) {
			return nil, false
		}
		return GiveUp{Login: body.Login}, true
	case "SkipOutro":
		var body struct {
			Login string `json:"login"`
		}
		if !decodeJSON(kind, payload, &body) {
			return nil, false
		}
		return SkipOutro{Login: body.Login}, true
	case "Respawn":
		var body struct {
			Login string `json:"login"`
		}
		if !decodeJSON(kind, payload, &body) {
			return nil, false
		}
		return Respawn{Login: body.Login}, true
	}
	return nil, false
}

// decodeJSON unmarshals payload into out, logging and rejecting bad
// documents. An empty payload decodes every field to its zero value.
func decodeJSON(name, payload string, out any) bool {
	if payload == "" {
		return true
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		log.Printf("[event] bad %s payload: %v", name, err)
		return false
	}
	return true
}

// arg extracts a typed positional argument.
func arg[T any](args gbx.Array, i int) (T, bool) {
	var zero T
	if i >= len(args) {
		return zero, false
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, false
	}
	return v, true
}

func playerFromStruct(st gbx.Struct) gbx.PlayerInfo {
	return gbx.PlayerInfo{
		Login:           st.Str("Login"),
		NickName:        st.Str("NickName"),
		PlayerID:        st.Int("PlayerId"),
		TeamID:          st.Int("TeamId"),
		SpectatorStatus: st.Int("SpectatorStatus"),
		Flags:           st.Int("Flags"),
	}
}
