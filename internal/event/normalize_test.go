package event

import (
	"testing"

	"steward/server/internal/gbx"
)

func TestNormalizePlayerCallbacks(t *testing.T) {
	ev, ok := Normalize(gbx.Callback{
		Method: "ManiaPlanet.PlayerInfoChanged",
		Args: gbx.Array{gbx.Struct{
			"Login":           "tekky",
			"NickName":        "$f00Tekky",
			"PlayerId":        int64(248),
			"SpectatorStatus": int64(2551),
		}},
	})
	if !ok {
		t.Fatal("PlayerInfoChanged not normalized")
	}
	pic, ok := ev.(PlayerInfoChanged)
	if !ok {
		t.Fatalf("got %T", ev)
	}
	if pic.Player.Login != "tekky" || pic.Player.PlayerID != 248 {
		t.Errorf("player = %+v", pic.Player)
	}
	if !pic.Player.IsPureSpectator() {
		t.Error("SpectatorStatus 2551 should be pure spectator")
	}

	ev, ok = Normalize(gbx.Callback{
		Method: "ManiaPlanet.PlayerDisconnect",
		Args:   gbx.Array{"abc", "quit"},
	})
	if !ok {
		t.Fatal("PlayerDisconnect not normalized")
	}
	if d := ev.(PlayerDisconnect); d.Login != "abc" {
		t.Errorf("login = %q", d.Login)
	}

	ev, ok = Normalize(gbx.Callback{
		Method: "ManiaPlanet.PlayerChat",
		Args:   gbx.Array{int64(248), "abc", "/skip", true},
	})
	if !ok {
		t.Fatal("PlayerChat not normalized")
	}
	chat := ev.(PlayerChat)
	if chat.Login != "abc" || chat.Text != "/skip" || !chat.IsCommand {
		t.Errorf("chat = %+v", chat)
	}
}

func TestNormalizeManialinkAnswer(t *testing.T) {
	ev, ok := Normalize(gbx.Callback{
		Method: "ManiaPlanet.PlayerManialinkPageAnswer",
		Args:   gbx.Array{int64(1), "abc", `{"action":"vote_restart"}`, gbx.Array{}},
	})
	if !ok {
		t.Fatal("answer not normalized")
	}
	ans := ev.(ManialinkAnswer)
	if ans.Login != "abc" || ans.Answer.Action != "vote_restart" {
		t.Errorf("answer = %+v", ans)
	}

	// Malformed JSON is dropped, not propagated.
	if _, ok := Normalize(gbx.Callback{
		Method: "ManiaPlanet.PlayerManialinkPageAnswer",
		Args:   gbx.Array{int64(1), "abc", `{not json`, gbx.Array{}},
	}); ok {
		t.Error("malformed answer payload accepted")
	}
}

func TestNormalizeLifecycle(t *testing.T) {
	wrap := func(name, payload string) gbx.Callback {
		return gbx.Callback{
			Method: "ManiaPlanet.ModeScriptCallbackArray",
			Args:   gbx.Array{name, gbx.Array{payload}},
		}
	}

	ev, ok := Normalize(wrap("Maniaplanet.LoadingMap_End", `{"map":{"uid":"XyZ123"}}`))
	if !ok {
		t.Fatal("LoadingMap_End not normalized")
	}
	if lme := ev.(LoadingMapEnd); lme.MapUID != "XyZ123" {
		t.Errorf("map uid = %q", lme.MapUID)
	}

	markers := map[string]Event{
		"Maniaplanet.StartServer_End":  StartServerEnd{},
		"Maniaplanet.StartMap_Start":   StartMapStart{},
		"Maniaplanet.StartPlayLoop":    StartPlayLoop{},
		"Maniaplanet.EndPlayLoop":      EndPlayLoop{},
		"Maniaplanet.EndMap_Start":     EndMapStart{},
		"Maniaplanet.UnloadingMap_End": UnloadingMapEnd{},
	}
	for name, want := range markers {
		ev, ok := Normalize(wrap(name, "{}"))
		if !ok {
			t.Errorf("%s not normalized", name)
			continue
		}
		if ev != want {
			t.Errorf("%s: got %T", name, ev)
		}
	}
}

func TestNormalizeRaceEvents(t *testing.T) {
	wrap := func(name, payload string) gbx.Callback {
		return gbx.Callback{
			Method: "ManiaPlanet.ModeScriptCallbackArray",
			Args:   gbx.Array{name, gbx.Array{payload}},
		}
	}

	ev, ok := Normalize(wrap("Trackmania.Event.WayPoint",
		`{"login":"abc","racetime":15000,"laptime":15000,"checkpointinrace":2,"isendrace":true,"isendlap":true,"speed":412.7,"distance":950.2}`))
	if !ok {
		t.Fatal("WayPoint not normalized")
	}
	wp := ev.(Waypoint)
	if wp.Login != "abc" || wp.RaceTime != 15000 || wp.CheckpointInRace != 2 || !wp.IsEndRace {
		t.Errorf("waypoint = %+v", wp)
	}
	if wp.Speed != 412.7 {
		t.Errorf("speed = %v", wp.Speed)
	}

	ev, ok = Normalize(wrap("Trackmania.Event.StartLine", `{"login":"abc"}`))
	if !ok || ev.(StartLine).Login != "abc" {
		t.Errorf("StartLine: ok=%v ev=%#v", ok, ev)
	}
	ev, ok = Normalize(wrap("Trackmania.Event.GiveUp", `{"login":"abc"}`))
	if !ok || ev.(GiveUp).Login != "abc" {
		t.Errorf("GiveUp: ok=%v ev=%#v", ok, ev)
	}
	ev, ok = Normalize(wrap("Trackmania.Event.SkipOutro", `{"login":"abc"}`))
	if !ok || ev.(SkipOutro).Login != "abc" {
		t.Errorf("SkipOutro: ok=%v ev=%#v", ok, ev)
	}
	ev, ok = Normalize(wrap("Trackmania.Event.Respawn", `{"login":"abc"}`))
	if !ok || ev.(Respawn).Login != "abc" {
		t.Errorf("Respawn: ok=%v ev=%#v", ok, ev)
	}
}

func TestNormalizeStatusCallbacks(t *testing.T) {
	wrap := func(name, payload string) gbx.Callback {
		return gbx.Callback{
			Method: "ManiaPlanet.ModeScriptCallbackArray",
			Args:   gbx.Array{name, gbx.Array{payload}},
		}
	}

	ev, ok := Normalize(wrap("Trackmania.WarmUp.Status", `{"available":true,"active":false}`))
	if !ok {
		t.Fatal("WarmUp.Status not normalized")
	}
	ws := ev.(WarmUpStatus)
	if !ws.Available || ws.Active {
		t.Errorf("status = %+v", ws)
	}

	ev, ok = Normalize(wrap("Maniaplanet.Pause.Status", `{"available":false,"active":false}`))
	if !ok {
		t.Fatal("Pause.Status not normalized")
	}
	ps := ev.(PauseStatus)
	if ps.Available {
		t.Errorf("status = %+v", ps)
	}

	ev, ok = Normalize(wrap("Trackmania.Scores",
		`{"section":"EndMap","players":[{"login":"abc","rank":1,"bestracetime":15000}]}`))
	if !ok {
		t.Fatal("Scores not normalized")
	}
	sc := ev.(Scores)
	if sc.Section != "EndMap" || len(sc.Players) != 1 || sc.Players[0].Login != "abc" {
		t.Errorf("scores = %+v", sc)
	}
}

func TestNormalizeIgnoresUnknown(t *testing.T) {
	unknown := []gbx.Callback{
		{Method: "ManiaPlanet.BillUpdated", Args: gbx.Array{int64(1)}},
		{Method: "ManiaPlanet.Echo", Args: gbx.Array{"a", "b"}},
		{Method: "ManiaPlanet.ModeScriptCallbackArray", Args: gbx.Array{"Some.Unknown.Event", gbx.Array{"{}"}}},
	}
	for _, cb := range unknown {
		if ev, ok := Normalize(cb); ok {
			t.Errorf("%s unexpectedly normalized to %T", cb.Method, ev)
		}
	}
}
