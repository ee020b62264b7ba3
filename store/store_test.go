package store

import (
	"errors"
	"testing"
	"time"
)

// newMemStore opens an in-memory SQLite database, runs migrations, and
// returns the store. The database is discarded when the test process exits.
func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedMap inserts a minimal map row so FK-dependent rows can be written.
func seedMap(t *testing.T, s *Store, uid string, added time.Time) {
	t.Helper()
	err := s.InsertMap(Map{
		UID:          uid,
		FileName:     uid + ".Map.Gbx",
		Name:         "Map " + uid,
		AuthorLogin:  "author",
		AuthorMillis: 45000,
		AddedSince:   added,
	}, []byte{0xDE, 0xAD})
	if err != nil {
		t.Fatalf("InsertMap %s: %v", uid, err)
	}
}

func seedPlayer(t *testing.T, s *Store, login string) {
	t.Helper()
	if err := s.UpsertPlayer(Player{Login: login, DisplayName: "$fff" + login}); err != nil {
		t.Fatalf("UpsertPlayer %s: %v", login, err)
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// TestMigrationsApplied verifies that after opening a fresh database every
// migration has been recorded and the meta watermark matches.
func TestMigrationsApplied(t *testing.T) {
	s := newMemStore(t)

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}

	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("watermark = %d, want %d", v, len(migrations))
	}
}

// TestMigrationsIdempotent verifies a second migrate pass applies nothing.
func TestMigrationsIdempotent(t *testing.T) {
	s := newMemStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d rows after second migrate, got %d", len(migrations), count)
	}
}

func TestUpsertPlayer(t *testing.T) {
	s := newMemStore(t)
	seedPlayer(t, s, "abc")

	p, ok, err := s.GetPlayer("abc")
	if err != nil || !ok {
		t.Fatalf("GetPlayer: ok=%v err=%v", ok, err)
	}
	if p.DisplayName != "$fffabc" {
		t.Errorf("display name = %q", p.DisplayName)
	}

	if err := s.UpsertPlayer(Player{Login: "abc", DisplayName: "renamed"}); err != nil {
		t.Fatal(err)
	}
	p, _, _ = s.GetPlayer("abc")
	if p.DisplayName != "renamed" {
		t.Errorf("display name after upsert = %q", p.DisplayName)
	}

	if _, ok, err := s.GetPlayer("nobody"); err != nil || ok {
		t.Errorf("missing player: ok=%v err=%v", ok, err)
	}
}

func TestInsertMapWithBlob(t *testing.T) {
	s := newMemStore(t)
	ex := 1234
	err := s.InsertMap(Map{
		UID: "m1", FileName: "m1.Map.Gbx", Name: "First",
		AuthorLogin: "auth", AuthorMillis: 51000,
		AddedSince: t0, ExchangeID: &ex,
	}, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("InsertMap: %v", err)
	}

	m, ok, err := s.GetMap("m1")
	if err != nil || !ok {
		t.Fatalf("GetMap: ok=%v err=%v", ok, err)
	}
	if m.Name != "First" || m.ExchangeID == nil || *m.ExchangeID != 1234 {
		t.Errorf("map = %+v", m)
	}
	if !m.AddedSince.Equal(t0) {
		t.Errorf("added_since = %v", m.AddedSince)
	}

	blob, ok, err := s.MapBlob("m1")
	if err != nil || !ok {
		t.Fatalf("MapBlob: ok=%v err=%v", ok, err)
	}
	if len(blob) != 3 || blob[0] != 1 {
		t.Errorf("blob = %v", blob)
	}

	// Metadata update with nil blob keeps the stored file.
	if err := s.InsertMap(Map{UID: "m1", FileName: "m1.Map.Gbx", Name: "Renamed", AuthorLogin: "auth", AuthorMillis: 51000, AddedSince: t0}, nil); err != nil {
		t.Fatal(err)
	}
	m, _, _ = s.GetMap("m1")
	if m.Name != "Renamed" {
		t.Errorf("name = %q", m.Name)
	}
	if blob, ok, _ := s.MapBlob("m1"); !ok || len(blob) != 3 {
		t.Error("blob lost on metadata update")
	}
}

// TestPlaylistNeverEmpty is the core membership invariant: the last member
// cannot be removed.
func TestPlaylistNeverEmpty(t *testing.T) {
	s := newMemStore(t)
	seedMap(t, s, "m1", t0)
	seedMap(t, s, "m2", t0.Add(time.Hour))

	if err := s.SetInPlaylist("m1", true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetInPlaylist("m2", true); err != nil {
		t.Fatal(err)
	}

	if err := s.SetInPlaylist("m2", false); err != nil {
		t.Fatalf("removing one of two: %v", err)
	}
	if err := s.SetInPlaylist("m1", false); !errors.Is(err, ErrPlaylistEmpty) {
		t.Errorf("removing the last member: %v, want ErrPlaylistEmpty", err)
	}

	uids, err := s.ListPlaylistUIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(uids) != 1 || uids[0] != "m1" {
		t.Errorf("playlist = %v", uids)
	}

	// Unknown uid is rejected outright.
	if err := s.SetInPlaylist("ghost", true); !errors.Is(err, ErrUnknownMap) {
		t.Errorf("unknown map: %v", err)
	}
	// Removing an absent member is a no-op, not an error.
	if err := s.SetInPlaylist("m2", false); err != nil {
		t.Errorf("removing absent member: %v", err)
	}
}

func TestEffectivePreferences(t *testing.T) {
	s := newMemStore(t)
	seedMap(t, s, "m1", t0)
	seedPlayer(t, s, "vet")
	seedPlayer(t, s, "newcomer")
	seedPlayer(t, s, "hater")

	// vet has played m1, no explicit pref -> pick.
	if err := s.UpsertPlayHistory([]string{"vet"}, "m1", t0); err != nil {
		t.Fatal(err)
	}
	// hater vetoed it.
	if err := s.UpsertPreference("hater", "m1", "veto"); err != nil {
		t.Fatal(err)
	}

	prefs, err := s.EffectivePreferences("m1")
	if err != nil {
		t.Fatal(err)
	}
	byLogin := map[string]string{}
	for _, p := range prefs {
		byLogin[p.PlayerLogin] = p.Value
	}
	if byLogin["vet"] != "pick" {
		t.Errorf("vet = %q, want pick (played, unset)", byLogin["vet"])
	}
	if byLogin["newcomer"] != "auto" {
		t.Errorf("newcomer = %q, want auto (unplayed, unset)", byLogin["newcomer"])
	}
	if byLogin["hater"] != "veto" {
		t.Errorf("hater = %q, want veto", byLogin["hater"])
	}

	// Clearing an explicit pref falls back to the derived value.
	if err := s.UpsertPreference("hater", "m1", ""); err != nil {
		t.Fatal(err)
	}
	prefs, _ = s.EffectivePreferences("m1")
	for _, p := range prefs {
		if p.PlayerLogin == "hater" && p.Value != "auto" {
			t.Errorf("hater after clear = %q, want auto", p.Value)
		}
	}
}

func TestPlayHistory(t *testing.T) {
	s := newMemStore(t)
	seedMap(t, s, "m1", t0)
	seedMap(t, s, "m2", t0)
	seedPlayer(t, s, "abc")
	seedPlayer(t, s, "def")

	if err := s.UpsertPlayHistory([]string{"abc", "def"}, "m1", t0); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertPlayHistory([]string{"abc"}, "m2", t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	lp, err := s.MapsLastPlayed([]string{"abc", "def"})
	if err != nil {
		t.Fatal(err)
	}
	if !lp["abc"]["m2"].Equal(t0.Add(time.Hour)) {
		t.Errorf("abc/m2 = %v", lp["abc"]["m2"])
	}
	if _, ok := lp["def"]["m2"]; ok {
		t.Error("def never played m2")
	}

	dates, err := s.MapPlayDates()
	if err != nil {
		t.Fatal(err)
	}
	if !dates["m1"].Equal(t0) || !dates["m2"].Equal(t0.Add(time.Hour)) {
		t.Errorf("dates = %v", dates)
	}
}

func TestRecordAndSectorsTransaction(t *testing.T) {
	s := newMemStore(t)
	seedMap(t, s, "m1", t0)
	seedPlayer(t, s, "abc")

	rec := Record{PlayerLogin: "abc", MapUID: "m1", NbLaps: 0, Millis: 15000, Timestamp: t0}
	sectors := []Sector{
		{Index: 0, CPMillis: 5000, CPSpeed: 310.5},
		{Index: 1, CPMillis: 10000, CPSpeed: 402.0},
		{Index: 2, CPMillis: 15000, CPSpeed: 455.1},
	}
	if err := s.UpsertRecordAndSectors(rec, sectors); err != nil {
		t.Fatalf("UpsertRecordAndSectors: %v", err)
	}

	got, ok, err := s.PersonalBest("abc", "m1", 0)
	if err != nil || !ok {
		t.Fatalf("PersonalBest: ok=%v err=%v", ok, err)
	}
	if got.Millis != 15000 {
		t.Errorf("millis = %d", got.Millis)
	}

	secs, err := s.Sectors("abc", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(secs) != 3 || secs[2].CPMillis != 15000 {
		t.Errorf("sectors = %+v", secs)
	}

	// An improvement replaces both the record and every sector row.
	rec.Millis = 14000
	if err := s.UpsertRecordAndSectors(rec, []Sector{
		{Index: 0, CPMillis: 4600, CPSpeed: 315.0},
		{Index: 1, CPMillis: 9300, CPSpeed: 410.2},
		{Index: 2, CPMillis: 14000, CPSpeed: 460.0},
	}); err != nil {
		t.Fatal(err)
	}
	secs, _ = s.Sectors("abc", "m1")
	if len(secs) != 3 || secs[0].CPMillis != 4600 {
		t.Errorf("sectors after improvement = %+v", secs)
	}
	got, _, _ = s.PersonalBest("abc", "m1", 0)
	if got.Millis != 14000 {
		t.Errorf("millis after improvement = %d", got.Millis)
	}
}

func TestMapRankingOrderAndTies(t *testing.T) {
	s := newMemStore(t)
	seedMap(t, s, "m1", t0)
	for _, l := range []string{"fast", "slow", "tied"} {
		seedPlayer(t, s, l)
	}

	write := func(login string, millis int, at time.Time) {
		t.Helper()
		if err := s.UpsertRecordAndSectors(
			Record{PlayerLogin: login, MapUID: "m1", Millis: millis, Timestamp: at},
			[]Sector{{Index: 0, CPMillis: millis, CPSpeed: 400}},
		); err != nil {
			t.Fatal(err)
		}
	}
	write("slow", 20000, t0)
	write("fast", 15000, t0.Add(time.Minute))
	write("tied", 20000, t0.Add(-time.Hour)) // same time as slow, but earlier

	ranking, err := s.MapRanking("m1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranking) != 3 {
		t.Fatalf("ranking size = %d", len(ranking))
	}
	order := []string{ranking[0].PlayerLogin, ranking[1].PlayerLogin, ranking[2].PlayerLogin}
	want := []string{"fast", "tied", "slow"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("ranking = %v, want %v", order, want)
			break
		}
	}
	if ranking[0].Rank != 1 || ranking[2].Rank != 3 {
		t.Errorf("ranks = %d %d %d", ranking[0].Rank, ranking[1].Rank, ranking[2].Rank)
	}

	// Multi-lap records are excluded from the nb_laps=0 ranking.
	if err := s.UpsertRecordAndSectors(
		Record{PlayerLogin: "fast", MapUID: "m1", NbLaps: 3, Millis: 1, Timestamp: t0},
		nil,
	); err != nil {
		t.Fatal(err)
	}
	ranking, _ = s.MapRanking("m1", 10)
	if len(ranking) != 3 {
		t.Errorf("multi-lap record leaked into ranking (%d rows)", len(ranking))
	}
}

func TestServerRankingInputs(t *testing.T) {
	s := newMemStore(t)
	seedMap(t, s, "m1", t0)
	seedMap(t, s, "m2", t0)
	seedPlayer(t, s, "abc")
	seedPlayer(t, s, "def")

	rec := func(login, uid string, millis int) {
		t.Helper()
		if err := s.UpsertRecordAndSectors(
			Record{PlayerLogin: login, MapUID: uid, Millis: millis, Timestamp: t0},
			nil,
		); err != nil {
			t.Fatal(err)
		}
	}
	rec("abc", "m1", 10000)
	rec("def", "m1", 12000)
	rec("def", "m2", 30000)

	n, err := s.NbPlayersWithAnyRecord([]string{"m1", "m2"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("players with any record = %d", n)
	}

	// Restricting the playlist restricts the count.
	n, _ = s.NbPlayersWithAnyRecord([]string{"m2"})
	if n != 1 {
		t.Errorf("players with record on m2 = %d", n)
	}

	inputs, err := s.ServerRankingInputs([]string{"m1", "m2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs["m1"]) != 2 || inputs["m1"][0].PlayerLogin != "abc" {
		t.Errorf("m1 inputs = %+v", inputs["m1"])
	}
	if len(inputs["m2"]) != 1 {
		t.Errorf("m2 inputs = %+v", inputs["m2"])
	}
}
