// Package store provides the controller's persistent state backed by an
// embedded SQLite database: players, maps and their file blobs, playlist
// membership, preferences, play history, and records with per-checkpoint
// sectors. It owns the database lifecycle and exposes typed transactional
// operations; nothing else in the server touches SQL.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table and mirrored into the
// steward_meta singleton. To add a migration, append a new string — never
// edit or reorder existing entries.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Domain errors surfaced to the admin layer; never retried.
var (
	// ErrPlaylistEmpty rejects any operation that would leave the playlist
	// with no members.
	ErrPlaylistEmpty = errors.New("store: playlist must not become empty")

	// ErrUnknownMap rejects references to a map uid that was never imported.
	ErrUnknownMap = errors.New("store: unknown map")
)

// migrations holds the ordered list of DDL/DML statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — players
	`CREATE TABLE IF NOT EXISTS steward_player (
		login        TEXT PRIMARY KEY,
		display_name TEXT NOT NULL
	)`,
	// v2 — maps
	`CREATE TABLE IF NOT EXISTS steward_map (
		uid                 TEXT PRIMARY KEY,
		file_name           TEXT NOT NULL,
		name                TEXT NOT NULL,
		author_login        TEXT NOT NULL,
		author_display_name TEXT NOT NULL DEFAULT '',
		author_millis       INTEGER NOT NULL,
		added_since         INTEGER NOT NULL,
		exchange_id         INTEGER
	)`,
	// v3 — map file blobs, stored side-band so map listings stay cheap
	`CREATE TABLE IF NOT EXISTS steward_map_file (
		map_uid TEXT PRIMARY KEY REFERENCES steward_map(uid),
		data    BLOB NOT NULL
	)`,
	// v4 — time-attack preferences
	`CREATE TABLE IF NOT EXISTS steward_ta_preference (
		player_login TEXT NOT NULL REFERENCES steward_player(login),
		map_uid      TEXT NOT NULL REFERENCES steward_map(uid),
		value        TEXT NOT NULL,
		PRIMARY KEY (player_login, map_uid)
	)`,
	// v5 — play history
	`CREATE TABLE IF NOT EXISTS steward_ta_history (
		player_login TEXT NOT NULL REFERENCES steward_player(login),
		map_uid      TEXT NOT NULL REFERENCES steward_map(uid),
		last_played  INTEGER NOT NULL,
		PRIMARY KEY (player_login, map_uid)
	)`,
	// v6 — records
	`CREATE TABLE IF NOT EXISTS steward_record (
		player_login TEXT NOT NULL REFERENCES steward_player(login),
		map_uid      TEXT NOT NULL REFERENCES steward_map(uid),
		nb_laps      INTEGER NOT NULL DEFAULT 0,
		millis       INTEGER NOT NULL,
		timestamp    INTEGER NOT NULL,
		PRIMARY KEY (player_login, map_uid, nb_laps)
	)`,
	// v7 — per-checkpoint sectors
	`CREATE TABLE IF NOT EXISTS steward_sector (
		player_login TEXT NOT NULL,
		map_uid      TEXT NOT NULL,
		idx          INTEGER NOT NULL,
		cp_millis    INTEGER NOT NULL,
		cp_speed     REAL NOT NULL,
		PRIMARY KEY (player_login, map_uid, idx)
	)`,
	// v8 — explicit playlist membership (was an in_playlist flag on the map
	// row in the previous controller generation)
	`CREATE TABLE IF NOT EXISTS steward_playlist_membership (
		map_uid TEXT PRIMARY KEY REFERENCES steward_map(uid)
	)`,
	// v9 — mode-agnostic preference table
	`CREATE TABLE IF NOT EXISTS steward_preference (
		player_login TEXT NOT NULL REFERENCES steward_player(login),
		map_uid      TEXT NOT NULL REFERENCES steward_map(uid),
		value        TEXT NOT NULL,
		PRIMARY KEY (player_login, map_uid)
	)`,
	// v10 — carry ta_preference rows over; the old table stays readable for
	// a downgrade
	`INSERT OR IGNORE INTO steward_preference (player_login, map_uid, value)
		SELECT player_login, map_uid, value FROM steward_ta_preference`,
	// v11 — migration watermark singleton
	`CREATE TABLE IF NOT EXISTS steward_meta (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		at_migration INTEGER NOT NULL
	)`,
	// v12, v13 — ranking query indexes
	`CREATE INDEX IF NOT EXISTS idx_record_map_laps ON steward_record(map_uid, nb_laps, millis, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_history_map ON steward_ta_history(map_uid, last_played)`,
	// v14 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database and exposes the controller's persistence
// operations.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any pending
// migrations. Use ":memory:" for ephemeral in-process storage (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Allow multiple read connections but serialise writes.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[store] WAL mode: %v (non-fatal)", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[store] busy_timeout: %v (non-fatal)", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		log.Printf("[store] foreign_keys: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent), applies any
// missing migrations, and stamps the watermark singleton.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[store] applied migration v%d", v)
	}

	_, err = s.db.Exec(
		`INSERT INTO steward_meta(id, at_migration) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET at_migration = excluded.at_migration`,
		len(migrations),
	)
	return err
}

// SchemaVersion returns the migration watermark from the meta singleton.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT at_migration FROM steward_meta WHERE id = 1`).Scan(&v)
	return v, err
}

// IsTransient classifies a storage error as worth one short retry. SQLite
// reports write contention as SQLITE_BUSY / "database is locked"; anything
// else is a conflict and propagates.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryTransient runs fn, retrying exactly once after a short pause when the
// first attempt failed with a transient error.
func retryTransient(fn func() error) error {
	err := fn()
	if err != nil && IsTransient(err) {
		time.Sleep(50 * time.Millisecond)
		err = fn()
	}
	return err
}

// ---------------------------------------------------------------------------
// Players
// ---------------------------------------------------------------------------

// Player is one row of steward_player. Players are created on first observed
// connect and never deleted by the controller.
type Player struct {
	Login       string
	DisplayName string
}

// UpsertPlayer creates or refreshes a player row.
func (s *Store) UpsertPlayer(p Player) error {
	return retryTransient(func() error {
		_, err := s.db.Exec(
			`INSERT INTO steward_player(login, display_name) VALUES(?, ?)
			 ON CONFLICT(login) DO UPDATE SET display_name = excluded.display_name`,
			p.Login, p.DisplayName,
		)
		return err
	})
}

// GetPlayer returns the player row for login. The second return value is
// false when the player has never connected.
func (s *Store) GetPlayer(login string) (Player, bool, error) {
	var p Player
	err := s.db.QueryRow(
		`SELECT login, display_name FROM steward_player WHERE login = ?`, login,
	).Scan(&p.Login, &p.DisplayName)
	if err == sql.ErrNoRows {
		return Player{}, false, nil
	}
	if err != nil {
		return Player{}, false, err
	}
	return p, true, nil
}

// ---------------------------------------------------------------------------
// Maps and blobs
// ---------------------------------------------------------------------------

// Map is one row of steward_map. The binary map file lives side-band in
// steward_map_file, keyed by uid.
type Map struct {
	UID               string
	FileName          string
	Name              string
	AuthorLogin       string
	AuthorDisplayName string
	AuthorMillis      int
	AddedSince        time.Time
	ExchangeID        *int // nil when the map did not come from the exchange
}

// InsertMap stores a map row together with its file blob in one
// transaction. Inserting an already known uid updates the metadata; a nil
// blob leaves the stored file alone.
func (s *Store) InsertMap(m Map, blob []byte) error {
	return retryTransient(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck // no-op after Commit

		var exchange any
		if m.ExchangeID != nil {
			exchange = *m.ExchangeID
		}
		if _, err := tx.Exec(
			`INSERT INTO steward_map(uid, file_name, name, author_login, author_display_name, author_millis, added_since, exchange_id)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(uid) DO UPDATE SET
				file_name = excluded.file_name,
				name = excluded.name,
				author_login = excluded.author_login,
				author_display_name = excluded.author_display_name,
				author_millis = excluded.author_millis,
				exchange_id = excluded.exchange_id`,
			m.UID, m.FileName, m.Name, m.AuthorLogin, m.AuthorDisplayName,
			m.AuthorMillis, m.AddedSince.Unix(), exchange,
		); err != nil {
			return err
		}
		if blob != nil {
			if _, err := tx.Exec(
				`INSERT INTO steward_map_file(map_uid, data) VALUES(?, ?)
				 ON CONFLICT(map_uid) DO UPDATE SET data = excluded.data`,
				m.UID, blob,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

const mapColumns = `uid, file_name, name, author_login, author_display_name, author_millis, added_since, exchange_id`

func scanMap(row interface{ Scan(...any) error }) (Map, error) {
	var m Map
	var added int64
	var exchange sql.NullInt64
	err := row.Scan(&m.UID, &m.FileName, &m.Name, &m.AuthorLogin,
		&m.AuthorDisplayName, &m.AuthorMillis, &added, &exchange)
	if err != nil {
		return Map{}, err
	}
	m.AddedSince = time.Unix(added, 0).UTC()
	if exchange.Valid {
		id := int(exchange.Int64)
		m.ExchangeID = &id
	}
	return m, nil
}

// GetMap returns the map row for uid.
func (s *Store) GetMap(uid string) (Map, bool, error) {
	m, err := scanMap(s.db.QueryRow(
		`SELECT `+mapColumns+` FROM steward_map WHERE uid = ?`, uid,
	))
	if err == sql.ErrNoRows {
		return Map{}, false, nil
	}
	if err != nil {
		return Map{}, false, err
	}
	return m, true, nil
}

// ListMaps returns every imported map ordered by added_since then uid.
func (s *Store) ListMaps() ([]Map, error) {
	rows, err := s.db.Query(
		`SELECT ` + mapColumns + ` FROM steward_map ORDER BY added_since ASC, uid ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var maps []Map
	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	return maps, rows.Err()
}

// MapBlob returns the stored map file for uid.
func (s *Store) MapBlob(uid string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM steward_map_file WHERE map_uid = ?`, uid,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// ---------------------------------------------------------------------------
// Playlist
// ---------------------------------------------------------------------------

// SetInPlaylist adds or removes a map from the rotation. Removing the last
// member fails with ErrPlaylistEmpty; the playlist is never empty.
func (s *Store) SetInPlaylist(uid string, in bool) error {
	return retryTransient(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		var exists int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM steward_map WHERE uid = ?`, uid,
		).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownMap, uid)
		}

		if in {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO steward_playlist_membership(map_uid) VALUES(?)`, uid,
			); err != nil {
				return err
			}
			return tx.Commit()
		}

		var member int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM steward_playlist_membership WHERE map_uid = ?`, uid,
		).Scan(&member); err != nil {
			return err
		}
		if member == 0 {
			return tx.Commit() // already absent
		}
		var n int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM steward_playlist_membership`,
		).Scan(&n); err != nil {
			return err
		}
		if n <= 1 {
			return ErrPlaylistEmpty
		}
		if _, err := tx.Exec(
			`DELETE FROM steward_playlist_membership WHERE map_uid = ?`, uid,
		); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ListPlaylistUIDs returns the uids in the rotation, ordered by the map's
// added_since then uid.
func (s *Store) ListPlaylistUIDs() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT pm.map_uid FROM steward_playlist_membership pm
		 JOIN steward_map m ON m.uid = pm.map_uid
		 ORDER BY m.added_since ASC, m.uid ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// ---------------------------------------------------------------------------
// Preferences and play history
// ---------------------------------------------------------------------------

// UpsertPreference stores a player's explicit preference for a map. value is
// one of "pick", "veto", "remove"; the empty string clears the row back to
// unset.
func (s *Store) UpsertPreference(login, mapUID, value string) error {
	return retryTransient(func() error {
		if value == "" {
			_, err := s.db.Exec(
				`DELETE FROM steward_preference WHERE player_login = ? AND map_uid = ?`,
				login, mapUID,
			)
			return err
		}
		_, err := s.db.Exec(
			`INSERT INTO steward_preference(player_login, map_uid, value) VALUES(?, ?, ?)
			 ON CONFLICT(player_login, map_uid) DO UPDATE SET value = excluded.value`,
			login, mapUID, value,
		)
		return err
	})
}

// EffectivePreference is the derived preference of one player for one map:
// the stored value when set, otherwise "auto" for a never-played map and
// "pick" for a played one.
type EffectivePreference struct {
	PlayerLogin string
	Value       string
}

// EffectivePreferences derives the effective preference of every known
// player for the given map.
func (s *Store) EffectivePreferences(mapUID string) ([]EffectivePreference, error) {
	rows, err := s.db.Query(
		`SELECT p.login,
		        COALESCE(pref.value, ''),
		        h.player_login IS NOT NULL
		 FROM steward_player p
		 LEFT JOIN steward_preference pref
		   ON pref.player_login = p.login AND pref.map_uid = ?
		 LEFT JOIN steward_ta_history h
		   ON h.player_login = p.login AND h.map_uid = ?`,
		mapUID, mapUID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []EffectivePreference
	for rows.Next() {
		var login, stored string
		var played bool
		if err := rows.Scan(&login, &stored, &played); err != nil {
			return nil, err
		}
		value := stored
		if value == "" {
			if played {
				value = "pick"
			} else {
				value = "auto"
			}
		}
		prefs = append(prefs, EffectivePreference{PlayerLogin: login, Value: value})
	}
	return prefs, rows.Err()
}

// UpsertPlayHistory stamps last_played for every given login on a map. Run
// at map end for all connected players.
func (s *Store) UpsertPlayHistory(logins []string, mapUID string, playedAt time.Time) error {
	if len(logins) == 0 {
		return nil
	}
	return retryTransient(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		for _, login := range logins {
			if _, err := tx.Exec(
				`INSERT INTO steward_ta_history(player_login, map_uid, last_played) VALUES(?, ?, ?)
				 ON CONFLICT(player_login, map_uid) DO UPDATE SET last_played = excluded.last_played`,
				login, mapUID, playedAt.Unix(),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// MapsLastPlayed returns, for each given login, when they last played each
// map they have history on.
func (s *Store) MapsLastPlayed(logins []string) (map[string]map[string]time.Time, error) {
	out := make(map[string]map[string]time.Time, len(logins))
	if len(logins) == 0 {
		return out, nil
	}
	query := `SELECT player_login, map_uid, last_played FROM steward_ta_history
	          WHERE player_login IN (?` + strings.Repeat(",?", len(logins)-1) + `)`
	args := make([]any, len(logins))
	for i, l := range logins {
		args[i] = l
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var login, uid string
		var ts int64
		if err := rows.Scan(&login, &uid, &ts); err != nil {
			return nil, err
		}
		if out[login] == nil {
			out[login] = make(map[string]time.Time)
		}
		out[login][uid] = time.Unix(ts, 0).UTC()
	}
	return out, rows.Err()
}

// MapPlayDates returns when each map was last played by anyone. Maps with no
// history are absent from the result.
func (s *Store) MapPlayDates() (map[string]time.Time, error) {
	rows, err := s.db.Query(
		`SELECT map_uid, MAX(last_played) FROM steward_ta_history GROUP BY map_uid`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var uid string
		var ts int64
		if err := rows.Scan(&uid, &ts); err != nil {
			return nil, err
		}
		out[uid] = time.Unix(ts, 0).UTC()
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Records and sectors
// ---------------------------------------------------------------------------

// Record is one personal best for (player, map, nb_laps). nb_laps = 0 means
// a single flying lap.
type Record struct {
	PlayerLogin string
	MapUID      string
	NbLaps      int
	Millis      int
	Timestamp   time.Time
}

// Sector is one checkpoint split of a record. Index 0 is the first
// checkpoint; the last index is the finish.
type Sector struct {
	Index    int
	CPMillis int
	CPSpeed  float64
}

// UpsertRecordAndSectors replaces a player's record and all of its sectors
// in one transaction. The caller has already validated the improvement; a
// failure rolls the whole write back.
func (s *Store) UpsertRecordAndSectors(rec Record, sectors []Sector) error {
	return retryTransient(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		if _, err := tx.Exec(
			`INSERT INTO steward_record(player_login, map_uid, nb_laps, millis, timestamp)
			 VALUES(?, ?, ?, ?, ?)
			 ON CONFLICT(player_login, map_uid, nb_laps) DO UPDATE SET
				millis = excluded.millis, timestamp = excluded.timestamp`,
			rec.PlayerLogin, rec.MapUID, rec.NbLaps, rec.Millis, rec.Timestamp.Unix(),
		); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`DELETE FROM steward_sector WHERE player_login = ? AND map_uid = ?`,
			rec.PlayerLogin, rec.MapUID,
		); err != nil {
			return err
		}
		for _, sec := range sectors {
			if _, err := tx.Exec(
				`INSERT INTO steward_sector(player_login, map_uid, idx, cp_millis, cp_speed)
				 VALUES(?, ?, ?, ?, ?)`,
				rec.PlayerLogin, rec.MapUID, sec.Index, sec.CPMillis, sec.CPSpeed,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// PersonalBest returns the player's record for (map, nb_laps).
func (s *Store) PersonalBest(login, mapUID string, nbLaps int) (Record, bool, error) {
	var rec Record
	var ts int64
	err := s.db.QueryRow(
		`SELECT player_login, map_uid, nb_laps, millis, timestamp FROM steward_record
		 WHERE player_login = ? AND map_uid = ? AND nb_laps = ?`,
		login, mapUID, nbLaps,
	).Scan(&rec.PlayerLogin, &rec.MapUID, &rec.NbLaps, &rec.Millis, &ts)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.Timestamp = time.Unix(ts, 0).UTC()
	return rec, true, nil
}

// Sectors returns a record's checkpoint splits in index order.
func (s *Store) Sectors(login, mapUID string) ([]Sector, error) {
	rows, err := s.db.Query(
		`SELECT idx, cp_millis, cp_speed FROM steward_sector
		 WHERE player_login = ? AND map_uid = ? ORDER BY idx ASC`,
		login, mapUID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sectors []Sector
	for rows.Next() {
		var sec Sector
		if err := rows.Scan(&sec.Index, &sec.CPMillis, &sec.CPSpeed); err != nil {
			return nil, err
		}
		sectors = append(sectors, sec)
	}
	return sectors, rows.Err()
}

// RankedRecord is one row of a map ranking: a record joined with its
// player's display name and 1-based position.
type RankedRecord struct {
	Rank        int
	PlayerLogin string
	DisplayName string
	Millis      int
	Timestamp   time.Time
}

// MapRanking returns the top records on a map for nb_laps = 0, fastest
// first, ties broken by earlier timestamp. Pass limit <= 0 for all.
func (s *Store) MapRanking(mapUID string, limit int) ([]RankedRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(
		`SELECT r.player_login, COALESCE(p.display_name, r.player_login), r.millis, r.timestamp
		 FROM steward_record r
		 LEFT JOIN steward_player p ON p.login = r.player_login
		 WHERE r.map_uid = ? AND r.nb_laps = 0
		 ORDER BY r.millis ASC, r.timestamp ASC
		 LIMIT ?`,
		mapUID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranking []RankedRecord
	for rows.Next() {
		var rec RankedRecord
		var ts int64
		if err := rows.Scan(&rec.PlayerLogin, &rec.DisplayName, &rec.Millis, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(ts, 0).UTC()
		rec.Rank = len(ranking) + 1
		ranking = append(ranking, rec)
	}
	return ranking, rows.Err()
}

// NbPlayersWithAnyRecord counts the distinct players holding at least one
// record on any of the given maps.
func (s *Store) NbPlayersWithAnyRecord(playlistUIDs []string) (int, error) {
	if len(playlistUIDs) == 0 {
		return 0, nil
	}
	query := `SELECT COUNT(DISTINCT player_login) FROM steward_record
	          WHERE map_uid IN (?` + strings.Repeat(",?", len(playlistUIDs)-1) + `)`
	args := make([]any, len(playlistUIDs))
	for i, uid := range playlistUIDs {
		args[i] = uid
	}
	var n int
	err := s.db.QueryRow(query, args...).Scan(&n)
	return n, err
}

// ServerRankingInputs returns, per playlist map, the full nb_laps = 0
// ranking — everything the ranking engine needs to derive server ranks.
func (s *Store) ServerRankingInputs(playlistUIDs []string) (map[string][]RankedRecord, error) {
	out := make(map[string][]RankedRecord, len(playlistUIDs))
	for _, uid := range playlistUIDs {
		ranking, err := s.MapRanking(uid, 0)
		if err != nil {
			return nil, err
		}
		out[uid] = ranking
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// Optimize runs PRAGMA optimize for SQLite query planner statistics.
func (s *Store) Optimize() error {
	_, err := s.db.Exec(`PRAGMA optimize`)
	return err
}

// Backup creates a copy of the database at the given path through
// VACUUM INTO.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}
