package records

import (
	"sort"

	"steward/server/store"
)

// ServerRank is one row of the cross-map server ranking.
type ServerRank struct {
	Rank        int
	PlayerLogin string
	DisplayName string
	Wins        int
	Losses      int
}

// ComputeServerRanking derives the server ranking from per-map rankings of
// the current playlist. nbPlayers is the number of distinct players holding
// any record on any playlist map (the store's NbPlayersWithAnyRecord).
//
// On each map a ranked player scores wins = N-1-rank, one less than the
// number of the nbPlayers field ranked below them, and loses to everyone
// above (losses = rank-1); holding no record on a map forfeits it entirely
// (losses = N-1). Ordering is by total wins descending, total losses
// ascending, then login.
func ComputeServerRanking(inputs map[string][]store.RankedRecord, nbPlayers int) []ServerRank {
	type tally struct {
		displayName  string
		wins, losses int
		rankedOn     map[string]bool
	}
	players := make(map[string]*tally)

	for mapUID, ranking := range inputs {
		for _, row := range ranking {
			p := players[row.PlayerLogin]
			if p == nil {
				p = &tally{displayName: row.DisplayName, rankedOn: make(map[string]bool)}
				players[row.PlayerLogin] = p
			}
			p.wins += nbPlayers - 1 - row.Rank
			p.losses += row.Rank - 1
			p.rankedOn[mapUID] = true
		}
	}

	// Maps a player holds no record on count as full losses.
	for _, p := range players {
		unranked := len(inputs) - len(p.rankedOn)
		p.losses += unranked * (nbPlayers - 1)
	}

	out := make([]ServerRank, 0, len(players))
	for login, p := range players {
		out = append(out, ServerRank{
			PlayerLogin: login,
			DisplayName: p.displayName,
			Wins:        p.wins,
			Losses:      p.losses,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		if out[i].Losses != out[j].Losses {
			return out[i].Losses < out[j].Losses
		}
		return out[i].PlayerLogin < out[j].PlayerLogin
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// RankOf returns a player's position in a computed server ranking, or 0 if
// they are unranked.
func RankOf(ranking []ServerRank, login string) int {
	for _, row := range ranking {
		if row.PlayerLogin == login {
			return row.Rank
		}
	}
	return 0
}
