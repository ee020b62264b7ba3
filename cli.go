package main

import (
	"fmt"
	"os"

	"steward/server/internal/records"
	"steward/server/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("steward server %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "playlist":
		return cliPlaylist(args[1:], dbPath)
	case "records":
		return cliRecords(args[1:], dbPath)
	case "ranking":
		return cliRanking(dbPath)
	case "backup":
		return cliBackup(args[1:], dbPath)
	default:
		return false
	}
}

func openStore(dbPath string) *store.Store {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(dbPath string) bool {
	st := openStore(dbPath)
	defer st.Close()

	v, _ := st.SchemaVersion()
	uids, _ := st.ListPlaylistUIDs()
	maps, _ := st.ListMaps()
	fmt.Printf("Database: %s (schema v%d)\n", dbPath, v)
	fmt.Printf("Maps: %d imported, %d in playlist\n", len(maps), len(uids))
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliPlaylist(args []string, dbPath string) bool {
	st := openStore(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		uids, err := st.ListPlaylistUIDs()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(uids) == 0 {
			fmt.Println("Playlist is empty.")
			return true
		}
		for _, uid := range uids {
			m, ok, _ := st.GetMap(uid)
			if ok {
				fmt.Printf("  %s  %s by %s\n", uid, m.Name, m.AuthorLogin)
			} else {
				fmt.Printf("  %s\n", uid)
			}
		}
		return true
	}

	if (args[0] == "add" || args[0] == "remove") && len(args) > 1 {
		err := st.SetInPlaylist(args[1], args[0] == "add")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Playlist %s: %s\n", args[0], args[1])
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: steward playlist [list|add <uid>|remove <uid>]\n")
	os.Exit(1)
	return true
}

func cliRecords(args []string, dbPath string) bool {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: steward records <map-uid>\n")
		os.Exit(1)
	}
	st := openStore(dbPath)
	defer st.Close()

	ranking, err := st.MapRanking(args[0], 25)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(ranking) == 0 {
		fmt.Println("No records on this map.")
		return true
	}
	for _, row := range ranking {
		fmt.Printf("  %2d. %-24s %s\n", row.Rank, row.DisplayName, formatMillis(row.Millis))
	}
	return true
}

func cliRanking(dbPath string) bool {
	st := openStore(dbPath)
	defer st.Close()

	uids, err := st.ListPlaylistUIDs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	n, err := st.NbPlayersWithAnyRecord(uids)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	inputs, err := st.ServerRankingInputs(uids)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	ranking := records.ComputeServerRanking(inputs, n)
	if len(ranking) == 0 {
		fmt.Println("No ranked players yet.")
		return true
	}
	for _, row := range ranking {
		fmt.Printf("  %2d. %-24s wins %d, losses %d\n", row.Rank, row.DisplayName, row.Wins, row.Losses)
	}
	return true
}

func cliBackup(args []string, dbPath string) bool {
	st := openStore(dbPath)
	defer st.Close()

	outPath := "steward-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := st.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database backed up to %s\n", outPath)
	return true
}
