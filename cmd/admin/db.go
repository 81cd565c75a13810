package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/persistence/indexdb"
)

// dbCmd queries a peer's sqlite index: latest, divergences or commands.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	groupID := fs.String("group", "", "group id (required)")
	peerID := fs.String("peer", "", "peer id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	_ = fs.Parse(args)

	q := "latest"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if strings.TrimSpace(*groupID) == "" {
		fmt.Fprintln(os.Stderr, "missing -group")
		os.Exit(2)
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*peerID) == "" {
			fmt.Fprintln(os.Stderr, "missing -peer or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, *groupID, *peerID, "index.db")
	}

	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx := context.Background()
	enc := json.NewEncoder(os.Stdout)
	switch q {
	case "latest":
		rep, ok, err := idx.LatestCheckpoint(ctx, *groupID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "no checkpoints indexed")
			os.Exit(2)
		}
		_ = enc.Encode(rep)
	case "divergences":
		ds, err := idx.Divergences(ctx, *groupID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, d := range ds {
			_ = enc.Encode(d)
		}
	case "commands":
		counts, err := idx.CommandCounts(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		kinds := make([]string, 0, len(counts))
		for k := range counts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			_ = enc.Encode(struct {
				Kind  string `json:"kind"`
				Count int    `json:"count"`
			}{k, counts[k]})
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
}
