package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "checkpoints":
			checkpointsCmd(os.Args[2:])
			return
		case "health":
			healthCmd(os.Args[2:])
			return
		case "metrics":
			metricsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints every <group>/<peer> directory under the data dir.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	groupID := fs.String("group", "", "group id (optional)")
	_ = fs.Parse(args)

	groups := []string{*groupID}
	if *groupID == "" {
		entries, err := os.ReadDir(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		groups = groups[:0]
		for _, e := range entries {
			if e.IsDir() {
				groups = append(groups, e.Name())
			}
		}
	}
	for _, g := range groups {
		peers, err := os.ReadDir(filepath.Join(*dataDir, g))
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for _, p := range peers {
			if p.IsDir() {
				fmt.Println(filepath.Join(g, p.Name()))
			}
		}
	}
}

func checkpointsCmd(args []string) {
	fs := flag.NewFlagSet("checkpoints", flag.ExitOnError)
	dir := fs.String("dir", "", "peer data dir (<data>/<group>/<peer>)")
	_ = fs.Parse(args)

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "missing -dir")
		os.Exit(2)
	}
	paths, err := snapshot.List(filepath.Join(*dir, "checkpoints"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, path := range paths {
		h, _, err := snapshot.Read(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		var onDisk int64
		if st, err := os.Stat(path); err == nil {
			onDisk = st.Size()
		}
		_ = enc.Encode(struct {
			Seq       uint64 `json:"seq"`
			Timestamp int64  `json:"timestamp"`
			Hash      string `json:"hash"`
			Payload   string `json:"payload"`
			OnDisk    string `json:"on_disk"`
			Path      string `json:"path"`
		}{h.Seq, h.Timestamp, h.Hash, humanize.Bytes(uint64(h.Size)), humanize.Bytes(uint64(onDisk)), path})
	}
}
