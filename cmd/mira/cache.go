package main

import (
	"fmt"
	"os"

	"github.com/chazu/mira/interp"
	"github.com/chazu/mira/manifest"
	"github.com/chazu/mira/store"
)

// handleCacheCommand processes the `mira cache` subcommand.
// Usage:
//
//	mira cache status        Show cache location and chunk counts
//	mira cache list          List cached constants, oldest first
//	mira cache show <hash>   Show a chunk without decoding it
//	mira cache gc            Drop allocations no constant reaches
func handleCacheCommand(args []string, m *manifest.Manifest) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: mira cache [status|list|show|gc] ...")
		fmt.Fprintln(os.Stderr, "  status        Show cache location and chunk counts")
		fmt.Fprintln(os.Stderr, "  list          List cached constants")
		fmt.Fprintln(os.Stderr, "  show <hash>   Show a chunk without decoding it")
		fmt.Fprintln(os.Stderr, "  gc            Drop allocations no constant reaches")
		os.Exit(1)
	}

	st := openStore(m)
	defer st.Close()

	switch args[0] {
	case "status":
		handleCacheStatus(st)
	case "list":
		handleCacheList(st)
	case "show":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: mira cache show <hash-hex>")
			os.Exit(1)
		}
		handleCacheShow(st, args[1])
	case "gc":
		handleCacheGC(st)
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func handleCacheStatus(st *store.Store) {
	consts, allocs, err := st.Counts()
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Chunk cache: %s\n", st.Path())
	fmt.Printf("  Constants:   %d\n", consts)
	fmt.Printf("  Allocations: %d\n", allocs)
}

func handleCacheList(st *store.Store) {
	entries, err := st.ListConsts()
	if err != nil {
		fatalf("%v", err)
	}
	if len(entries) == 0 {
		fmt.Println("Cache is empty")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  %-10s  %s\n", e.Hash, e.Target,
			e.StoredAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func handleCacheShow(st *store.Store, hashHex string) {
	h, err := interp.ParseContentHash(hashHex)
	if err != nil {
		fatalf("%v", err)
	}
	c, err := st.GetChunk(h)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("chunk %s\n", c.Hash)
	fmt.Printf("  type:    %s\n", c.Type)
	if c.Target != "" {
		fmt.Printf("  target:  %s\n", c.Target)
	}
	fmt.Printf("  payload: %d bytes\n", len(c.Payload))
	for i, dep := range c.Dependencies {
		fmt.Printf("  dep[%d]:  %s\n", i, dep)
	}
}

func handleCacheGC(st *store.Store) {
	removed, err := st.GC()
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Removed %d unreachable allocation chunks\n", removed)
}
