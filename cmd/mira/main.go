// Mira CLI - inspect, cache, and exchange evaluated constants
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/mira/interp"
	"github.com/chazu/mira/interp/dist"
	"github.com/chazu/mira/manifest"
	"github.com/chazu/mira/store"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 = notices, 1 = info, 2 = debug)")
	dir := flag.String("C", ".", "Look for mira.toml starting from this directory")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mira [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  targets                      List known evaluation targets\n")
		fmt.Fprintf(os.Stderr, "  dump <hash>                  Decode a cached chunk and print it\n")
		fmt.Fprintf(os.Stderr, "  cache [status|list|show|gc]  Inspect the local chunk cache\n")
		fmt.Fprintf(os.Stderr, "  serve [addr]                 Serve chunks to peers\n")
		fmt.Fprintf(os.Stderr, "  sync [push|pull|status]      Exchange constants with peers\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  mira targets                 # Builtin targets plus [targets] from mira.toml\n")
		fmt.Fprintf(os.Stderr, "  mira cache list              # List cached constants\n")
		fmt.Fprintf(os.Stderr, "  mira dump 9f86d081...        # Value and hexdump of a cached constant\n")
		fmt.Fprintf(os.Stderr, "  mira serve                   # Serve on [sync].listen (default :7744)\n")
		fmt.Fprintf(os.Stderr, "  mira sync push :7744         # Push every cached constant to localhost:7744\n")
		fmt.Fprintf(os.Stderr, "  mira sync pull peer.example.com:7744 9f86d081...\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fatalf("%v", err)
	}
	if m == nil {
		m = manifest.Default(*dir)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	switch args[0] {
	case "targets":
		handleTargetsCommand(m)
	case "dump":
		handleDumpCommand(args[1:], m)
	case "cache":
		handleCacheCommand(args[1:], m)
	case "serve":
		handleServeCommand(args[1:], m)
	case "sync":
		handleSyncCommand(args[1:], m)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func openStore(m *manifest.Manifest) *store.Store {
	st, err := store.Open(m.CachePath())
	if err != nil {
		fatalf("%v", err)
	}
	return st
}

// handleTargetsCommand lists every registered target. The manifest's
// default evaluation target is marked with a star.
func handleTargetsCommand(m *manifest.Manifest) {
	reg, err := m.Registry()
	if err != nil {
		fatalf("%v", err)
	}
	for _, name := range reg.Names() {
		t, _ := reg.Lookup(name)
		marker := " "
		if name == m.Eval.Target {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, t)
	}
}

// handleDumpCommand decodes a cached chunk and prints it. A constant
// chunk shows its value and a hexdump of every allocation it reaches;
// an allocation chunk is hexdumped directly.
func handleDumpCommand(args []string, m *manifest.Manifest) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: mira dump <hash-hex>")
		os.Exit(1)
	}
	h, err := interp.ParseContentHash(args[0])
	if err != nil {
		fatalf("%v", err)
	}

	st := openStore(m)
	defer st.Close()

	c, err := st.GetChunk(h)
	if err != nil {
		fatalf("%v", err)
	}

	mem := store.NewMemory()
	switch c.Type {
	case dist.ChunkConst:
		v, err := st.DecodeConst(h, mem)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("const %s\n", h)
		fmt.Printf("target: %s\n", c.Target)
		fmt.Printf("value:  %s\n", v)
		dumpMemory(mem)
	case dist.ChunkAlloc:
		_, a, err := st.DecodeAlloc(h, mem)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("alloc %s\n", h)
		fmt.Print(a.Dump())
	default:
		fatalf("chunk %s has unknown type %d", h, c.Type)
	}
}

// dumpMemory hexdumps every allocation decoded into mem. Decoding
// assigns dense local IDs starting at 1, so a straight scan visits
// them all.
func dumpMemory(mem *store.Memory) {
	for id := interp.AllocID(1); int(id) <= mem.Len(); id++ {
		a, ok := mem.Allocation(id)
		if !ok {
			continue
		}
		h, _ := mem.HashOf(id)
		fmt.Printf("\n%s = %s\n", id, h)
		fmt.Print(a.Dump())
	}
}
