package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/chazu/mira/interp"
	"github.com/chazu/mira/interp/dist"
	"github.com/chazu/mira/manifest"
	"github.com/chazu/mira/server"
	"github.com/chazu/mira/store"
)

// handleServeCommand runs the sync server until interrupted. The listen
// address comes from [sync].listen unless given on the command line.
func handleServeCommand(args []string, m *manifest.Manifest) {
	listen := m.Sync.Listen
	if len(args) > 0 {
		listen = args[0]
	}

	st := openStore(m)
	defer st.Close()

	srv := server.New(st, server.WithPolicy(m.Policy()))
	if err := srv.ListenAndServe(listen); err != nil {
		fatalf("%v", err)
	}
}

// handleSyncCommand processes the `mira sync` subcommand.
// Usage:
//
//	mira sync push [peer-addr] [root-hash]   Push constants to peer(s)
//	mira sync pull <peer-addr> [root-hash]   Pull constants from a peer
//	mira sync status                         Show cache and peer status
func handleSyncCommand(args []string, m *manifest.Manifest) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: mira sync [push|pull|status] ...")
		fmt.Fprintln(os.Stderr, "  push [peer-addr] [root-hash]  Push constants to peer (uses manifest peers if omitted)")
		fmt.Fprintln(os.Stderr, "  pull <peer-addr> [root-hash]  Pull a constant's closure, or everything, from peer")
		fmt.Fprintln(os.Stderr, "  status                        Show cache and peer status")
		os.Exit(1)
	}

	st := openStore(m)
	defer st.Close()

	switch args[0] {
	case "status":
		handleSyncStatus(st, m)
	case "push":
		if len(args) >= 2 {
			handleSyncPush(st, args[1], args[2:])
		} else if len(m.Sync.Peers) > 0 {
			for _, peer := range m.Sync.Peers {
				fmt.Printf("Pushing to manifest peer %s\n", peer)
				handleSyncPush(st, peer, nil)
			}
		} else {
			fmt.Fprintln(os.Stderr, "Usage: mira sync push <peer-addr> [root-hash]")
			fmt.Fprintln(os.Stderr, "  (or configure [sync].peers in mira.toml)")
			os.Exit(1)
		}
	case "pull":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: mira sync pull <peer-addr> [root-hash]")
			os.Exit(1)
		}
		handleSyncPull(st, args[1], args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown sync subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func handleSyncStatus(st *store.Store, m *manifest.Manifest) {
	consts, allocs, err := st.Counts()
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Local cache: %d constants, %d allocations\n", consts, allocs)

	if len(m.Sync.Peers) == 0 {
		return
	}
	ctx := context.Background()
	peerID := dist.NewPeerID()
	for _, peer := range m.Sync.Peers {
		client := server.NewSyncClient(http.DefaultClient, normalizeAddr(peer), peerID)
		pong, err := client.Ping(ctx)
		if err != nil {
			fmt.Printf("Peer %s: unreachable (%v)\n", peer, err)
			continue
		}
		fmt.Printf("Peer %s: %d constants, %d allocations\n", peer, pong.Consts, pong.Allocs)
	}
}

func handleSyncPush(st *store.Store, peerAddr string, rest []string) {
	roots, err := pushRoots(st, rest)
	if err != nil {
		fatalf("%v", err)
	}
	if len(roots) == 0 {
		fmt.Println("Nothing to push (cache holds no constants)")
		return
	}

	client := server.NewSyncClient(http.DefaultClient, normalizeAddr(peerAddr), dist.NewPeerID())
	ctx := context.Background()

	var accepted, rejected int
	for _, root := range roots {
		result, err := client.Push(ctx, st, root)
		if err != nil {
			fatalf("pushing %s: %v", root, err)
		}
		accepted += result.Accepted
		rejected += result.Rejected
	}
	fmt.Printf("Push complete: %d constants, %d chunks accepted, %d rejected\n",
		len(roots), accepted, rejected)
}

// pushRoots resolves what a push covers: the named constant, or every
// cached constant when no hash is given.
func pushRoots(st *store.Store, rest []string) ([]interp.ContentHash, error) {
	if len(rest) > 0 {
		h, err := interp.ParseContentHash(rest[0])
		if err != nil {
			return nil, err
		}
		return []interp.ContentHash{h}, nil
	}
	entries, err := st.ListConsts()
	if err != nil {
		return nil, err
	}
	roots := make([]interp.ContentHash, len(entries))
	for i, e := range entries {
		roots[i] = e.Hash
	}
	return roots, nil
}

func handleSyncPull(st *store.Store, peerAddr string, rest []string) {
	var root interp.ContentHash
	if len(rest) > 0 {
		h, err := interp.ParseContentHash(rest[0])
		if err != nil {
			fatalf("%v", err)
		}
		root = h
	}

	client := server.NewSyncClient(http.DefaultClient, normalizeAddr(peerAddr), dist.NewPeerID())
	stored, err := client.Pull(context.Background(), st, root)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Pull complete: %d new chunks stored\n", stored)
}

// normalizeAddr turns the addresses people type into base URLs: a bare
// ":7744" means localhost, and a missing scheme means plain http.
func normalizeAddr(addr string) string {
	if addr == "" {
		return ""
	}
	if addr[0] == ':' {
		return "http://localhost" + addr
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
