package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/mira/interp"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[eval]
target = "riscv64"

[cache]
path = "state/consts.db"

[sync]
listen = ":9000"
peers = ["http://10.0.0.2:7744"]
allowed-targets = ["riscv64", "x86_64"]
denied-targets = ["wasm32"]

[targets.m68k]
pointer-width = 32
endian = "big"
`
	if err := os.WriteFile(filepath.Join(dir, "mira.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Eval.Target != "riscv64" {
		t.Errorf("eval target = %q, want riscv64", m.Eval.Target)
	}
	if m.Cache.Path != "state/consts.db" {
		t.Errorf("cache path = %q, want state/consts.db", m.Cache.Path)
	}
	if m.Sync.Listen != ":9000" {
		t.Errorf("sync listen = %q, want :9000", m.Sync.Listen)
	}
	if len(m.Sync.Peers) != 1 || m.Sync.Peers[0] != "http://10.0.0.2:7744" {
		t.Errorf("sync peers = %v", m.Sync.Peers)
	}
	if len(m.Targets) != 1 {
		t.Fatalf("targets count = %d, want 1", len(m.Targets))
	}
	if def := m.Targets["m68k"]; def.PointerWidth != 32 || def.Endian != "big" {
		t.Errorf("m68k def = %+v", def)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[eval]
`
	if err := os.WriteFile(filepath.Join(dir, "mira.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Eval.Target != "x86_64" {
		t.Errorf("default eval target = %q, want x86_64", m.Eval.Target)
	}
	if m.Cache.Path != filepath.Join(".mira", "cache.db") {
		t.Errorf("default cache path = %q", m.Cache.Path)
	}
	if m.Sync.Listen != ":7744" {
		t.Errorf("default sync listen = %q, want :7744", m.Sync.Listen)
	}
}

func TestDefault(t *testing.T) {
	m := Default("/work")
	if m.Dir != "/work" {
		t.Errorf("Dir = %q, want /work", m.Dir)
	}
	if m.Eval.Target != "x86_64" {
		t.Errorf("default eval target = %q, want x86_64", m.Eval.Target)
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `[eval]
target = "aarch64"
`
	if err := os.WriteFile(filepath.Join(dir, "mira.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Eval.Target != "aarch64" {
		t.Errorf("eval target = %q, want aarch64", m.Eval.Target)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no mira.toml exists")
	}
}

func TestCachePath(t *testing.T) {
	m := &Manifest{Dir: "/app", Cache: CacheConfig{Path: "state/c.db"}}
	if got := m.CachePath(); got != "/app/state/c.db" {
		t.Errorf("CachePath = %q, want /app/state/c.db", got)
	}

	m.Cache.Path = "/var/mira/c.db"
	if got := m.CachePath(); got != "/var/mira/c.db" {
		t.Errorf("CachePath = %q, want /var/mira/c.db", got)
	}
}

func TestRegistryFromManifest(t *testing.T) {
	m := Default(".")
	m.Targets = map[string]TargetDef{
		"m68k": {PointerWidth: 32, Endian: "big"},
	}

	r, err := m.Registry()
	if err != nil {
		t.Fatalf("Registry failed: %v", err)
	}

	tgt, ok := r.Lookup("m68k")
	if !ok {
		t.Fatal("m68k should be registered")
	}
	if tgt.PointerWidth != 32 || tgt.Endian != interp.BigEndian {
		t.Errorf("m68k = %+v", tgt)
	}

	// Builtins are still present.
	if _, ok := r.Lookup("x86_64"); !ok {
		t.Error("builtin x86_64 should be registered")
	}
}

func TestRegistryFromManifestRejectsBadDef(t *testing.T) {
	m := Default(".")
	m.Targets = map[string]TargetDef{
		"weird": {PointerWidth: 24, Endian: "little"},
	}

	if _, err := m.Registry(); err == nil {
		t.Error("24-bit pointer width should be rejected")
	}

	m.Targets = map[string]TargetDef{
		"weird": {PointerWidth: 32, Endian: "middle"},
	}
	if _, err := m.Registry(); err == nil {
		t.Error("unknown endian should be rejected")
	}
}

func TestPolicyFromManifest(t *testing.T) {
	m := Default(".")
	p := m.Policy()
	if err := p.Check(nil); err != nil {
		t.Errorf("default policy should be permissive: %v", err)
	}

	m.Sync.AllowedTargets = []string{"x86_64"}
	m.Sync.DeniedTargets = []string{"wasm32"}
	p = m.Policy()

	if p.AllowedTargets == nil || !p.AllowedTargets["x86_64"] {
		t.Error("allowed targets should carry over")
	}
	if p.DeniedTargets == nil || !p.DeniedTargets["wasm32"] {
		t.Error("denied targets should carry over")
	}
}
