// Package manifest handles mira.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/mira/interp/dist"
	"github.com/chazu/mira/target"
)

// Manifest represents a mira.toml configuration.
type Manifest struct {
	Eval    EvalConfig           `toml:"eval"`
	Cache   CacheConfig          `toml:"cache"`
	Sync    SyncConfig           `toml:"sync"`
	Targets map[string]TargetDef `toml:"targets"`

	// Dir is the directory containing the mira.toml file (set at load time).
	Dir string `toml:"-"`
}

// EvalConfig selects how constants are evaluated by default.
type EvalConfig struct {
	Target string `toml:"target"`
}

// CacheConfig locates the constant cache database.
type CacheConfig struct {
	Path string `toml:"path"`
}

// SyncConfig configures chunk exchange with other nodes.
type SyncConfig struct {
	Listen         string   `toml:"listen"`
	Peers          []string `toml:"peers"`
	AllowedTargets []string `toml:"allowed-targets"`
	DeniedTargets  []string `toml:"denied-targets"`
}

// TargetDef declares an extra target beyond the builtin set.
type TargetDef struct {
	PointerWidth int    `toml:"pointer-width"` // bits
	Endian       string `toml:"endian"`        // "little" or "big"
}

// applyDefaults fills in everything a minimal mira.toml leaves out.
func applyDefaults(m *Manifest) {
	if m.Eval.Target == "" {
		m.Eval.Target = target.DefaultName
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".mira", "cache.db")
	}
	if m.Sync.Listen == "" {
		m.Sync.Listen = ":7744"
	}
}

// Default returns the configuration used when no mira.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	applyDefaults(m)
	return m
}

// Load parses a mira.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "mira.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	applyDefaults(&m)
	return &m, nil
}

// FindAndLoad walks up from startDir to find a mira.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "mira.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CachePath returns the cache database path, resolved against the
// manifest directory when relative.
func (m *Manifest) CachePath() string {
	if filepath.IsAbs(m.Cache.Path) {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// Registry builds the target registry: every builtin target plus the
// [targets] declared in the manifest.
func (m *Manifest) Registry() (*target.Registry, error) {
	r := target.NewRegistry()
	for name, def := range m.Targets {
		endian, err := target.ParseEndian(def.Endian)
		if err != nil {
			return nil, fmt.Errorf("target %s in %s: %w", name, m.Dir, err)
		}
		t := target.Target{Name: name, PointerWidth: def.PointerWidth, Endian: endian}
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Policy builds the sync acceptance policy from the [sync] section.
func (m *Manifest) Policy() *dist.TargetPolicy {
	var p *dist.TargetPolicy
	if len(m.Sync.AllowedTargets) == 0 {
		p = dist.NewPermissivePolicy()
	} else {
		p = dist.NewRestrictedPolicy(m.Sync.AllowedTargets)
	}
	for _, t := range m.Sync.DeniedTargets {
		p.Deny(t)
	}
	return p
}
