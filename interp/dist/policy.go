package dist

import "fmt"

// TargetPolicy controls which targets are acceptable when receiving
// const chunks from a peer. A nil AllowedTargets means "allow all".
type TargetPolicy struct {
	AllowedTargets map[string]bool // nil = allow all
	DeniedTargets  map[string]bool
}

// NewPermissivePolicy creates a policy that accepts constants for any
// target.
func NewPermissivePolicy() *TargetPolicy {
	return &TargetPolicy{}
}

// NewRestrictedPolicy creates a policy that only accepts constants for
// the specified targets.
func NewRestrictedPolicy(allowed []string) *TargetPolicy {
	m := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		m[t] = true
	}
	return &TargetPolicy{AllowedTargets: m}
}

// Check verifies that every target named by a manifest is acceptable
// under this policy. Returns an error naming the first rejected target.
func (p *TargetPolicy) Check(manifest *TargetManifest) error {
	if manifest == nil {
		return nil
	}
	for _, t := range manifest.Targets {
		if p.DeniedTargets != nil && p.DeniedTargets[t] {
			return fmt.Errorf("dist: target %q is explicitly denied", t)
		}
		if p.AllowedTargets != nil && !p.AllowedTargets[t] {
			return fmt.Errorf("dist: target %q is not allowed", t)
		}
	}
	return nil
}

// CheckChunk applies the policy to a single chunk. Allocation chunks
// are target-neutral and always pass.
func (p *TargetPolicy) CheckChunk(c *Chunk) error {
	if c.Type != ChunkConst || c.Target == "" {
		return nil
	}
	return p.Check(&TargetManifest{Targets: []string{c.Target}})
}

// Deny adds a target to the deny list.
func (p *TargetPolicy) Deny(target string) {
	if p.DeniedTargets == nil {
		p.DeniedTargets = make(map[string]bool)
	}
	p.DeniedTargets[target] = true
}
