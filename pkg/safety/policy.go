package safety

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strictness controls what happens to actions whose final verdict is
// SUSPICIOUS.
type Strictness string

// Strictness constants.
const (
	StrictnessWarn  Strictness = "warn"  // allow with a logged warning
	StrictnessBlock Strictness = "block" // reject like DANGEROUS
)

// Policy is the operator-editable part of the gate, loaded from
// safety.yaml in the data directory. The protected-path denylist is
// compiled in and cannot be loosened here.
type Policy struct {
	Strictness   Strictness `yaml:"strictness"`
	DenyPatterns []string   `yaml:"deny_patterns"`
}

// DefaultPolicy returns the policy used when no safety.yaml exists.
func DefaultPolicy() Policy {
	return Policy{
		Strictness: StrictnessWarn,
		DenyPatterns: []string{
			"rm -rf /",
			"git push --force",
			"mkfs",
		},
	}
}

// LoadPolicy reads a Policy from a YAML file. A missing file yields the
// default policy; a malformed file is an error (a broken safety policy
// must not silently degrade to defaults).
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // policy path comes from the data dir
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return Policy{}, fmt.Errorf("read safety policy %s: %w", path, err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse safety policy %s: %w", path, err)
	}
	switch policy.Strictness {
	case StrictnessWarn, StrictnessBlock:
	default:
		return Policy{}, fmt.Errorf("safety policy %s: unknown strictness %q", path, policy.Strictness)
	}
	return policy, nil
}

// matchDeny reports whether any argument matches a configured deny pattern.
func (p Policy) matchDeny(action Action) (string, bool) {
	for _, arg := range action.Args {
		for _, pattern := range p.DenyPatterns {
			if pattern != "" && strings.Contains(arg, pattern) {
				return pattern, true
			}
		}
	}
	return "", false
}
