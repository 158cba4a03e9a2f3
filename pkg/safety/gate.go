// Package safety gates mutating tool calls behind a two-stage check: a
// fast low-cost classifier, then a slower high-fidelity re-check for
// anything the fast stage did not clear. A compiled-in protected-path
// denylist is consulted before either stage and is authoritative: the
// agent's foundational policy document and this gate's own implementation
// can never be approved for deletion or overwrite.
//
// The gate keeps no memory across calls: every action is evaluated
// independently, so verdicts cannot leak between unrelated tasks.
package safety

import (
	"context"
	"fmt"
	"strings"

	"ouroboros/pkg/protocol"
)

// Class is the safety classification of an action.
type Class string

// Classification constants.
const (
	Safe       Class = "SAFE"
	Suspicious Class = "SUSPICIOUS"
	Dangerous  Class = "DANGEROUS"
)

// Stage identifies which stage produced the final verdict.
type Stage string

// Stage constants.
const (
	StagePolicy Stage = "policy" // denylist / policy rules, before any classifier
	StageFast   Stage = "fast"
	StageDeep   Stage = "deep"
)

// Action describes a proposed tool call.
type Action struct {
	Tool string
	Args map[string]string
}

// Verdict is the result of gating one action.
type Verdict struct {
	Class     Class
	Stage     Stage
	Rationale string
}

// Classifier evaluates an action. Implementations are LLM-backed in
// production and injected fakes in tests.
type Classifier interface {
	Classify(ctx context.Context, action Action) (Class, string, error)
}

// mutatingTools are the tools the gate cares about; everything else
// proceeds without evaluation.
var mutatingTools = map[string]bool{
	"run_shell":   true,
	"code_edit":   true,
	"repo_commit": true,
	"repo_write":  true,
	"drive_write": true,
}

// protectedPaths can never be approved for deletion or overwrite. This is
// a fixed invariant, not a configurable policy.
var protectedPaths = []string{
	"BIBLE.md",
	"pkg/safety/",
}

// Gate runs the two-stage safety check.
type Gate struct {
	fast   Classifier
	deep   Classifier
	policy Policy
}

// NewGate creates a Gate with the given classifiers and policy.
func NewGate(fast, deep Classifier, policy Policy) *Gate {
	return &Gate{fast: fast, deep: deep, policy: policy}
}

// Check evaluates one proposed action. The returned error is a
// *protocol.SafetyRejectedError exactly when the action must not execute;
// a nil error with a SUSPICIOUS verdict means "allowed with warning"
// under warn strictness, and the caller is expected to log it.
func (g *Gate) Check(ctx context.Context, action Action) (Verdict, error) {
	if !mutatingTools[action.Tool] {
		return Verdict{Class: Safe, Stage: StagePolicy, Rationale: "tool is not mutating"}, nil
	}

	// Protected paths: authoritative, before any classifier.
	if path, hit := touchesProtectedPath(action); hit {
		v := Verdict{
			Class:     Dangerous,
			Stage:     StagePolicy,
			Rationale: fmt.Sprintf("action touches protected path %s", path),
		}
		return v, &protocol.SafetyRejectedError{Tool: action.Tool, Rationale: v.Rationale}
	}

	// Configured deny patterns, also before the classifiers.
	if pattern, hit := g.policy.matchDeny(action); hit {
		v := Verdict{
			Class:     Dangerous,
			Stage:     StagePolicy,
			Rationale: fmt.Sprintf("action matches deny pattern %q", pattern),
		}
		return v, &protocol.SafetyRejectedError{Tool: action.Tool, Rationale: v.Rationale}
	}

	// Stage 1: fast classifier. A failure here is not fatal; the deep
	// stage gets the final word.
	fastClass, fastReason, err := g.fast.Classify(ctx, action)
	if err == nil && fastClass == Safe {
		return Verdict{Class: Safe, Stage: StageFast, Rationale: fastReason}, nil
	}
	if err != nil {
		fastReason = fmt.Sprintf("fast check failed: %v", err)
	}

	// Stage 2: deep re-check with confirm-or-override framing. Its verdict
	// is final; a failure fails closed.
	deepClass, deepReason, err := g.deep.Classify(ctx, action)
	if err != nil {
		v := Verdict{
			Class:     Dangerous,
			Stage:     StageDeep,
			Rationale: fmt.Sprintf("deep check failed (fast: %s): %v", fastReason, err),
		}
		return v, &protocol.SafetyRejectedError{Tool: action.Tool, Rationale: v.Rationale}
	}

	switch deepClass {
	case Safe:
		return Verdict{Class: Safe, Stage: StageDeep, Rationale: deepReason}, nil
	case Suspicious:
		v := Verdict{Class: Suspicious, Stage: StageDeep, Rationale: deepReason}
		if g.policy.Strictness == StrictnessBlock {
			return v, &protocol.SafetyRejectedError{Tool: action.Tool, Rationale: deepReason}
		}
		return v, nil
	default:
		v := Verdict{Class: Dangerous, Stage: StageDeep, Rationale: deepReason}
		return v, &protocol.SafetyRejectedError{Tool: action.Tool, Rationale: deepReason}
	}
}

// touchesProtectedPath reports whether any argument references a protected
// path. Matching is substring-based on purpose: shell commands embed paths
// in free text.
func touchesProtectedPath(action Action) (string, bool) {
	for _, arg := range action.Args {
		for _, p := range protectedPaths {
			if strings.Contains(arg, p) {
				return p, true
			}
		}
	}
	return "", false
}
