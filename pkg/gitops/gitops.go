// Package gitops wraps the agent's own source checkout in a small
// checkpoint manager. Three branch roles exist: the development branch
// (the agent's working branch), the stable branch (last promoted-good
// state), and a protected upstream the manager never writes to; there is
// deliberately no push operation here.
//
// Every destructive operation first writes a timestamped rescue snapshot
// of uncommitted changes outside the repository, so nothing is ever
// silently discarded.
package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ouroboros/pkg/protocol"
)

// GitRunner abstracts git command execution for testability.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (stdout string, stderr string, err error)
}

// Checkpoint records the state captured before a destructive operation.
type Checkpoint struct {
	Branch     string // branch that was checked out
	SHA        string // commit sha before the operation
	RescuePath string // rescue snapshot path, empty if the tree was clean
}

// Commit is one entry from the checkpoint history.
type Commit struct {
	SHA     string
	When    time.Time
	Subject string
	Tags    []string
}

// Manager operates on the agent's source checkout.
type Manager struct {
	git          GitRunner
	repoDir      string
	rescueDir    string // outside the repository
	branchDev    string
	branchStable string

	// nowFunc allows tests to control rescue snapshot timestamps.
	nowFunc func() time.Time
}

// New creates a Manager over repoDir. Rescue snapshots are written to
// rescueDir, which must live outside the repository.
func New(git GitRunner, repoDir, rescueDir string) *Manager {
	return &Manager{
		git:          git,
		repoDir:      repoDir,
		rescueDir:    rescueDir,
		branchDev:    protocol.BranchDev,
		branchStable: protocol.BranchStable,
		nowFunc:      time.Now,
	}
}

// EnsureBranches creates the development and stable branches when they do
// not exist yet: development from the current HEAD, stable from the
// development tip. Existing branches are left alone.
func (m *Manager) EnsureBranches(ctx context.Context) error {
	for _, b := range []struct {
		name string
		from string
	}{
		{m.branchDev, "HEAD"},
		{m.branchStable, m.branchDev},
	} {
		if _, _, err := m.git.Run(ctx, m.repoDir, "rev-parse", "--verify", "refs/heads/"+b.name); err == nil {
			continue
		}
		if _, stderr, err := m.git.Run(ctx, m.repoDir, "branch", b.name, b.from); err != nil {
			return &protocol.GitOperationError{
				Op: "ensure_branches", Target: b.name,
				Err: fmt.Errorf("branch %s %s: %w (%s)", b.name, b.from, err, strings.TrimSpace(stderr)),
			}
		}
	}
	return nil
}

// Head returns the current branch name and commit sha.
func (m *Manager) Head(ctx context.Context) (branch, sha string, err error) {
	branch, _, err = m.git.Run(ctx, m.repoDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("rev-parse branch: %w", err)
	}
	sha, _, err = m.git.Run(ctx, m.repoDir, "rev-parse", "HEAD")
	if err != nil {
		return "", "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(branch), strings.TrimSpace(sha), nil
}

// RescueAndReset checks out the development branch and hard-resets it to
// target (a commit sha or tag). Uncommitted working-tree changes are first
// captured into a timestamped patch under the rescue directory. The
// returned Checkpoint carries the pre-reset sha and rescue path so the
// operation can always be traced back.
func (m *Manager) RescueAndReset(ctx context.Context, target string) (Checkpoint, error) {
	cp := Checkpoint{Branch: m.branchDev}

	_, sha, err := m.Head(ctx)
	if err != nil {
		return cp, &protocol.GitOperationError{Op: "rescue_and_reset", Target: target, Err: err}
	}
	cp.SHA = sha

	rescuePath, err := m.rescueWorkingTree(ctx)
	if err != nil {
		return cp, &protocol.GitOperationError{Op: "rescue_and_reset", Target: target, Err: err}
	}
	cp.RescuePath = rescuePath

	// The rescue snapshot is on disk from here on; any failure below must
	// preserve it in the returned error.
	if _, stderr, err := m.git.Run(ctx, m.repoDir, "checkout", "-f", m.branchDev); err != nil {
		return cp, &protocol.GitOperationError{
			Op: "rescue_and_reset", Target: target, RescuePath: rescuePath,
			Err: fmt.Errorf("checkout %s: %w (%s)", m.branchDev, err, strings.TrimSpace(stderr)),
		}
	}
	if _, stderr, err := m.git.Run(ctx, m.repoDir, "reset", "--hard", target); err != nil {
		return cp, &protocol.GitOperationError{
			Op: "rescue_and_reset", Target: target, RescuePath: rescuePath,
			Err: fmt.Errorf("reset --hard %s: %w (%s)", target, err, strings.TrimSpace(stderr)),
		}
	}
	// Remove untracked leftovers so the tree exactly matches the target.
	if _, stderr, err := m.git.Run(ctx, m.repoDir, "clean", "-fd"); err != nil {
		return cp, &protocol.GitOperationError{
			Op: "rescue_and_reset", Target: target, RescuePath: rescuePath,
			Err: fmt.Errorf("clean: %w (%s)", err, strings.TrimSpace(stderr)),
		}
	}
	return cp, nil
}

// rescueWorkingTree writes uncommitted changes (staged, unstaged, and
// untracked) to a timestamped patch in the rescue directory. Returns ""
// when the tree is clean.
func (m *Manager) rescueWorkingTree(ctx context.Context) (string, error) {
	status, _, err := m.git.Run(ctx, m.repoDir, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return "", nil
	}

	// Stage everything so untracked files appear in the diff, then unstage.
	if _, _, err := m.git.Run(ctx, m.repoDir, "add", "-A"); err != nil {
		return "", fmt.Errorf("stage for rescue: %w", err)
	}
	patch, _, err := m.git.Run(ctx, m.repoDir, "diff", "--cached", "--binary", "HEAD")
	if err != nil {
		return "", fmt.Errorf("diff for rescue: %w", err)
	}
	if _, _, err := m.git.Run(ctx, m.repoDir, "reset"); err != nil {
		return "", fmt.Errorf("unstage after rescue: %w", err)
	}

	if err := os.MkdirAll(m.rescueDir, 0o700); err != nil {
		return "", fmt.Errorf("create rescue dir: %w", err)
	}
	name := fmt.Sprintf("rescue-%s.patch", m.nowFunc().UTC().Format("20060102-150405"))
	path := filepath.Join(m.rescueDir, name)
	if err := os.WriteFile(path, []byte(patch), 0o600); err != nil {
		return "", fmt.Errorf("write rescue snapshot: %w", err)
	}
	return path, nil
}

// Promote force-updates the stable branch to the development branch tip.
// When the development branch has no commits beyond stable this is a
// reported no-op, not an error: updated is false and sha is the shared tip.
func (m *Manager) Promote(ctx context.Context) (updated bool, sha string, err error) {
	countOut, _, err := m.git.Run(ctx, m.repoDir, "rev-list", "--count", m.branchStable+".."+m.branchDev)
	if err != nil {
		return false, "", &protocol.GitOperationError{
			Op: "promote", Target: m.branchStable,
			Err: fmt.Errorf("rev-list %s..%s: %w", m.branchStable, m.branchDev, err),
		}
	}

	tipOut, _, err := m.git.Run(ctx, m.repoDir, "rev-parse", m.branchDev)
	if err != nil {
		return false, "", &protocol.GitOperationError{
			Op: "promote", Target: m.branchStable,
			Err: fmt.Errorf("rev-parse %s: %w", m.branchDev, err),
		}
	}
	tip := strings.TrimSpace(tipOut)

	if strings.TrimSpace(countOut) == "0" {
		return false, tip, nil
	}

	if _, stderr, err := m.git.Run(ctx, m.repoDir, "branch", "-f", m.branchStable, m.branchDev); err != nil {
		return false, "", &protocol.GitOperationError{
			Op: "promote", Target: m.branchStable,
			Err: fmt.Errorf("branch -f: %w (%s)", err, strings.TrimSpace(stderr)),
		}
	}
	return true, tip, nil
}

// Log returns up to limit commits in reverse-chronological order, with any
// tags pointing at each commit.
func (m *Manager) Log(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 20
	}
	out, _, err := m.git.Run(ctx, m.repoDir, "log",
		fmt.Sprintf("-%d", limit), "--no-merges", "--pretty=format:%H|%aI|%D|%s")
	if err != nil {
		return nil, &protocol.GitOperationError{Op: "log", Target: m.branchDev, Err: err}
	}

	var commits []Commit
	for line := range strings.Lines(out) {
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		when, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			continue
		}
		commits = append(commits, Commit{
			SHA:     parts[0],
			When:    when,
			Subject: parts[3],
			Tags:    parseTags(parts[2]),
		})
	}
	return commits, nil
}

// parseTags extracts tag names from a git %D decoration string, e.g.
// "HEAD -> ouroboros, tag: v1.2.0, ouroboros-stable".
func parseTags(decoration string) []string {
	var tags []string
	for _, ref := range strings.Split(decoration, ",") {
		ref = strings.TrimSpace(ref)
		if name, ok := strings.CutPrefix(ref, "tag: "); ok {
			tags = append(tags, name)
		}
	}
	return tags
}
