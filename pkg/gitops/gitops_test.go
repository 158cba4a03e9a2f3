package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"ouroboros/pkg/protocol"
)

// fakeRunner replays scripted outputs per git subcommand and records every
// invocation for assertion.
type fakeRunner struct {
	calls   [][]string
	outputs map[string]string // keyed by first matching prefix of the joined args
	fails   map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: make(map[string]string),
		fails:   make(map[string]error),
	}
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) (string, string, error) {
	f.calls = append(f.calls, args)
	joined := strings.Join(args, " ")
	for prefix, err := range f.fails {
		if strings.HasPrefix(joined, prefix) {
			return "", "scripted failure", err
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(joined, prefix) {
			return out, "", nil
		}
	}
	return "", "", nil
}

func (f *fakeRunner) called(prefix string) bool {
	for _, args := range f.calls {
		if strings.HasPrefix(strings.Join(args, " "), prefix) {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T, git GitRunner) *Manager {
	t.Helper()
	m := New(git, t.TempDir(), t.TempDir())
	m.nowFunc = func() time.Time {
		return time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	}
	return m
}

func TestRescueAndResetDirtyTree(t *testing.T) {
	t.Parallel()

	git := newFakeRunner()
	git.outputs["rev-parse --abbrev-ref HEAD"] = "ouroboros\n"
	git.outputs["rev-parse HEAD"] = "abc123\n"
	git.outputs["status --porcelain"] = " M pkg/foo.go\n?? notes.txt\n"
	git.outputs["diff --cached"] = "diff --git a/pkg/foo.go b/pkg/foo.go\n"

	m := newTestManager(t, git)
	cp, err := m.RescueAndReset(context.Background(), "v1.2.0")
	if err != nil {
		t.Fatalf("rescue_and_reset: %v", err)
	}

	if cp.SHA != "abc123" {
		t.Errorf("checkpoint sha = %q, want abc123", cp.SHA)
	}
	if cp.RescuePath == "" {
		t.Fatal("dirty tree must produce a rescue snapshot")
	}
	data, err := os.ReadFile(cp.RescuePath)
	if err != nil {
		t.Fatalf("read rescue snapshot: %v", err)
	}
	if !strings.Contains(string(data), "pkg/foo.go") {
		t.Errorf("rescue snapshot missing diff content: %q", data)
	}
	if !strings.Contains(cp.RescuePath, "rescue-20260829-103000") {
		t.Errorf("rescue snapshot not timestamped: %s", cp.RescuePath)
	}

	for _, want := range []string{"checkout -f ouroboros", "reset --hard v1.2.0", "clean -fd"} {
		if !git.called(want) {
			t.Errorf("expected git %s to run", want)
		}
	}
}

func TestRescueAndResetCleanTree(t *testing.T) {
	t.Parallel()

	git := newFakeRunner()
	git.outputs["rev-parse --abbrev-ref HEAD"] = "ouroboros\n"
	git.outputs["rev-parse HEAD"] = "abc123\n"
	git.outputs["status --porcelain"] = "\n"

	m := newTestManager(t, git)
	cp, err := m.RescueAndReset(context.Background(), "abc000")
	if err != nil {
		t.Fatalf("rescue_and_reset: %v", err)
	}
	if cp.RescuePath != "" {
		t.Errorf("clean tree should not produce a rescue snapshot, got %s", cp.RescuePath)
	}
	if git.called("add -A") {
		t.Error("clean tree should not be staged")
	}
}

func TestRescueAndResetFailurePreservesRescue(t *testing.T) {
	t.Parallel()

	git := newFakeRunner()
	git.outputs["rev-parse --abbrev-ref HEAD"] = "ouroboros\n"
	git.outputs["rev-parse HEAD"] = "abc123\n"
	git.outputs["status --porcelain"] = " M pkg/foo.go\n"
	git.outputs["diff --cached"] = "diff content\n"
	git.fails["reset --hard"] = errors.New("exit status 128")

	m := newTestManager(t, git)
	_, err := m.RescueAndReset(context.Background(), "badsha")
	var gitErr *protocol.GitOperationError
	if !errors.As(err, &gitErr) {
		t.Fatalf("expected GitOperationError, got %v", err)
	}
	if gitErr.RescuePath == "" {
		t.Fatal("rescue path must be preserved in the error")
	}
	if _, statErr := os.Stat(gitErr.RescuePath); statErr != nil {
		t.Errorf("rescue snapshot must survive the failure: %v", statErr)
	}
}

func TestPromoteNoOp(t *testing.T) {
	t.Parallel()

	git := newFakeRunner()
	git.outputs["rev-list --count"] = "0\n"
	git.outputs["rev-parse ouroboros"] = "tip123\n"

	m := newTestManager(t, git)
	updated, sha, err := m.Promote(context.Background())
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if updated {
		t.Error("promote with no new commits must be a no-op")
	}
	if sha != "tip123" {
		t.Errorf("no-op promote sha = %q, want tip123", sha)
	}
	if git.called("branch -f") {
		t.Error("no-op promote must not move the stable branch")
	}
}

func TestPromoteAdvancesStable(t *testing.T) {
	t.Parallel()

	git := newFakeRunner()
	git.outputs["rev-list --count"] = "4\n"
	git.outputs["rev-parse ouroboros"] = "tip456\n"

	m := newTestManager(t, git)
	updated, sha, err := m.Promote(context.Background())
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !updated || sha != "tip456" {
		t.Errorf("promote = (%v, %q), want (true, tip456)", updated, sha)
	}
	if !git.called("branch -f ouroboros-stable ouroboros") {
		t.Error("promote must force-update the stable branch to the dev tip")
	}
}

func TestLogParsesCommitsAndTags(t *testing.T) {
	t.Parallel()

	git := newFakeRunner()
	git.outputs["log"] = strings.Join([]string{
		"aaa|2026-08-29T10:00:00Z|HEAD -> ouroboros, tag: v1.3.0|evolution: add memory pruning",
		"bbb|2026-08-28T09:00:00Z|tag: v1.2.0, ouroboros-stable|fix timeout handling",
		"ccc|2026-08-27T08:00:00Z||initial commit",
	}, "\n")

	m := newTestManager(t, git)
	commits, err := m.Log(context.Background(), 10)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("got %d commits, want 3", len(commits))
	}
	if commits[0].SHA != "aaa" || len(commits[0].Tags) != 1 || commits[0].Tags[0] != "v1.3.0" {
		t.Errorf("first commit parsed wrong: %+v", commits[0])
	}
	if commits[1].Tags[0] != "v1.2.0" {
		t.Errorf("second commit tags = %v, want [v1.2.0]", commits[1].Tags)
	}
	if len(commits[2].Tags) != 0 {
		t.Errorf("third commit should have no tags: %v", commits[2].Tags)
	}
	if fmt.Sprint(commits[2].When.Year()) != "2026" {
		t.Errorf("timestamp not parsed: %v", commits[2].When)
	}
}

func TestEnsureBranchesNoopWhenPresent(t *testing.T) {
	t.Parallel()

	git := newFakeRunner()
	m := newTestManager(t, git)
	if err := m.EnsureBranches(context.Background()); err != nil {
		t.Fatalf("ensure_branches: %v", err)
	}
	if git.called("branch ") {
		t.Errorf("branches created despite both existing: %v", git.calls)
	}
}

func TestEnsureBranchesCreatesMissingStable(t *testing.T) {
	t.Parallel()

	git := newFakeRunner()
	git.fails["rev-parse --verify refs/heads/ouroboros-stable"] = errors.New("unknown revision")

	m := newTestManager(t, git)
	if err := m.EnsureBranches(context.Background()); err != nil {
		t.Fatalf("ensure_branches: %v", err)
	}
	if git.called("branch ouroboros HEAD") {
		t.Error("recreated an existing development branch")
	}
	if !git.called("branch ouroboros-stable ouroboros") {
		t.Errorf("stable branch not created from dev: %v", git.calls)
	}
}

func TestEnsureBranchesSurfacesCreateFailure(t *testing.T) {
	t.Parallel()

	git := newFakeRunner()
	git.fails["rev-parse --verify"] = errors.New("unknown revision")
	git.fails["branch"] = errors.New("not a git repository")

	m := newTestManager(t, git)
	err := m.EnsureBranches(context.Background())
	var gitErr *protocol.GitOperationError
	if !errors.As(err, &gitErr) {
		t.Fatalf("want GitOperationError, got %v", err)
	}
	if gitErr.Op != "ensure_branches" {
		t.Errorf("op = %q", gitErr.Op)
	}
}
