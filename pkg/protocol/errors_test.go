package protocol_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ouroboros/pkg/protocol"
)

func TestTypedErrorDiscrimination(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("submit: %w", &protocol.CapacityError{Pending: 100, Limit: 100})
	var capErr *protocol.CapacityError
	if !errors.As(wrapped, &capErr) {
		t.Fatal("errors.As failed to find CapacityError through wrapping")
	}
	if capErr.Limit != 100 {
		t.Errorf("Limit = %d, want 100", capErr.Limit)
	}

	gitErr := &protocol.GitOperationError{
		Op:         "rescue_and_reset",
		Target:     "v1.2.0",
		RescuePath: "/data/rescue/2026-08-29.patch",
		Err:        errors.New("checkout failed"),
	}
	if !strings.Contains(gitErr.Error(), "rescue snapshot preserved") {
		t.Errorf("rescue path not surfaced: %s", gitErr)
	}
	if !errors.Is(gitErr, gitErr.Err) {
		t.Error("GitOperationError should unwrap to the underlying error")
	}
}

func TestTimeoutErrorMessage(t *testing.T) {
	t.Parallel()

	soft := &protocol.TimeoutError{TaskID: "t1", Hard: false, Elapsed: 11 * time.Minute, Limit: 10 * time.Minute}
	if !strings.Contains(soft.Error(), "soft timeout") {
		t.Errorf("soft timeout not named: %s", soft)
	}
	hard := &protocol.TimeoutError{TaskID: "t1", Hard: true, Elapsed: 31 * time.Minute, Limit: 30 * time.Minute}
	if !strings.Contains(hard.Error(), "hard timeout") {
		t.Errorf("hard timeout not named: %s", hard)
	}
}

func TestCorruptStateErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("unexpected end of JSON input")
	err := &protocol.CorruptStateError{Key: "queue", Path: "/data/queue.json", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("CorruptStateError should unwrap to its cause")
	}
}
