package protocol

// Branch roles for the agent's own source checkout.
const (
	// BranchDev is the agent's working branch.
	BranchDev = "ouroboros"

	// BranchStable is the last manually promoted-good state.
	BranchStable = "ouroboros-stable"
)

// OuroborosDir is the user-level state directory (e.g., ~/.ouroboros).
const OuroborosDir = ".ouroboros"

// RestartExitCode is the distinguished exit code the supervisor process
// exits with on /restart. The outer launcher interprets it as "relaunch me".
const RestartExitCode = 86
