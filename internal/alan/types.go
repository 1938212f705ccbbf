package alan

import "time"

// Observation is one recorded execution (or pipeline segment), long-term
// store row. Weight decays over time and the row is pruned once it falls
// below threshold or the table exceeds its cap.
type Observation struct {
	ID              int64
	CommandHash     string
	CommandTemplate string
	CommandPreview  string
	ExitCode        int
	DurationMs      int64
	TimedOut        bool
	OutputSnippet   string
	ErrorSnippet    string
	Weight          float64
	CreatedAt       time.Time
	LastAccessed    time.Time
}

// RecentCommand is a hot-cache row in the rolling window used for
// retry/similar-command detection.
type RecentCommand struct {
	SessionID       string
	CommandHash     string
	CommandTemplate string
	CommandPreview  string
	Timestamp       int64
	DurationMs      int64
	ExitCode        int
	TimedOut        bool
	Success         bool
}

// Streak is the per-fingerprint streak state. Sign matches the sign of the
// most recent result: positive for a success run, negative for a failure
// run.
type Streak struct {
	CommandHash    string
	CurrentStreak  int
	LongestSuccess int
	LongestFail    int
	LastResult     int
	LastUpdated    time.Time
}

// SSHObservation is recorded when a command parses as "ssh ...".
type SSHObservation struct {
	ID                    int64
	ObservationID         int64
	Host                  string
	RemoteCommand         string
	RemoteCommandTemplate string
	ExitCode              int
	ExitType              string
	DurationMs            int64
	TimedOut              bool
	Weight                float64
	CreatedAt             time.Time
}

// Exit classification constants for SSH observations (spec.md §4.2).
const (
	SSHExitSuccess          = "success"
	SSHExitCommandFailed    = "command_failed"
	SSHExitConnectionFailed = "connection_failed"
	SSHExitUnknown          = "unknown"
)

// ClassifySSHExit maps an ssh exit code to the SSH exit-type table:
// 0 -> success, 1..254 -> command_failed, 255 -> connection_failed.
func ClassifySSHExit(exitCode int) string {
	switch {
	case exitCode == 0:
		return SSHExitSuccess
	case exitCode == 255:
		return SSHExitConnectionFailed
	case exitCode >= 1 && exitCode <= 254:
		return SSHExitCommandFailed
	default:
		return SSHExitUnknown
	}
}

// PatternStats is the result of query_pattern: a fingerprint's all-time
// weighted statistics.
type PatternStats struct {
	Known          bool
	WeightedCount  float64
	SuccessRate    float64
	TimeoutRate    float64
	AvgDurationMs  float64
	CurrentStreak  int
	LongestSuccess int
	LongestFail    int
}

// Insight is one pre- or post-execution insight line.
type Insight struct {
	Level   string // "info" | "warning"
	Message string
}

func infoInsight(msg string) Insight    { return Insight{Level: "info", Message: msg} }
func warningInsight(msg string) Insight { return Insight{Level: "warning", Message: msg} }
