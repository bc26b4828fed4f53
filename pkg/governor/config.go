package governor

import (
	"os"
	"strconv"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

// Config tunes the evaluation engine. Zero values are replaced by
// defaults in Default().
type Config struct {
	// MaxActionsPerMinute pauses an agent that submits actions faster
	// than this, counting the action under evaluation.
	MaxActionsPerMinute int

	// Loop detection: the same (tool, op, params) seen LoopThreshold
	// times within LoopWindowSeconds pauses the agent.
	LoopWindowSeconds int
	LoopThreshold     int

	// Work hours window [start, end) in 24-hour format, used when an
	// intent sets work_hours_only without explicit bounds.
	WorkHoursStart int
	WorkHoursEnd   int

	// EscalateRiskLevels require user confirmation unless the intent
	// pre-approved high risk.
	EscalateRiskLevels map[contracts.RiskLevel]bool

	// DangerousShellCommands are case-insensitive substrings that mark
	// a shell command critical.
	DangerousShellCommands []string

	// ExternalSharingPatterns flag data exfiltration in an op name or
	// its params.
	ExternalSharingPatterns []string

	// IntentKeywords maps each tool to the objective vocabulary that
	// marks it as aligned. Tools absent from the map always align.
	IntentKeywords map[string][]string
}

// Default returns the stock policy configuration.
func Default() Config {
	return Config{
		MaxActionsPerMinute: 30,
		LoopWindowSeconds:   60,
		LoopThreshold:       5,
		WorkHoursStart:      8,
		WorkHoursEnd:        18,
		EscalateRiskLevels: map[contracts.RiskLevel]bool{
			contracts.RiskHigh:     true,
			contracts.RiskCritical: true,
		},
		DangerousShellCommands: []string{
			"rm -rf",
			"format",
			"del /f /s /q",
			"shutdown",
			"reboot",
		},
		ExternalSharingPatterns: []string{
			"export",
			"upload",
			"share",
			"send_to",
			"external",
		},
		IntentKeywords: map[string][]string{
			contracts.ToolEmail:          {"email", "inbox", "message", "mail"},
			contracts.ToolCalendar:       {"calendar", "meeting", "schedule", "event"},
			contracts.ToolFile:           {"file", "document", "folder"},
			contracts.ToolShell:          {"command", "system", "terminal"},
			contracts.ToolBraveSearch:    {"search", "web", "research", "look up", "find"},
			contracts.ToolGmail:          {"gmail", "inbox", "email", "mail"},
			contracts.ToolGoogleCalendar: {"calendar", "event", "schedule", "meeting"},
			contracts.ToolElevenLabs:     {"voice", "speech", "tts", "read aloud", "storytelling"},
			contracts.ToolGitHub:         {"github", "repo", "issue", "code", "pr"},
			contracts.ToolMemory:         {"memory", "preference", "remember", "episode", "past task"},
		},
	}
}

// FromEnv returns the default configuration with production tuning
// applied from the environment. Invalid values are ignored.
func FromEnv() Config {
	cfg := Default()
	if v := envInt("EDON_MAX_ACTIONS_PER_MINUTE"); v > 0 {
		cfg.MaxActionsPerMinute = v
	}
	if v := envInt("EDON_LOOP_DETECTION_WINDOW_SECONDS"); v > 0 {
		cfg.LoopWindowSeconds = v
	}
	if v := envInt("EDON_LOOP_DETECTION_THRESHOLD"); v > 0 {
		cfg.LoopThreshold = v
	}
	return cfg
}

func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
