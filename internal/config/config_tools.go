package config

import "time"

// ToolsConfig controls the tool registry's execution and approval policy.
type ToolsConfig struct {
	Execution ToolExecutionConfig `yaml:"execution"`
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	// Timeout bounds a single tool invocation. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// PerToolTimeout overrides Timeout for specific tool names.
	PerToolTimeout map[string]time.Duration `yaml:"per_tool_timeout"`

	// Deny lists tool names the registry refuses to invoke. Checked
	// against both the system config and, layered over it, the calling
	// user's override — the allow-list is "every registered tool not
	// named here" rather than an explicit enumeration.
	Deny []string `yaml:"deny"`

	Approval ApprovalConfig `yaml:"approval"`
}

// ApprovalConfig controls which tools require user confirmation before
// running.
type ApprovalConfig struct {
	// ConfirmRequired lists tool names that must be confirmed by the user
	// before the pending call is executed. Default: ["shell.exec"].
	ConfirmRequired []string `yaml:"confirm_required"`
}
