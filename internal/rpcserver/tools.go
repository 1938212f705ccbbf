package rpcserver

import "fmt"

// ListTools builds the MCP "tools/list" result for the 10 zsh-tool tools,
// names/schemas recovered from the original implementation's tool catalog.
func ListTools(timeoutDefault, timeoutMax int, yieldAfter float64) map[string]any {
	return map[string]any{
		"tools": []map[string]any{
			toolDef("zsh",
				"Execute a zsh command with yield-based oversight. Returns after yield_after seconds with partial output if still running. Use zsh_poll to continue collecting output.",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"command": map[string]any{
							"type":        "string",
							"description": "The zsh command to execute",
						},
						"timeout": map[string]any{
							"type":        "integer",
							"description": fmt.Sprintf("Max execution time in seconds (default: %d, max: %d)", timeoutDefault, timeoutMax),
						},
						"yield_after": map[string]any{
							"type":        "number",
							"description": fmt.Sprintf("Return control after this many seconds if still running (default: %v)", yieldAfter),
						},
						"description": map[string]any{
							"type":        "string",
							"description": "Human-readable description of what this command does",
						},
						"pty": map[string]any{
							"type":        "boolean",
							"description": "Use PTY (pseudo-terminal) mode for full terminal emulation. Enables proper handling of interactive prompts, colors, and programs that require a TTY.",
						},
					},
					"required": []string{"command"},
				},
			),
			toolDef("zsh_poll",
				"Get more output from a running task. Call repeatedly until status is not 'running'.",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task_id": map[string]any{
							"type":        "string",
							"description": "Task ID returned from zsh command",
						},
					},
					"required": []string{"task_id"},
				},
			),
			toolDef("zsh_send",
				"Send input to a running task's stdin. Use for interactive commands that need input.",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task_id": map[string]any{
							"type":        "string",
							"description": "Task ID of the running command",
						},
						"input": map[string]any{
							"type":        "string",
							"description": "Text to send to stdin (newline added automatically)",
						},
					},
					"required": []string{"task_id", "input"},
				},
			),
			toolDef("zsh_kill",
				"Kill a running task.",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task_id": map[string]any{
							"type":        "string",
							"description": "Task ID to kill",
						},
					},
					"required": []string{"task_id"},
				},
			),
			toolDef("zsh_tasks",
				"List all active tasks with their status.",
				map[string]any{"type": "object", "properties": map[string]any{}},
			),
			toolDef("zsh_health",
				"Get health status of zsh-tool including NEVERHANG and A.L.A.N. status",
				map[string]any{"type": "object", "properties": map[string]any{}},
			),
			toolDef("zsh_alan_stats",
				"Get A.L.A.N. learning database statistics",
				map[string]any{"type": "object", "properties": map[string]any{}},
			),
			toolDef("zsh_alan_query",
				"Query A.L.A.N. for insights about a command pattern",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"command": map[string]any{
							"type":        "string",
							"description": "Command to query pattern stats for",
						},
					},
					"required": []string{"command"},
				},
			),
			toolDef("zsh_neverhang_status",
				"Get NEVERHANG circuit breaker status",
				map[string]any{"type": "object", "properties": map[string]any{}},
			),
			toolDef("zsh_neverhang_reset",
				"Reset NEVERHANG circuit breaker to closed state",
				map[string]any{"type": "object", "properties": map[string]any{}},
			),
		},
	}
}
