package rpcserver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
)

var (
	colorGreen  = text.Colors{text.FgGreen}
	colorRed    = text.Colors{text.FgRed}
	colorYellow = text.Colors{text.FgYellow}
	colorCyan   = text.Colors{text.FgCyan}
	colorDim    = text.Colors{text.Faint}
)

func colorExit(code int) string {
	switch {
	case code == 0:
		return colorGreen.Sprint(code)
	case code > 128:
		return colorYellow.Sprint(code)
	default:
		return colorRed.Sprint(code)
	}
}

func truncateOutput(output string, maxLen int) string {
	if len(output) <= maxLen {
		return output
	}
	return fmt.Sprintf("%s\n\n[OUTPUT TRUNCATED - %d bytes total, showing first %d]",
		output[:maxLen], len(output), maxLen)
}

// toolResult is the internal shape every tool handler builds before
// formatting, mirroring the fields the original's status-line renderer
// switches on.
type toolResult struct {
	Success        bool
	Error          string
	TaskID         string
	Status         string
	Output         string
	ElapsedSeconds float64
	Pipestatus     []int
	HasStdin       bool
	NewBytes       int
	Insights       map[string][]string
}

// formatTaskOutput renders r into the MCP "tools/call" text-content shape:
// output first, then error text, then one bracketed status line, then
// grouped A.L.A.N. insights.
func formatTaskOutput(r toolResult) map[string]any {
	var parts []string

	trimmed := strings.TrimRight(r.Output, "\n")
	if strings.TrimSpace(r.Output) != "" {
		parts = append(parts, trimmed)
	} else if r.Status == "completed" {
		parts = append(parts, colorDim.Sprint("(no output)"))
	}

	if r.Error != "" {
		parts = append(parts, colorRed.Sprint("[error]")+" "+r.Error)
	}

	switch r.Status {
	case "running":
		deltaStr := ""
		switch {
		case r.NewBytes >= 1024:
			deltaStr = fmt.Sprintf(" — %.1f KB new", float64(r.NewBytes)/1024.0)
		case r.NewBytes > 0:
			deltaStr = fmt.Sprintf(" — %d B new", r.NewBytes)
		}
		stdinWord := "no"
		if r.HasStdin {
			stdinWord = "yes"
		}
		parts = append(parts, colorCyan.Sprintf("[RUNNING task_id=%s elapsed=%.1fs stdin=%s%s]",
			r.TaskID, r.ElapsedSeconds, stdinWord, deltaStr))
		parts = append(parts, "Use zsh_poll to continue, zsh_send to input, zsh_kill to stop.")

	case "completed":
		pipestatus := r.Pipestatus
		if len(pipestatus) == 0 {
			pipestatus = []int{0}
		}
		overall := pipestatus[len(pipestatus)-1]

		label, color := "[COMPLETED", colorGreen
		if overall != 0 {
			label, color = "[FAILED", colorRed
		}

		exitStr := fmt.Sprintf("exit=%s", colorExit(overall))
		if len(pipestatus) > 1 {
			colored := make([]string, len(pipestatus))
			for i, c := range pipestatus {
				colored[i] = colorExit(c)
			}
			exitStr += fmt.Sprintf(" pipestatus=[%s]", strings.Join(colored, ","))
		}
		parts = append(parts, fmt.Sprintf("%s task_id=%s elapsed=%.1fs %s%s",
			color.Sprint(label), r.TaskID, r.ElapsedSeconds, exitStr, color.Sprint("]")))

	case "timeout":
		parts = append(parts, colorYellow.Sprintf("[TIMEOUT task_id=%s elapsed=%.1fs]", r.TaskID, r.ElapsedSeconds))

	case "killed":
		parts = append(parts, colorRed.Sprintf("[KILLED task_id=%s elapsed=%.1fs]", r.TaskID, r.ElapsedSeconds))

	case "error":
		parts = append(parts, colorRed.Sprintf("[ERROR task_id=%s elapsed=%.1fs]", r.TaskID, r.ElapsedSeconds))
	}

	levels := make([]string, 0, len(r.Insights))
	for level := range r.Insights {
		levels = append(levels, level)
	}
	sort.Strings(levels)
	for _, level := range levels {
		messages := r.Insights[level]
		if len(messages) == 0 {
			continue
		}
		joined := strings.Join(messages, " | ")
		if level == "warning" {
			parts = append(parts, colorYellow.Sprintf("[warning: A.L.A.N.: %s]", joined))
		} else {
			parts = append(parts, colorDim.Sprintf("[info: A.L.A.N.: %s]", joined))
		}
	}

	text := "(no output)"
	if len(parts) > 0 {
		text = strings.Join(parts, "\n")
	}
	return textContent(text)
}
