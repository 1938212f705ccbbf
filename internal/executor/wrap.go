package executor

import (
	"strconv"
	"strings"
)

// wrapCommand appends a pipestatus dump to the caller's command, to be
// executed by zsh with fd 3 redirected to the metadata pipe.
func wrapCommand(command string) string {
	return command + `; echo "${pipestatus[*]}" >&3`
}

// parsePipestatus parses a whitespace-separated list of exit codes, e.g.
// "1 0 0", skipping any token that doesn't parse as an integer.
func parsePipestatus(raw string) []int {
	fields := strings.Fields(raw)
	codes := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		codes = append(codes, n)
	}
	return codes
}
