// Package executor runs a single shell command to completion: spawns the
// shell with a sideband fd-3 metadata channel, streams its stdout/stdin
// verbatim, enforces a timeout by killing the whole process group (or PTY
// session), and reports the recovered pipestatus. It is exercised both as an
// in-process subprocess launched by the RPC server (cmd/exec.go, re-invoked
// as `zsh-tool exec --meta PATH ...`) and directly from the CLI.
package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// maxSnippetBytes bounds how much streamed output ExecutePipe/ExecutePty
// retain for OutputSnippet, independent of how much is actually streamed to
// the caller's stdout.
const maxSnippetBytes = 500

// Result is the outcome of one executed command: the per-segment pipeline
// exit codes, the overall exit code (last pipestatus entry), wall-clock
// duration, whether the timeout fired, and a bounded prefix of the streamed
// output for A.L.A.N. observation recording.
type Result struct {
	Pipestatus    []int  `json:"pipestatus"`
	ExitCode      int    `json:"exit_code"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	TimedOut      bool   `json:"timed_out"`
	OutputSnippet string `json:"-"`
}

// snippetCapture is an io.Writer that retains only the first max bytes ever
// written to it, while still reporting every byte as consumed so it can be
// teed alongside the real output stream without blocking or truncating it.
type snippetCapture struct {
	buf bytes.Buffer
	max int
}

func (c *snippetCapture) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if room > len(p) {
			room = len(p)
		}
		c.buf.Write(p[:room])
	}
	return len(p), nil
}

// WriteMeta serializes result as JSON and writes it to path, replacing any
// existing file. Written once, atomically from the caller's perspective,
// immediately before the Executor subprocess exits.
func WriteMeta(path string, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("json: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// ReadMeta reads and deletes the meta file at path. Per spec.md §7.vi, a
// missing or unreadable meta file is not an error to the caller: it is
// reported via the bool return so the Server can fall back to a synthesized
// pipestatus of [0].
func ReadMeta(path string) (Result, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, false
	}
	defer os.Remove(path)

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, false
	}
	return result, true
}
