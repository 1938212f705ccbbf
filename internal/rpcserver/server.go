package rpcserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sys/unix"

	"go.olrik.dev/zsh-tool/internal/alan"
	"go.olrik.dev/zsh-tool/internal/circuit"
	"go.olrik.dev/zsh-tool/internal/core"
	"go.olrik.dev/zsh-tool/internal/executor"
)

// CompletedEvent is a background task completion the caller hasn't observed
// yet; it is queued and surfaced as a `[notify]` line on the next unrelated
// tool call.
type CompletedEvent struct {
	TaskID   string
	ExitCode int
	Elapsed  float64
}

// TaskInfo is a live or just-finished background task. Cmd/Stdout/Stdin are
// nil once the task is finalized.
type TaskInfo struct {
	TaskID         string
	Command        string
	StartedAt      time.Time
	Status         string // running, completed, killed, timeout, error
	OutputBuffer   strings.Builder
	LastPollOffset int
	HasStdin       bool
	Pipestatus     []int
	PID            int
	IsPTY          bool
	MetaPath       string
	PreInsights    []alan.Insight

	Cmd      *exec.Cmd
	Stdout   *os.File
	Stdin    *os.File
	ExitedCh chan struct{}
}

// ServerState is the shared state of one zsh-tool serve session.
type ServerState struct {
	SessionID string
	DBPath    string
	ExecPath  string

	Breaker *circuit.Breaker

	tasksMu sync.Mutex
	tasks   map[string]*TaskInfo

	eventsMu sync.Mutex
	events   []CompletedEvent
}

// NewServerState builds server state from the live configuration: a fresh
// session id, the configured ALAN db path, and a circuit breaker seeded from
// the NEVERHANG knobs.
func NewServerState() (*ServerState, error) {
	execPath, err := os.Executable()
	if err != nil {
		execPath = "zsh-tool"
	}

	breaker := circuit.New(
		core.GetNeverhangFailureThreshold(),
		time.Duration(core.GetNeverhangRecoveryTimeout())*time.Second,
		time.Duration(core.GetNeverhangSampleWindow())*time.Second,
	)

	return &ServerState{
		SessionID: uuid.New().String(),
		DBPath:    core.GetAlanDBPath(),
		ExecPath:  execPath,
		Breaker:   breaker,
		tasks:     make(map[string]*TaskInfo),
	}, nil
}

func (s *ServerState) openStore() (*alan.Store, bool) {
	store, err := alan.Open(s.DBPath)
	if err != nil {
		slog.Warn("zsh-tool: ALAN store open failed", slog.Any("err", err))
		return nil, false
	}
	return store, true
}

// Run drives the JSON-RPC dispatch loop against r/w until EOF.
func (s *ServerState) Run(r io.Reader, w io.Writer) {
	slog.Info("zsh-tool: starting MCP server", slog.String("session", s.SessionID), slog.String("db", s.DBPath))

	framing := NewFraming(r, w)
	for {
		req, err := framing.ReadMessage()
		if err != nil {
			if err != io.EOF {
				slog.Warn("zsh-tool: read error", slog.Any("err", err))
			}
			break
		}

		if len(req.ID) == 0 {
			slog.Debug("zsh-tool: notification", slog.String("method", req.Method))
			continue
		}

		resp := s.handleRequest(req.Method, req.ID, req.Params)
		if err := framing.WriteMessage(resp); err != nil {
			slog.Warn("zsh-tool: write error", slog.Any("err", err))
			break
		}
	}
	slog.Info("zsh-tool: stdin closed, shutting down")
}

func (s *ServerState) handleRequest(method string, id, params json.RawMessage) Response {
	switch method {
	case "initialize":
		return successResponse(id, initializeResult("zsh-tool", core.Version))

	case "tools/list":
		return successResponse(id, ListTools(core.GetNeverhangTimeoutDefault(), core.GetNeverhangTimeoutMax(), core.GetYieldAfterDefault()))

	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if len(params) > 0 {
			_ = json.Unmarshal(params, &p)
		}
		if p.Arguments == nil {
			p.Arguments = map[string]any{}
		}
		return successResponse(id, s.handleToolCall(p.Name, p.Arguments))

	case "ping":
		return successResponse(id, map[string]any{})

	default:
		return errorResponse(id, errCodeMethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}
}

func (s *ServerState) handleToolCall(name string, args map[string]any) map[string]any {
	s.checkAndFinalizeBackgroundTasks()

	var result map[string]any
	switch name {
	case "zsh":
		result = s.handleZsh(args)
	case "zsh_poll":
		result = s.handlePoll(args)
	case "zsh_send":
		result = s.handleSend(args)
	case "zsh_kill":
		result = s.handleKill(args)
	case "zsh_tasks":
		result = s.handleListTasks()
	case "zsh_health":
		result = s.handleHealth()
	case "zsh_alan_stats":
		result = s.handleAlanStats()
	case "zsh_alan_query":
		result = s.handleAlanQuery(args)
	case "zsh_neverhang_status":
		result = s.handleNeverhangStatus()
	case "zsh_neverhang_reset":
		result = s.handleNeverhangReset()
	default:
		return errorContent(fmt.Sprintf("Unknown tool: %s", name))
	}
	return s.prependEvents(result)
}

func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

// --- zsh ---

func (s *ServerState) handleZsh(args map[string]any) map[string]any {
	command, ok := argString(args, "command")
	if !ok {
		return errorContent("Missing required parameter: command")
	}

	usePty, _ := args["pty"].(bool)

	timeout := core.GetNeverhangTimeoutDefault()
	if v, ok := args["timeout"].(float64); ok {
		timeout = int(v)
	}
	if timeout > core.GetNeverhangTimeoutMax() {
		timeout = core.GetNeverhangTimeoutMax()
	}

	yieldAfter := core.GetYieldAfterDefault()
	if v, ok := args["yield_after"].(float64); ok {
		yieldAfter = v
	}

	if allowed, msg := s.Breaker.ShouldAllow(); !allowed {
		if msg == "" {
			msg = "NEVERHANG: Circuit OPEN"
		}
		return formatTaskOutput(toolResult{Error: msg, Status: "error"})
	}

	var preInsights []alan.Insight
	if store, ok := s.openStore(); ok {
		preInsights = store.GetPreInsights(command, s.SessionID, core.GetAlanStreakThreshold(), core.GetAlanRecentWindowMinutes(), core.GetAlanManoptFailTrigger())
		store.Close()
	}

	taskID := uuid.New().String()[:8]
	metaPath := filepath.Join(os.TempDir(), fmt.Sprintf("zsh-tool-meta-%s.json", taskID))

	cmdArgs := []string{
		"exec",
		"--meta", metaPath,
		"--timeout", strconv.Itoa(timeout),
		"--db", s.DBPath,
		"--session-id", s.SessionID,
	}
	if usePty {
		cmdArgs = append(cmdArgs, "--pty")
	}
	cmdArgs = append(cmdArgs, "--", command)

	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		return formatTaskOutput(toolResult{Error: fmt.Sprintf("Failed to spawn executor: %v", err), TaskID: taskID, Status: "error"})
	}

	cmd := exec.Command(s.ExecPath, cmdArgs...)
	cmd.Stdout = stdoutWrite

	var stdinWrite *os.File
	if usePty {
		stdinRead, sw, err := os.Pipe()
		if err == nil {
			cmd.Stdin = stdinRead
			stdinWrite = sw
			defer stdinRead.Close()
		}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		stdoutRead.Close()
		stdoutWrite.Close()
		return formatTaskOutput(toolResult{Error: fmt.Sprintf("Failed to spawn executor: %v", err), TaskID: taskID, Status: "error"})
	}
	stdoutWrite.Close()

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	yieldDur := time.Duration(yieldAfter * float64(time.Second))
	time.Sleep(yieldDur)
	elapsed := time.Since(start).Seconds()

	select {
	case <-exited:
		output := drainBlocking(stdoutRead)
		stdoutRead.Close()
		if stdinWrite != nil {
			stdinWrite.Close()
		}
		return s.finalizeTask(taskID, command, output, elapsed, preInsights, metaPath, true)

	default:
		outputSoFar := readAvailable(stdoutRead)
		hasStdin := stdinWrite != nil

		task := &TaskInfo{
			TaskID:      taskID,
			Command:     command,
			StartedAt:   start,
			Status:      "running",
			HasStdin:    hasStdin,
			PID:         cmd.Process.Pid,
			IsPTY:       usePty,
			MetaPath:    metaPath,
			PreInsights: preInsights,
			Cmd:         cmd,
			Stdout:      stdoutRead,
			Stdin:       stdinWrite,
			ExitedCh:    exited,
		}
		task.OutputBuffer.WriteString(outputSoFar)

		s.tasksMu.Lock()
		s.tasks[taskID] = task
		s.tasksMu.Unlock()

		return formatTaskOutput(toolResult{
			TaskID:         taskID,
			Status:         "running",
			Output:         truncateOutput(outputSoFar, core.GetTruncateOutputAt()),
			ElapsedSeconds: elapsed,
			HasStdin:       hasStdin,
			Insights:       combineInsights(preInsights, nil),
		})
	}
}

// --- zsh_poll ---

func (s *ServerState) handlePoll(args map[string]any) map[string]any {
	taskID, ok := argString(args, "task_id")
	if !ok {
		return errorContent("Missing required parameter: task_id")
	}

	s.tasksMu.Lock()
	task, found := s.tasks[taskID]
	if !found {
		s.tasksMu.Unlock()
		return errorContent(fmt.Sprintf("Unknown task: %s", taskID))
	}

	if task.Status != "running" {
		output := task.OutputBuffer.String()
		status := task.Status
		pipestatus := task.Pipestatus
		elapsed := time.Since(task.StartedAt).Seconds()
		s.tasksMu.Unlock()
		s.suppressEventForTask(taskID)
		return formatTaskOutput(toolResult{
			TaskID:         taskID,
			Status:         status,
			Output:         truncateOutput(output, core.GetTruncateOutputAt()),
			ElapsedSeconds: elapsed,
			Pipestatus:     pipestatus,
		})
	}

	if task.Stdout != nil {
		newOutput := readAvailable(task.Stdout)
		if newOutput != "" {
			task.OutputBuffer.WriteString(newOutput)
		}
	}

	elapsed := time.Since(task.StartedAt).Seconds()
	completed := processExited(task.ExitedCh)

	if completed {
		if task.Stdout != nil {
			task.OutputBuffer.WriteString(drainBlocking(task.Stdout))
			task.Stdout.Close()
		}
		if task.Stdin != nil {
			task.Stdin.Close()
		}
		task.Cmd = nil
		task.Stdout = nil
		task.Stdin = nil
		task.Status = "completed"

		output := task.OutputBuffer.String()
		command := task.Command
		preInsights := task.PreInsights
		metaPath := task.MetaPath
		s.tasksMu.Unlock()

		s.suppressEventForTask(taskID)
		return s.finalizeTask(taskID, command, output, elapsed, preInsights, metaPath, true)
	}

	newBytes := task.OutputBuffer.Len() - task.LastPollOffset
	if newBytes < 0 {
		newBytes = 0
	}
	task.LastPollOffset = task.OutputBuffer.Len()
	output := task.OutputBuffer.String()
	hasStdin := task.HasStdin
	preInsights := task.PreInsights
	s.tasksMu.Unlock()

	return formatTaskOutput(toolResult{
		TaskID:         taskID,
		Status:         "running",
		Output:         truncateOutput(output, core.GetTruncateOutputAt()),
		ElapsedSeconds: elapsed,
		HasStdin:       hasStdin,
		NewBytes:       newBytes,
		Insights:       combineInsights(preInsights, nil),
	})
}

// --- zsh_send ---

func (s *ServerState) handleSend(args map[string]any) map[string]any {
	taskID, ok := argString(args, "task_id")
	if !ok {
		return errorContent("Missing required parameter: task_id")
	}
	input, _ := args["input"].(string)

	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	task, found := s.tasks[taskID]
	if !found {
		return errorContent(fmt.Sprintf("Unknown task: %s", taskID))
	}
	if task.Status != "running" {
		return errorContent(fmt.Sprintf("Task %s is not running", taskID))
	}
	if task.Stdin == nil {
		return errorContent(fmt.Sprintf("Task %s has no stdin (not a PTY task)", taskID))
	}

	if _, err := task.Stdin.WriteString(input + "\n"); err != nil {
		return errorContent(fmt.Sprintf("Failed to write to stdin: %v", err))
	}
	body, _ := json.MarshalIndent(map[string]any{"success": true, "message": "Input sent"}, "", "  ")
	return textContent(string(body))
}

// --- zsh_kill ---

func (s *ServerState) handleKill(args map[string]any) map[string]any {
	taskID, ok := argString(args, "task_id")
	if !ok {
		return errorContent("Missing required parameter: task_id")
	}

	s.tasksMu.Lock()
	task, found := s.tasks[taskID]
	if !found {
		s.tasksMu.Unlock()
		return errorContent(fmt.Sprintf("Unknown task: %s", taskID))
	}
	if task.Status != "running" {
		s.tasksMu.Unlock()
		return errorContent(fmt.Sprintf("Task %s is not running", taskID))
	}

	_ = unix.Kill(task.PID, unix.SIGTERM)
	time.Sleep(100 * time.Millisecond)
	_ = unix.Kill(task.PID, unix.SIGKILL)

	if task.ExitedCh != nil {
		select {
		case <-task.ExitedCh:
		case <-time.After(2 * time.Second):
		}
	}
	task.Cmd = nil
	if task.Stdout != nil {
		task.OutputBuffer.WriteString(readAvailable(task.Stdout))
		task.Stdout.Close()
	}
	if task.Stdin != nil {
		task.Stdin.Close()
	}
	os.Remove(task.MetaPath)

	elapsed := time.Since(task.StartedAt).Seconds()
	output := task.OutputBuffer.String()
	delete(s.tasks, taskID)
	s.tasksMu.Unlock()

	return formatTaskOutput(toolResult{
		TaskID:         taskID,
		Status:         "killed",
		Output:         truncateOutput(output, core.GetTruncateOutputAt()),
		ElapsedSeconds: elapsed,
	})
}

// --- zsh_tasks ---

func (s *ServerState) handleListTasks() map[string]any {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	list := make([]map[string]any, 0, len(s.tasks))
	for _, t := range s.tasks {
		cmd := t.Command
		if len(cmd) > 50 {
			cmd = cmd[:47] + "..."
		}
		list = append(list, map[string]any{
			"task_id":         t.TaskID,
			"command":         cmd,
			"status":          t.Status,
			"elapsed_seconds": roundSeconds(time.Since(t.StartedAt).Seconds()),
		})
	}
	body, _ := json.MarshalIndent(map[string]any{"tasks": list}, "", "  ")
	return textContent(string(body))
}

// --- zsh_health ---

func (s *ServerState) handleHealth() map[string]any {
	var alanStats any
	if store, ok := s.openStore(); ok {
		alanStats = store.GetStats(s.SessionID)
		store.Close()
	}

	s.tasksMu.Lock()
	activeTasks := len(s.tasks)
	s.tasksMu.Unlock()

	health := map[string]any{
		"status":       "healthy",
		"neverhang":    s.Breaker.GetStatus(),
		"alan":         alanStats,
		"active_tasks": activeTasks,
	}
	if avg, err := load.Avg(); err == nil {
		health["load_average"] = map[string]any{"1m": avg.Load1, "5m": avg.Load5, "15m": avg.Load15}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		health["memory_percent"] = vm.UsedPercent
	}

	body, _ := json.MarshalIndent(health, "", "  ")
	return textContent(string(body))
}

// --- zsh_alan_stats / zsh_alan_query ---

func (s *ServerState) handleAlanStats() map[string]any {
	store, ok := s.openStore()
	if !ok {
		return errorContent("ALAN DB error")
	}
	defer store.Close()
	body, _ := json.MarshalIndent(store.GetStats(s.SessionID), "", "  ")
	return textContent(string(body))
}

func (s *ServerState) handleAlanQuery(args map[string]any) map[string]any {
	command, ok := argString(args, "command")
	if !ok {
		return errorContent("Missing required parameter: command")
	}
	store, ok := s.openStore()
	if !ok {
		return errorContent("ALAN DB error")
	}
	defer store.Close()
	body, _ := json.MarshalIndent(store.QueryPattern(command), "", "  ")
	return textContent(string(body))
}

// --- zsh_neverhang_status / zsh_neverhang_reset ---

func (s *ServerState) handleNeverhangStatus() map[string]any {
	body, _ := json.MarshalIndent(s.Breaker.GetStatus(), "", "  ")
	return textContent(string(body))
}

func (s *ServerState) handleNeverhangReset() map[string]any {
	s.Breaker.Reset()
	body, _ := json.MarshalIndent(map[string]any{"success": true, "message": "Circuit breaker reset to CLOSED state"}, "", "  ")
	return textContent(string(body))
}

// --- finalize / background sweep ---

func (s *ServerState) finalizeTask(taskID, command, output string, elapsed float64, preInsights []alan.Insight, metaPath string, suppressNotification bool) map[string]any {
	meta, ok := executor.ReadMeta(metaPath)
	pipestatus := []int{0}
	timedOut := false
	if ok {
		pipestatus = meta.Pipestatus
		timedOut = meta.TimedOut
	}
	if len(pipestatus) == 0 {
		pipestatus = []int{0}
	}
	overallExit := pipestatus[len(pipestatus)-1]

	postInsights := alan.GetPostInsights(command, pipestatus, output)
	insights := combineInsights(preInsights, postInsights)

	if timedOut {
		s.Breaker.RecordTimeout(alan.HashCommand(command))
	} else {
		s.Breaker.RecordSuccess()
	}

	if store, ok := s.openStore(); ok {
		store.MaybePrune(core.GetAlanDecayHalfLifeHours(), core.GetAlanPruneThreshold(), core.GetAlanMaxEntries(), core.GetAlanPruneIntervalHours())
		store.Close()
	}

	if !suppressNotification {
		s.enqueueEvent(taskID, overallExit, elapsed)
	}

	status := "completed"
	if timedOut {
		status = "timeout"
	}

	return formatTaskOutput(toolResult{
		Success:        !timedOut && overallExit == 0,
		TaskID:         taskID,
		Status:         status,
		Output:         truncateOutput(output, core.GetTruncateOutputAt()),
		ElapsedSeconds: elapsed,
		Pipestatus:     pipestatus,
		Insights:       insights,
	})
}

// checkAndFinalizeBackgroundTasks finalizes any running task whose child has
// already exited, so completions are never missed even when the caller
// never polls the specific task that finished.
func (s *ServerState) checkAndFinalizeBackgroundTasks() {
	s.tasksMu.Lock()
	var runningIDs []string
	for id, t := range s.tasks {
		if t.Status == "running" {
			runningIDs = append(runningIDs, id)
		}
	}
	s.tasksMu.Unlock()

	for _, id := range runningIDs {
		if args, ok := s.collectIfDone(id); ok {
			s.finalizeTask(args.taskID, args.command, args.output, args.elapsed, args.preInsights, args.metaPath, false)
		}
	}
}

type finalizeArgs struct {
	taskID      string
	command     string
	output      string
	elapsed     float64
	preInsights []alan.Insight
	metaPath    string
}

func (s *ServerState) collectIfDone(taskID string) (finalizeArgs, bool) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	task, found := s.tasks[taskID]
	if !found || task.Status != "running" {
		return finalizeArgs{}, false
	}
	if !processExited(task.ExitedCh) {
		return finalizeArgs{}, false
	}

	if task.Stdout != nil {
		task.OutputBuffer.WriteString(drainBlocking(task.Stdout))
		task.Stdout.Close()
	}
	if task.Stdin != nil {
		task.Stdin.Close()
	}
	task.Cmd = nil
	task.Stdout = nil
	task.Stdin = nil
	task.Status = "completed"

	return finalizeArgs{
		taskID:      task.TaskID,
		command:     task.Command,
		output:      task.OutputBuffer.String(),
		elapsed:     time.Since(task.StartedAt).Seconds(),
		preInsights: task.PreInsights,
		metaPath:    task.MetaPath,
	}, true
}

// --- events ---

func (s *ServerState) enqueueEvent(taskID string, exitCode int, elapsed float64) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, CompletedEvent{TaskID: taskID, ExitCode: exitCode, Elapsed: elapsed})
}

func (s *ServerState) suppressEventForTask(taskID string) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.TaskID != taskID {
			kept = append(kept, ev)
		}
	}
	s.events = kept
}

func (s *ServerState) drainEvents() string {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if len(s.events) == 0 {
		return ""
	}
	lines := make([]string, len(s.events))
	for i, ev := range s.events {
		if ev.ExitCode == 0 {
			lines[i] = colorDim.Sprintf("[notify] task '%s' completed (exit=0, %.1fs) — use zsh_poll to retrieve output", ev.TaskID, ev.Elapsed)
		} else {
			lines[i] = colorYellow.Sprintf("[notify] task '%s' failed (exit=%d, %.1fs) — use zsh_poll to retrieve output", ev.TaskID, ev.ExitCode, ev.Elapsed)
		}
	}
	s.events = nil
	return strings.Join(lines, "\n")
}

func (s *ServerState) prependEvents(result map[string]any) map[string]any {
	notifications := s.drainEvents()
	if notifications == "" {
		return result
	}
	content, ok := result["content"].([]map[string]any)
	if !ok || len(content) == 0 {
		return result
	}
	text, ok := content[0]["text"].(string)
	if !ok {
		return result
	}
	return textContent(notifications + "\n\n" + text)
}

func combineInsights(pre, post []alan.Insight) map[string][]string {
	out := make(map[string][]string)
	for _, ins := range pre {
		out[ins.Level] = append(out[ins.Level], ins.Message)
	}
	for _, ins := range post {
		out[ins.Level] = append(out[ins.Level], ins.Message)
	}
	return out
}

func roundSeconds(s float64) float64 {
	v, err := strconv.ParseFloat(fmt.Sprintf("%.1f", s), 64)
	if err != nil {
		return s
	}
	return v
}

// processExited reports whether the goroutine waiting on a task's child has
// observed its exit. Reading a closed channel never blocks and never
// consumes a value, so this can be polled repeatedly.
func processExited(exited chan struct{}) bool {
	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return true
	default:
		return false
	}
}

func rawFd(f *os.File) int {
	return int(f.Fd())
}

func readAvailable(f *os.File) string {
	fd := rawFd(f)
	_ = unix.SetNonblock(fd, true)

	var collected []byte
	buf := make([]byte, 65536)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			collected = append(collected, buf[:n]...)
		}
		if n <= 0 || err != nil {
			break
		}
	}
	return string(collected)
}

func drainBlocking(f *os.File) string {
	fd := rawFd(f)
	_ = unix.SetNonblock(fd, false)
	data, _ := io.ReadAll(f)
	return string(data)
}

