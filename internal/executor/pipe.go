package executor

import (
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ExecutePipe runs command under /bin/zsh with stdout/stderr merged onto
// this process's own stdout and stdin forwarded from this process's own
// stdin, recovering the pipeline's per-segment exit codes over an fd-3
// sideband pipe. On timeout the whole process group is killed. Output is
// teed through a bounded snippetCapture so Result.OutputSnippet can be
// recorded as an A.L.A.N. observation without buffering the full stream.
func ExecutePipe(command string, timeout time.Duration) (Result, error) {
	start := time.Now()

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return Result{}, err
	}
	metaRead := os.NewFile(uintptr(fds[0]), "zsh-meta-read")
	metaWrite := os.NewFile(uintptr(fds[1]), "zsh-meta-write")

	snippet := &snippetCapture{max: maxSnippetBytes}

	cmd := exec.Command("/bin/zsh", "-c", wrapCommand(command))
	cmd.Stdout = io.MultiWriter(os.Stdout, snippet)
	cmd.Stderr = io.MultiWriter(os.Stdout, snippet)
	cmd.Stdin = os.Stdin
	cmd.ExtraFiles = []*os.File{metaWrite}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		metaRead.Close()
		metaWrite.Close()
		return Result{}, err
	}
	// Parent no longer needs the write end; once the child (and anything it
	// forked) exits, this is what lets metaRead see EOF.
	metaWrite.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var timedOut bool
	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-ticker.C:
			if time.Since(start) >= timeout {
				pgid := cmd.Process.Pid
				_ = unix.Kill(-pgid, unix.SIGKILL)
				waitErr = <-done
				timedOut = true
				break loop
			}
		}
	}

	exitCode := -1
	if !timedOut {
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		} else if waitErr == nil {
			exitCode = 0
		}
	}

	metaRaw, _ := io.ReadAll(metaRead)
	metaRead.Close()

	pipestatus := parsePipestatus(string(metaRaw))
	if len(pipestatus) == 0 {
		pipestatus = []int{exitCode}
	}

	return Result{
		Pipestatus:    pipestatus,
		ExitCode:      pipestatus[len(pipestatus)-1],
		ElapsedMs:     time.Since(start).Milliseconds(),
		TimedOut:      timedOut,
		OutputSnippet: snippet.buf.String(),
	}, nil
}
