package executor

import (
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ExecutePty runs command under /bin/zsh attached to a pseudoterminal: the
// child becomes its own session leader and acquires the PTY slave as its
// controlling terminal (creack/pty's Setsid+Setctty), so interactive
// programs behave as they would at a real terminal. On timeout the session
// leader is killed directly (no separate process-group kill is needed: a
// session leader's death takes dependents with it via SIGHUP in the normal
// case, and SIGKILL is unconditional regardless).
func ExecutePty(command string, timeout time.Duration) (Result, error) {
	start := time.Now()

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return Result{}, err
	}
	metaRead := os.NewFile(uintptr(fds[0]), "zsh-meta-read")
	metaWrite := os.NewFile(uintptr(fds[1]), "zsh-meta-write")

	cmd := exec.Command("/bin/zsh", "-c", wrapCommand(command))
	cmd.ExtraFiles = []*os.File{metaWrite}

	master, err := pty.Start(cmd)
	if err != nil {
		metaRead.Close()
		metaWrite.Close()
		return Result{}, err
	}
	metaWrite.Close()

	snippet := &snippetCapture{max: maxSnippetBytes}

	stdoutDone := make(chan struct{})
	go func() {
		defer close(stdoutDone)
		buf := make([]byte, 4096)
		for {
			n, err := master.Read(buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
				snippet.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	stdinDone := make(chan struct{})
	go func() {
		defer close(stdinDone)
		io.Copy(master, os.Stdin)
	}()

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
				_ = cmd.Process.Kill()
				waitErr = <-done
				timedOut = true
				break loop
			}
		}
	}

	// Closing the master signals EOF to the stdout pump; the stdin pump is
	// left to die naturally when our own stdin closes (it would otherwise
	// block forever on an interactive parent).
	master.Close()
	<-stdoutDone

	exitCode := -1
	if !timedOut {
		if cmd.ProcessState != nil {
			if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				exitCode = 128 + int(ws.Signal())
			} else {
				exitCode = cmd.ProcessState.ExitCode()
			}
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
