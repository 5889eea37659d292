package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sboxrun/sandboxd/internal/log"
)

// RunInSession spawns cfg.Command rooted at root, waits for it to exit or
// for its deadline to pass, and returns the collected result. On deadline
// it sends SIGKILL and reports signal=SIGKILL with no exit code. It
// always returns once the child has been fully reaped.
func RunInSession(ctx context.Context, root string, cfg RunConfig) (RunResult, error) {
	return run(ctx, root, cfg)
}

// RunOneshot runs cfg.Command in a freshly created, freshly destroyed
// ephemeral root.
func RunOneshot(ctx context.Context, baseDir string, cfg RunConfig) (RunResult, error) {
	id := fmt.Sprintf("oneshot-%d", time.Now().UnixNano())
	root, err := CreateSessionSandbox(baseDir, id)
	if err != nil {
		return RunResult{}, fmt.Errorf("oneshot: %w", err)
	}
	defer func() {
		if err := DestroySessionSandbox(root); err != nil {
			log.Warn("oneshot cleanup failed", "root", root, "err", err)
		}
	}()
	return run(ctx, root, cfg)
}

func run(ctx context.Context, root string, cfg RunConfig) (RunResult, error) {
	if cfg.TimeMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeMS)*time.Millisecond)
		defer cancel()
	}

	cmd, err := buildCommand(ctx, root, cfg)
	if err != nil {
		return RunResult{}, err
	}
	cmd.Env = cfg.Env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("sandbox run: start: %w", err)
	}

	waitErr := cmd.Wait()

	result := RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctx.Err() == context.DeadlineExceeded {
		sig := int(syscall.SIGKILL)
		result.Signal = &sig
		return result, nil
	}

	exitCode, signal := exitStatus(waitErr)
	if signal != nil {
		result.Signal = signal
	} else {
		result.ExitCode = &exitCode
	}
	return result, nil
}

// exitStatus decodes an exec.Cmd.Wait error into an exit code or the
// signal that killed the process.
func exitStatus(err error) (code int, signal *int) {
	if err == nil {
		return 0, nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, nil
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode(), nil
	}
	if status.Signaled() {
		s := int(status.Signal())
		return 0, &s
	}
	return status.ExitStatus(), nil
}

// RunBackgroundInSession spawns cfg.Command detached, with stdio
// redirected to the session's append-only background log, and returns
// the OS PID once the child has been forked and exec'd. It does not wait
// for exit; a background goroutine reaps the child to avoid zombies.
func RunBackgroundInSession(root string, cfg RunConfig) (int, error) {
	cmd, err := buildCommand(context.Background(), root, cfg)
	if err != nil {
		return 0, err
	}
	cmd.Env = cfg.Env

	logPath := filepath.Join(root, backgroundLogDir, backgroundLogFile)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("sandbox background: opening log: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return 0, fmt.Errorf("sandbox background: start: %w", err)
	}
	pid := cmd.Process.Pid

	go func() {
		_ = cmd.Wait()
		logFile.Close()
	}()

	return pid, nil
}

// IsProcessAlive reports whether pid names a live, signalable process. It
// probes with signal 0, which delivers no signal but still fails ESRCH
// for a reaped pid.
func IsProcessAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// KillProcess sends SIGKILL to pid. A process that's already reaped or
// not owned by this user reports an error; callers treat that as "the
// signal didn't take" rather than a fatal condition.
func KillProcess(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// ReadBackgroundLog reads the tail of a session's background log, capped
// at maxBytes. A missing file yields an empty slice, not an error.
func ReadBackgroundLog(root string, maxBytes int64) ([]byte, error) {
	path := filepath.Join(root, backgroundLogDir, backgroundLogFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("reading background log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading background log: %w", err)
	}

	size := info.Size()
	if maxBytes > 0 && size > maxBytes {
		if _, err := f.Seek(-maxBytes, io.SeekEnd); err != nil {
			return nil, fmt.Errorf("reading background log: %w", err)
		}
		size = maxBytes
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("reading background log: %w", err)
	}
	return buf[:n], nil
}
