package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"speecheval/internal/api"
	"speecheval/internal/config"
)

const pollInterval = 200 * time.Millisecond

// ErrDaemonNotRunning indicates no daemon holds the lock.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Process describes the daemon as seen from outside: whether some process
// holds the single-instance lock, and its pid when the pid file says.
type Process struct {
	Running bool
	PID     int
}

// PIDPath returns the pid file written by a running daemon.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "evald.pid")
}

// Inspect checks the daemon lock without holding it.
func Inspect(cfg *config.Config) (Process, error) {
	lock := flock.New(cfg.LockPath())
	free, err := lock.TryLock()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Process{}, nil
	case err != nil:
		return Process{}, fmt.Errorf("inspect daemon lock: %w", err)
	case free:
		_ = lock.Unlock()
		return Process{}, nil
	}
	pid, _ := readPID(PIDPath(cfg))
	return Process{Running: true, PID: pid}, nil
}

// LaunchOptions are forwarded to "daemon run" in the child process.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// Launch starts "<exe> daemon run" in its own session and does not wait.
func Launch(executable string, opts LaunchOptions) error {
	if strings.TrimSpace(executable) == "" {
		return errors.New("launch daemon: executable path is empty")
	}
	args := []string{"daemon", "run"}
	if v := strings.TrimSpace(opts.ConfigPath); v != "" {
		args = append(args, "--config", v)
	}
	if v := strings.TrimSpace(opts.LogLevel); v != "" {
		args = append(args, "--log-level", v)
	}
	cmd := exec.Command(executable, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return cmd.Process.Release()
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

type StartResult struct {
	State StartState
	PID   int
}

// EnsureStarted launches the daemon unless one is already running, then
// waits up to timeout for its API to answer.
func EnsureStarted(ctx context.Context, cfg *config.Config, executable string, opts LaunchOptions, timeout time.Duration) (StartResult, error) {
	proc, err := Inspect(cfg)
	if err != nil {
		return StartResult{}, err
	}
	if proc.Running {
		return StartResult{State: StartStateAlreadyRunning, PID: proc.PID}, nil
	}
	if err := Launch(executable, opts); err != nil {
		return StartResult{}, err
	}
	var lastErr error
	err = poll(ctx, timeout, func() (bool, error) {
		_, lastErr = api.Dial(ctx, cfg)
		return lastErr == nil, nil
	})
	if err != nil {
		if lastErr != nil {
			err = fmt.Errorf("%w (last check: %v)", err, lastErr)
		}
		return StartResult{}, fmt.Errorf("daemon failed to start: %w", err)
	}
	proc, _ = Inspect(cfg)
	return StartResult{State: StartStateStarted, PID: proc.PID}, nil
}

// StopResult reports how the daemon was stopped.
type StopResult struct {
	ForcedKill bool
	PID        int
}

// StopAndTerminate sends SIGTERM and, if the lock is still held after
// grace, SIGKILL followed by pid and lock file cleanup.
func StopAndTerminate(cfg *config.Config, grace time.Duration) (StopResult, error) {
	proc, err := Inspect(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !proc.Running {
		return StopResult{}, ErrDaemonNotRunning
	}
	if proc.PID <= 0 {
		return StopResult{}, fmt.Errorf("daemon pid unknown (pid file: %s)", PIDPath(cfg))
	}
	if err := unix.Kill(proc.PID, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return StopResult{}, fmt.Errorf("signal daemon process %d: %w", proc.PID, err)
	}
	stopped := poll(context.Background(), grace, func() (bool, error) {
		p, err := Inspect(cfg)
		return !p.Running, err
	})
	if stopped == nil {
		return StopResult{PID: proc.PID}, nil
	}
	pid, err := forceKill(PIDPath(cfg), cfg.LockPath(), proc.PID)
	if err != nil {
		return StopResult{PID: proc.PID}, fmt.Errorf("stop daemon: %w", err)
	}
	return StopResult{ForcedKill: true, PID: pid}, nil
}

// forceKill SIGKILLs the pid from pidPath (or fallback) and removes the pid
// and lock files.
func forceKill(pidPath, lockPath string, fallback int) (int, error) {
	pid, err := readPID(pidPath)
	switch {
	case err == nil && pid > 0:
	case err == nil || errors.Is(err, os.ErrNotExist):
		pid = fallback
	default:
		return 0, fmt.Errorf("read pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("daemon pid unknown (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	for _, path := range []string{pidPath, lockPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return pid, fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return pid, nil
}

// poll calls done every pollInterval until it reports true, returns an
// error, ctx ends, or timeout passes.
func poll(ctx context.Context, timeout time.Duration, done func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up after %s: %w", timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid: %w", err)
	}
	return pid, nil
}
