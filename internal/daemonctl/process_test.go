package daemonctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"speecheval/internal/testsupport"
)

func TestInspectFollowsLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	if proc, err := Inspect(cfg); err != nil || proc.Running {
		t.Fatalf("expected not running, got %+v %v", proc, err)
	}

	lock := flock.New(cfg.LockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })
	if err := os.WriteFile(PIDPath(cfg), []byte("4242\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	proc, err := Inspect(cfg)
	if err != nil || !proc.Running || proc.PID != 4242 {
		t.Fatalf("expected running pid 4242, got %+v %v", proc, err)
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if _, err := StopAndTerminate(cfg, 0); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestForceKillRefusesSelfAndUnknownPID(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.pid")
	if _, err := forceKill(missing, "", os.Getpid()); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
	if _, err := forceKill(missing, "", 0); err == nil {
		t.Fatal("expected error without a pid")
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := Launch("  ", LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable")
	}
}

func TestPollStopsOnConditionOrTimeout(t *testing.T) {
	calls := 0
	err := poll(context.Background(), time.Second, func() (bool, error) {
		calls++
		return calls == 2, nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("poll = %v after %d calls", err, calls)
	}

	err = poll(context.Background(), 50*time.Millisecond, func() (bool, error) { return false, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	boom := errors.New("boom")
	if err := poll(context.Background(), time.Second, func() (bool, error) { return false, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected condition error, got %v", err)
	}
}
