package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/workbench/server/internal/logbus"
	"github.com/workbench/server/internal/portalloc"
)

func newTestSupervisor() *Supervisor {
	return New(portalloc.NewPool(19000, 10), logbus.New(64, 64), 5*time.Second)
}

func TestStartAndStopLifecycle(t *testing.T) {
	sv := newTestSupervisor()
	dir := t.TempDir()

	spec := Spec{
		WorkspaceID:  "app-1",
		WorkDir:      dir,
		StartCommand: []string{"sh", "-c", "sleep 30"},
	}

	if err := sv.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sv.Status("app-1").State == StateRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	status := sv.Status("app-1")
	if status.State != StateRunning {
		t.Fatalf("expected running, got %s", status.State)
	}
	if status.Port == 0 {
		t.Error("expected a leased port")
	}

	if err := sv.Stop("app-1", time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sv.Status("app-1").State != StateStopped {
		t.Errorf("expected stopped, got %s", sv.Status("app-1").State)
	}
}

func TestStartFailsOnBadCommand(t *testing.T) {
	sv := newTestSupervisor()
	dir := t.TempDir()

	spec := Spec{
		WorkspaceID:  "app-2",
		WorkDir:      dir,
		StartCommand: []string{"/no/such/binary"},
	}

	err := sv.Start(context.Background(), spec)
	if err == nil {
		t.Fatal("expected error starting nonexistent binary")
	}
	if sv.Status("app-2").State != StateFailed {
		t.Errorf("expected failed state, got %s", sv.Status("app-2").State)
	}
}

func TestStartFailsWhenNotInitialized(t *testing.T) {
	sv := newTestSupervisor()
	dir := t.TempDir()

	spec := Spec{
		WorkspaceID:  "app-uninit",
		WorkDir:      dir,
		StartCommand: []string{"sh", "-c", "sleep 30"},
		MarkerFile:   "package.json",
	}

	err := sv.Start(context.Background(), spec)
	if err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if sv.Status("app-uninit").State != StateFailed {
		t.Errorf("expected failed state, got %s", sv.Status("app-uninit").State)
	}
}

func TestIdleStatusForUnknownWorkspace(t *testing.T) {
	sv := newTestSupervisor()
	if sv.Status("never-started").State != StateIdle {
		t.Errorf("expected idle for unknown workspace")
	}
}

func TestStopOnNeverStartedIsNoop(t *testing.T) {
	sv := newTestSupervisor()
	if err := sv.Stop("nope", time.Second); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestStopPublishesTerminalLogLines(t *testing.T) {
	bus := logbus.New(64, 64)
	sv := New(portalloc.NewPool(19500, 4), bus, 5*time.Second)
	dir := t.TempDir()

	spec := Spec{
		WorkspaceID:  "app-logs",
		WorkDir:      dir,
		StartCommand: []string{"sh", "-c", "sleep 30"},
	}
	if err := sv.Start(context.Background(), spec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sv.Status("app-logs").State != StateRunning {
		time.Sleep(10 * time.Millisecond)
	}

	sub := bus.Subscribe("app-logs")
	defer bus.Unsubscribe("app-logs", sub)

	if err := sv.Stop("app-logs", time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	sawStop, sawExit := false, false
	timeout := time.After(2 * time.Second)
	for !sawStop || !sawExit {
		select {
		case line := <-sub.C():
			if strings.Contains(line.Text, "stopping process") {
				sawStop = true
			}
			if strings.Contains(line.Text, "process exited") {
				sawExit = true
			}
		case <-timeout:
			t.Fatalf("timed out waiting for terminal log lines (stop=%v exit=%v)", sawStop, sawExit)
		}
	}
}
