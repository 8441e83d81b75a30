package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnvinX1/qkd-LAB/pkg/models"
)

// fakeHandle simulates a backend process that exits when signalled.
type fakeHandle struct {
	mu      sync.Mutex
	signals []os.Signal
	kills   int
	done    chan struct{}
	events  chan Event
	exited  bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		done:   make(chan struct{}),
		events: make(chan Event, 16),
	}
}

func (h *fakeHandle) PID() int { return 4242 }

func (h *fakeHandle) Signal(sig os.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.exited {
		return errors.New("os: process already finished")
	}
	h.signals = append(h.signals, sig)
	h.exitLocked(nil)
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.exited {
		return errors.New("os: process already finished")
	}
	h.kills++
	h.exitLocked(nil)
	return nil
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

// emit pushes a stdout line onto the stream.
func (h *fakeHandle) emit(line string) {
	h.events <- Event{Kind: EventStdout, Line: line}
}

// exit simulates natural process termination with the given code.
func (h *fakeHandle) exit(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exitLocked(&code)
}

func (h *fakeHandle) exitLocked(code *int) {
	if h.exited {
		return
	}
	h.exited = true
	h.events <- Event{Kind: EventExited, ExitCode: code}
	close(h.events)
	close(h.done)
}

func (h *fakeHandle) terminationCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.signals) + h.kills
}

type fakeLauncher struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	launchErr error
}

func (l *fakeLauncher) Launch() (Handle, <-chan Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.launchErr != nil {
		return nil, nil, l.launchErr
	}
	h := newFakeHandle()
	l.handles = append(l.handles, h)
	return h, h.events, nil
}

func (l *fakeLauncher) last() *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.handles) == 0 {
		return nil
	}
	return l.handles[len(l.handles)-1]
}

// memoryRecorder collects journal events in memory.
type memoryRecorder struct {
	mu     sync.Mutex
	events []*models.BackendEvent
}

func (m *memoryRecorder) Append(ev *models.BackendEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryRecorder) kinds() []models.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kinds []models.EventKind
	for _, ev := range m.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func setupTestSupervisor(t *testing.T) (*Supervisor, *fakeLauncher, *memoryRecorder) {
	t.Helper()

	launcher := &fakeLauncher{}
	recorder := &memoryRecorder{}
	sup := New(Config{
		Launcher: launcher,
		// No backend is listening during tests. The budget is large so
		// the prober never forces readiness mid-test; Shutdown reaps it.
		Endpoints:      []string{"http://127.0.0.1:1/health"},
		InitialDelay:   50 * time.Millisecond,
		MaxDelay:       100 * time.Millisecond,
		MaxAttempts:    1000,
		TerminateGrace: time.Second,
		Journal:        recorder,
	})
	return sup, launcher, recorder
}

func TestSupervisorStartTwice(t *testing.T) {
	_, restore := captureStdLogger(t)
	defer restore()

	sup, _, _ := setupTestSupervisor(t)
	defer sup.Shutdown()

	if err := sup.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	if err := sup.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSupervisorSpawnFailureIsRecoverable(t *testing.T) {
	_, restore := captureStdLogger(t)
	defer restore()

	launcher := &fakeLauncher{launchErr: fmt.Errorf("executable not found")}
	sup := New(Config{Launcher: launcher})

	err := sup.Start()
	if err == nil {
		t.Fatal("Expected spawn failure to surface as an error")
	}
	if !strings.Contains(err.Error(), "failed to spawn backend") {
		t.Errorf("Expected descriptive spawn error, got %v", err)
	}

	// The supervisor stays usable: a later Start may succeed.
	launcher.mu.Lock()
	launcher.launchErr = nil
	launcher.mu.Unlock()

	if err := sup.Start(); err != nil {
		t.Errorf("Expected retry after spawn failure to work, got %v", err)
	}
	sup.Shutdown()
}

func TestSupervisorTerminateTwiceKillsOnce(t *testing.T) {
	_, restore := captureStdLogger(t)
	defer restore()

	sup, launcher, _ := setupTestSupervisor(t)

	if err := sup.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	handle := launcher.last()

	sup.Terminate()
	sup.Terminate()

	if got := handle.terminationCount(); got != 1 {
		t.Errorf("Expected exactly one kill signal, got %d", got)
	}
	sup.Shutdown()
}

func TestSupervisorTerminateBeforeStartIsNoOp(t *testing.T) {
	_, restore := captureStdLogger(t)
	defer restore()

	sup, launcher, _ := setupTestSupervisor(t)

	sup.Terminate()

	if launcher.last() != nil {
		t.Error("Expected no process to exist")
	}
}

func TestSupervisorReadyFromOutputLine(t *testing.T) {
	_, restore := captureStdLogger(t)
	defer restore()

	sup, launcher, recorder := setupTestSupervisor(t)
	defer sup.Shutdown()

	if err := sup.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if sup.Ready() {
		t.Error("Expected NotReady right after spawn")
	}

	launcher.last().emit("INFO: Uvicorn running on http://0.0.0.0:8000")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.WaitReady(ctx); err != nil {
		t.Fatalf("Expected readiness from output marker, got %v", err)
	}

	status := sup.Status()
	if !status.Ready {
		t.Error("Expected status to report ready")
	}
	if status.Phase != models.BackendPhaseReady {
		t.Errorf("Expected ready phase, got %s", status.Phase)
	}
	if status.PID != 4242 {
		t.Errorf("Expected PID in status, got %d", status.PID)
	}

	// spawned then ready must both be journaled.
	deadline := time.Now().Add(time.Second)
	for {
		kinds := recorder.kinds()
		if containsKind(kinds, models.EventSpawned) && containsKind(kinds, models.EventReady) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected spawned+ready events, got %v", kinds)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSupervisorForcedReadyAfterProbeBudget(t *testing.T) {
	_, restore := captureStdLogger(t)
	defer restore()

	launcher := &fakeLauncher{}
	recorder := &memoryRecorder{}
	sup := New(Config{
		Launcher:       launcher,
		Endpoints:      []string{"http://127.0.0.1:1/health"},
		InitialDelay:   time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		MaxAttempts:    3,
		TerminateGrace: time.Second,
		Journal:        recorder,
	})
	defer sup.Shutdown()

	if err := sup.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	// No output marker and no live endpoint: the prober exhausts its
	// budget and forces readiness so the host never blocks.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.WaitReady(ctx); err != nil {
		t.Fatalf("Expected forced readiness, got %v", err)
	}

	status := sup.Status()
	if status.Phase != models.BackendPhaseDegraded {
		t.Errorf("Expected degraded phase after forced readiness, got %s", status.Phase)
	}

	deadline := time.Now().Add(time.Second)
	for !containsKind(recorder.kinds(), models.EventProbeTimeout) {
		if time.Now().After(deadline) {
			t.Fatalf("Expected probe_timeout event, got %v", recorder.kinds())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSupervisorProcessExit(t *testing.T) {
	_, restore := captureStdLogger(t)
	defer restore()

	sup, launcher, recorder := setupTestSupervisor(t)
	defer sup.Shutdown()

	if err := sup.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	launcher.last().exit(2)

	deadline := time.Now().Add(time.Second)
	for sup.Status().Phase != models.BackendPhaseExited {
		if time.Now().After(deadline) {
			t.Fatalf("Expected exited phase, got %s", sup.Status().Phase)
		}
		time.Sleep(5 * time.Millisecond)
	}

	status := sup.Status()
	if status.ExitCode == nil || *status.ExitCode != 2 {
		t.Errorf("Expected exit code 2 in status, got %v", status.ExitCode)
	}
	if !containsKind(recorder.kinds(), models.EventExited) {
		t.Errorf("Expected exited event, got %v", recorder.kinds())
	}
}

func TestSupervisorWaitReadyBeforeStart(t *testing.T) {
	sup, _, _ := setupTestSupervisor(t)

	if err := sup.WaitReady(context.Background()); err == nil {
		t.Error("Expected error waiting before start")
	}
	if sup.Ready() {
		t.Error("Expected NotReady before start")
	}
	if sup.Status().Phase != models.BackendPhaseStopped {
		t.Errorf("Expected stopped phase, got %s", sup.Status().Phase)
	}
}

func containsKind(kinds []models.EventKind, want models.EventKind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
