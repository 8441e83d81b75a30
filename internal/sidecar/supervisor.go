package sidecar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/AnvinX1/qkd-LAB/pkg/models"
)

const defaultTerminateGrace = 5 * time.Second

// ErrAlreadyStarted is returned by Start while a backend is installed.
var ErrAlreadyStarted = errors.New("backend already started")

// Recorder persists backend lifecycle events.
type Recorder interface {
	Append(event *models.BackendEvent) error
}

// Config holds supervisor configuration.
type Config struct {
	Launcher  Launcher
	Markers   []string
	Endpoints []string

	InitialDelay   time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	ProbeTimeout   time.Duration
	TerminateGrace time.Duration

	HTTPClient *http.Client
	Journal    Recorder
}

// Supervisor owns the backend's lifecycle end to end: it spawns the
// process, wires the output monitor and health prober against one shared
// readiness flag, and exposes the single-shot termination path for the
// host's shutdown hook. All backend state lives behind one mutex.
type Supervisor struct {
	cfg Config

	mu        sync.Mutex
	handle    Handle
	runID     string
	pid       int
	startedAt *time.Time
	phase     models.BackendPhase
	exitCode  *int
	readiness *Readiness

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor. It does not spawn anything until Start.
func New(cfg Config) *Supervisor {
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = defaultTerminateGrace
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		cfg:    cfg,
		phase:  models.BackendPhaseStopped,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start spawns the backend and launches the output monitor and health
// prober against a fresh readiness flag. A spawn failure is returned to
// the caller, never fatal to the host. Calling Start while a backend is
// installed returns ErrAlreadyStarted.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return ErrAlreadyStarted
	}
	if s.cfg.Launcher == nil {
		return fmt.Errorf("no launcher configured")
	}

	handle, events, err := s.cfg.Launcher.Launch()
	if err != nil {
		return fmt.Errorf("failed to spawn backend: %w", err)
	}

	now := time.Now()
	s.handle = handle
	s.runID = generateRunID()
	s.pid = handle.PID()
	s.startedAt = &now
	s.phase = models.BackendPhaseStarting
	s.exitCode = nil
	s.readiness = NewReadiness()

	log.Printf("backend_event=spawned run_id=%s pid=%d", s.runID, s.pid)
	s.record(s.runID, s.pid, models.EventSpawned, nil, "")

	monitor := &OutputMonitor{
		RunID:     s.runID,
		Markers:   s.cfg.Markers,
		Readiness: s.readiness,
		OnReady:   s.onReady,
		OnExit:    s.onExit,
	}

	prober := &HealthProber{
		RunID:        s.runID,
		Endpoints:    s.cfg.Endpoints,
		Readiness:    s.readiness,
		InitialDelay: s.cfg.InitialDelay,
		MaxDelay:     s.cfg.MaxDelay,
		MaxAttempts:  s.cfg.MaxAttempts,
		Timeout:      s.cfg.ProbeTimeout,
		Client:       s.cfg.HTTPClient,
		OnReady:      s.onReady,
		OnTimeout:    s.onProbeTimeout,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		monitor.Run(events)
	}()
	go func() {
		defer s.wg.Done()
		prober.Run(s.ctx)
	}()

	return nil
}

// Terminate kills the backend if one is installed. The handle is taken
// out of the shared state first, so a second call finds nothing and is a
// silent no-op. Kill failures are logged, not escalated: the process is
// going away regardless.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	runID := s.runID
	pid := s.pid
	s.mu.Unlock()

	if handle == nil {
		return
	}

	log.Printf("backend_event=terminating run_id=%s pid=%d", runID, handle.PID())

	// SIGTERM first, then force kill after the grace period.
	if err := handle.Signal(syscall.SIGTERM); err != nil {
		log.Printf("Warning: failed to signal backend (process may be dead): %v", err)
	}
	select {
	case <-handle.Done():
	case <-time.After(s.cfg.TerminateGrace):
		if err := handle.Kill(); err != nil {
			log.Printf("Warning: failed to kill backend: %v", err)
		}
	}

	s.record(runID, pid, models.EventTerminated, nil, "")
	log.Printf("backend_event=terminated run_id=%s", runID)
}

// Shutdown terminates the backend and waits for the monitor and prober
// to wind down.
func (s *Supervisor) Shutdown() {
	s.Terminate()
	s.cancel()
	s.wg.Wait()
}

// Ready reports whether the backend has been confirmed (or forced) ready.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	r := s.readiness
	s.mu.Unlock()

	return r != nil && r.Ready()
}

// WaitReady blocks until the backend is ready or ctx is cancelled.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	r := s.readiness
	s.mu.Unlock()

	if r == nil {
		return fmt.Errorf("backend not started")
	}
	return r.Wait(ctx)
}

// Wait blocks until the monitor and prober have both finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Status returns a snapshot of the supervised backend.
func (s *Supervisor) Status() models.BackendStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := models.BackendStatus{
		RunID:    s.runID,
		Phase:    s.phase,
		Ready:    s.readiness != nil && s.readiness.Ready(),
		ExitCode: s.exitCode,
	}
	if s.handle != nil {
		status.PID = s.pid
		status.StartedAt = s.startedAt
		if s.startedAt != nil {
			status.Uptime = time.Since(*s.startedAt).Truncate(time.Millisecond).String()
		}
	}
	return status
}

func (s *Supervisor) onReady(source string) {
	s.mu.Lock()
	if s.phase == models.BackendPhaseStarting {
		s.phase = models.BackendPhaseReady
	}
	runID, pid := s.runID, s.pid
	s.mu.Unlock()

	s.record(runID, pid, models.EventReady, nil, source)
}

func (s *Supervisor) onProbeTimeout() {
	s.mu.Lock()
	if s.phase == models.BackendPhaseStarting {
		s.phase = models.BackendPhaseDegraded
	}
	runID, pid := s.runID, s.pid
	s.mu.Unlock()

	s.record(runID, pid, models.EventProbeTimeout, nil, "readiness forced after probe budget")
}

func (s *Supervisor) onExit(exitCode *int, sawReady bool) {
	s.mu.Lock()
	s.phase = models.BackendPhaseExited
	s.exitCode = exitCode
	runID, pid := s.runID, s.pid
	s.mu.Unlock()

	detail := ""
	if !sawReady {
		detail = "exited without startup confirmation"
	}
	s.record(runID, pid, models.EventExited, exitCode, detail)
}

// record appends a journal event. It takes the run identity as arguments
// so callers can invoke it with or without holding the state mutex.
func (s *Supervisor) record(runID string, pid int, kind models.EventKind, exitCode *int, detail string) {
	if s.cfg.Journal == nil {
		return
	}

	err := s.cfg.Journal.Append(&models.BackendEvent{
		ID:        generateEventID(),
		RunID:     runID,
		Kind:      kind,
		PID:       pid,
		ExitCode:  exitCode,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	if err != nil {
		log.Printf("Warning: failed to record backend event %s: %v", kind, err)
	}
}

func generateRunID() string {
	return fmt.Sprintf("run-%s", uuid.New().String()[:8])
}

func generateEventID() string {
	return fmt.Sprintf("ev-%s", uuid.New().String()[:8])
}
