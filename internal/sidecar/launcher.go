package sidecar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// EventKind discriminates entries on the backend's event stream.
type EventKind int

const (
	// EventStdout carries one line of the backend's standard output.
	EventStdout EventKind = iota
	// EventStderr carries one line of the backend's standard error.
	EventStderr
	// EventExited is the terminal event; the stream closes after it.
	EventExited
)

// Event is one entry on the backend's multiplexed output stream: stdout
// and stderr lines while the process runs, then a single exit event.
type Event struct {
	Kind EventKind
	Line string
	// ExitCode is set on EventExited when the exit status is known.
	ExitCode *int
}

// Handle is an owned reference to a spawned backend process.
type Handle interface {
	// PID returns the OS process id.
	PID() int
	// Signal sends sig to the process.
	Signal(sig os.Signal) error
	// Kill force-terminates the process.
	Kill() error
	// Done is closed once the process has exited and its streams drained.
	Done() <-chan struct{}
}

// Launcher is the spawn boundary. Implementations start the backend
// executable and hand back a handle plus its event stream.
type Launcher interface {
	Launch() (Handle, <-chan Event, error)
}

// ExecLauncher launches the configured backend executable with os/exec.
type ExecLauncher struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return h.cmd.Process.Signal(sig)
}

func (h *execHandle) Kill() error {
	if h.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return h.cmd.Process.Kill()
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

// Launch starts the backend process and returns its handle together with
// a stream of stdout/stderr lines terminated by a single exit event.
func (l *ExecLauncher) Launch() (Handle, <-chan Event, error) {
	if l.Command == "" {
		return nil, nil, fmt.Errorf("no backend command configured")
	}

	cmd := exec.Command(l.Command, l.Args...)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", l.Command, err)
	}

	handle := &execHandle{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	events := make(chan Event, 64)

	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(stdout, EventStdout, events, &wg)
	go scanLines(stderr, EventStderr, events, &wg)

	// Wait for the scanners to drain before reaping the process, then
	// emit the terminal event and close the stream.
	go func() {
		defer close(handle.done)
		defer close(events)

		wg.Wait()
		err := cmd.Wait()

		exit := Event{Kind: EventExited}
		if err == nil {
			code := 0
			exit.ExitCode = &code
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			if code >= 0 {
				exit.ExitCode = &code
			}
		}
		events <- exit
	}()

	return handle, events, nil
}

func scanLines(r io.Reader, kind EventKind, events chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		events <- Event{Kind: kind, Line: scanner.Text()}
	}
}
