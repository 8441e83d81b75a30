package sidecar

import (
	"fmt"
	"log"
	"strings"
)

// DefaultReadyMarkers are the stdout substrings that signal the backend
// finished initializing. Uvicorn prints the first; the bundled server
// entry prints the other two in its startup banner.
var DefaultReadyMarkers = []string{
	"Uvicorn running on",
	"Listening on",
	"API Docs",
}

// OutputMonitor consumes the backend's event stream, watching stdout for
// readiness markers and surfacing stderr as diagnostics. It exits when
// the stream ends.
type OutputMonitor struct {
	RunID     string
	Markers   []string
	Readiness *Readiness

	// OnReady fires if a marker made the NotReady->Ready transition.
	OnReady func(marker string)
	// OnExit fires on the terminal stream event.
	OnExit func(exitCode *int, sawReady bool)
}

// Run consumes events until the stream closes. Stream end is a normal
// exit condition, never an error.
func (m *OutputMonitor) Run(events <-chan Event) {
	markers := m.Markers
	if len(markers) == 0 {
		markers = DefaultReadyMarkers
	}

	sawReady := false

	for ev := range events {
		switch ev.Kind {
		case EventStdout:
			log.Printf("backend_event=stdout run_id=%s line=%q", m.RunID, ev.Line)

			if sawReady {
				continue
			}
			if marker := matchMarker(ev.Line, markers); marker != "" {
				sawReady = true
				log.Printf("backend_event=ready_signal run_id=%s marker=%q", m.RunID, marker)
				if m.Readiness.Set() && m.OnReady != nil {
					m.OnReady(marker)
				}
			}

		case EventStderr:
			log.Printf("backend_event=stderr run_id=%s line=%q", m.RunID, ev.Line)

		case EventExited:
			exitCode := ""
			if ev.ExitCode != nil {
				exitCode = fmt.Sprintf("%d", *ev.ExitCode)
			}
			log.Printf("backend_event=exited run_id=%s exit_code=%s", m.RunID, exitCode)

			if !sawReady {
				log.Printf("Warning: backend exited without startup confirmation run_id=%s", m.RunID)
			}
			if m.OnExit != nil {
				m.OnExit(ev.ExitCode, sawReady)
			}
		}
	}
}

func matchMarker(line string, markers []string) string {
	for _, marker := range markers {
		if strings.Contains(line, marker) {
			return marker
		}
	}
	return ""
}
