package mock

import (
	"fmt"
	"sync"
)

// RecordingLogger keeps every formatted line. It is safe for concurrent use.
type RecordingLogger struct {
	mu    sync.Mutex
	lines []string
	debug []string
}

// Printf implements gdelt.Logger.
func (l *RecordingLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

// Debugf implements gdelt.Logger. Debug lines are kept apart from Printf
// lines.
func (l *RecordingLogger) Debugf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = append(l.debug, fmt.Sprintf(format, v...))
}

// Lines returns the Printf lines.
func (l *RecordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// DebugLines returns the Debugf lines.
func (l *RecordingLogger) DebugLines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.debug...)
}
