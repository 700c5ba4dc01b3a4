// Package runlog provides a per-run log accumulator. Every pipeline run
// collects its structured log lines into a Buffer and flushes them to the
// execution log exactly once at run end, so diagnostics survive even a
// failed run.
package runlog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Entry is a single structured log record within a run.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Buffer accumulates log entries for one run.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
}

// NewBuffer creates an empty run log buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Infof appends an info-level entry.
func (b *Buffer) Infof(format string, args ...interface{}) {
	b.append("info", fmt.Sprintf(format, args...))
}

// Warnf appends a warning-level entry.
func (b *Buffer) Warnf(format string, args ...interface{}) {
	b.append("warn", fmt.Sprintf(format, args...))
}

// Errorf appends an error-level entry.
func (b *Buffer) Errorf(format string, args ...interface{}) {
	b.append("error", fmt.Sprintf(format, args...))
}

func (b *Buffer) append(level, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Message:   msg,
	})
}

// Entries returns a copy of the accumulated entries in append order.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// MarshalEntries serializes entries for durable storage.
func MarshalEntries(entries []Entry) (string, error) {
	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode run log: %w", err)
	}
	return string(b), nil
}
