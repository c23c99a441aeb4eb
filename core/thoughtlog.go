package core

import (
	"strings"
	"sync"
)

// ThoughtLog collects every line of model text an instance produces, in
// arrival order, so external observers can follow the reasoning of a running
// agent tree. Lines from child instances arrive over an at-least-once signal
// path; a per-sender sequence watermark drops duplicate deliveries.
type ThoughtLog struct {
	mu      sync.RWMutex
	lines   []string
	lastSeq map[string]uint64
}

// NewThoughtLog creates an empty thought log.
func NewThoughtLog() *ThoughtLog {
	return &ThoughtLog{lastSeq: make(map[string]uint64)}
}

// Append records a locally produced line. Local lines are ordered by the
// caller and need no dedup.
func (t *ThoughtLog) Append(line string) {
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
}

// Ingest records a line delivered from a remote sender. The line is kept only
// when seq advances the sender's watermark; redelivered or out-of-date
// signals are dropped. Reports whether the line was appended.
func (t *ThoughtLog) Ingest(sender string, seq uint64, line string) bool {
	if line == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq <= t.lastSeq[sender] {
		return false
	}
	t.lastSeq[sender] = seq
	t.lines = append(t.lines, line)
	return true
}

// Since returns a copy of the lines at positions >= watermark. A watermark at
// or past the end yields nil; a negative watermark yields the full log.
// Because the log is append-only, a reader advancing its watermark by the
// length of each result never observes a line twice.
func (t *ThoughtLog) Since(watermark int) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if watermark < 0 {
		watermark = 0
	}
	if watermark >= len(t.lines) {
		return nil
	}
	out := make([]string, len(t.lines)-watermark)
	copy(out, t.lines[watermark:])
	return out
}

// Len returns the number of recorded lines.
func (t *ThoughtLog) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.lines)
}

// ThoughtLines splits a block of model text into the individual lines a
// ThoughtLog records for it. Producers and consumers share this split so a
// reader can advance its watermark past a known block exactly.
func ThoughtLines(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
