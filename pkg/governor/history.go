package governor

import (
	"sync"
	"time"
)

// historyRetention bounds how long recorded actions are kept. One hour
// covers every loop and rate window the engine supports.
const historyRetention = time.Hour

type historyEntry struct {
	at          time.Time
	tool        string
	op          string
	fingerprint string
}

// actionHistory is the sliding window the engine consults for loop and
// rate checks. Safe for concurrent use.
type actionHistory struct {
	mu      sync.Mutex
	entries []historyEntry
}

func newActionHistory() *actionHistory {
	return &actionHistory{}
}

// Record appends an entry and prunes everything older than the
// retention horizon.
func (h *actionHistory) Record(at time.Time, tool, op, fingerprint string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, historyEntry{at: at, tool: tool, op: op, fingerprint: fingerprint})

	cutoff := at.Add(-historyRetention)
	kept := h.entries[:0]
	for _, e := range h.entries {
		if !e.at.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// CountSince counts every entry at or after the cutoff.
func (h *actionHistory) CountSince(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, e := range h.entries {
		if !e.at.Before(cutoff) {
			n++
		}
	}
	return n
}

// CountMatchingSince counts entries with the same tool, op, and params
// fingerprint at or after the cutoff.
func (h *actionHistory) CountMatchingSince(cutoff time.Time, tool, op, fingerprint string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, e := range h.entries {
		if !e.at.Before(cutoff) && e.tool == tool && e.op == op && e.fingerprint == fingerprint {
			n++
		}
	}
	return n
}

// Len reports the current window size.
func (h *actionHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
