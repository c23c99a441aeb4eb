package core

import "sync"

// Conversation is the append-only entry history owned by a single agent
// instance. Entries are never removed or reordered. A delta offset records
// where the current exchange began so child instances can return exactly the
// entries they contributed.
//
// The control loop is the only writer during dispatch, but prompt handlers
// append from their own goroutines, so all access is guarded.
type Conversation struct {
	mu          sync.RWMutex
	entries     []Content
	deltaOffset int
}

// NewConversation creates a conversation seeded with the given entries. The
// seed is copied; the caller keeps ownership of its slice.
func NewConversation(seed []Content) *Conversation {
	c := &Conversation{entries: make([]Content, 0, len(seed)+8)}
	for _, e := range seed {
		c.entries = append(c.entries, e.Clone())
	}
	return c
}

// Append adds an entry to the end of the history.
func (c *Conversation) Append(entry Content) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry.Clone())
}

// Len returns the number of entries.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns a deep copy of the full history.
func (c *Conversation) Entries() []Content {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneEntries(c.entries)
}

// MarkDelta records the current length as the start of the active exchange.
// A subsequent Delta returns only entries appended after this point.
func (c *Conversation) MarkDelta() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltaOffset = len(c.entries)
}

// Delta returns a deep copy of the entries appended since the last MarkDelta
// (or since creation if MarkDelta was never called).
func (c *Conversation) Delta() []Content {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.deltaOffset >= len(c.entries) {
		return nil
	}
	return cloneEntries(c.entries[c.deltaOffset:])
}

// Clone returns an independent copy of the conversation, including the delta
// offset.
func (c *Conversation) Clone() *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Conversation{
		entries:     cloneEntries(c.entries),
		deltaOffset: c.deltaOffset,
	}
}

func cloneEntries(entries []Content) []Content {
	out := make([]Content, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
