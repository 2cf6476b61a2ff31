package captions

import "strings"

// defaultSeenCapacity bounds the per-call sequence-id history. Entries are
// evicted in insertion order once the window is full.
const defaultSeenCapacity = 512

// Filter rejects captions that repeat information already delivered for a
// call. Captions carrying a sequence id are matched against the id history;
// captions without one fall back to comparing against the previous caption's
// text. Finality never gates deduplication: an interim and a later final with
// the same text are distinct unless their sequence ids match.
//
// Filter is not safe for concurrent use; the Client drives it from its single
// read loop.
type Filter struct {
	capacity int
	calls    map[string]*callHistory
}

type callHistory struct {
	seen     map[string]struct{}
	order    []string
	lastText string
}

// NewFilter creates a filter with the default history window.
func NewFilter() *Filter {
	return &Filter{
		capacity: defaultSeenCapacity,
		calls:    make(map[string]*callHistory),
	}
}

// Accept reports whether the caption carries new information, recording it
// when it does.
func (f *Filter) Accept(c *Caption) bool {
	if c == nil {
		return false
	}

	hist, ok := f.calls[c.CallSID]
	if !ok {
		hist = &callHistory{seen: make(map[string]struct{})}
		f.calls[c.CallSID] = hist
	}

	text := strings.TrimSpace(c.Text)

	if c.SequenceID != "" {
		if _, dup := hist.seen[c.SequenceID]; dup {
			return false
		}
		hist.record(c.SequenceID, f.capacity)
		hist.lastText = text
		return true
	}

	if text == hist.lastText {
		return false
	}
	hist.lastText = text
	return true
}

// Reset drops all history for a call, typically when its session ends.
func (f *Filter) Reset(callSID string) {
	delete(f.calls, callSID)
}

func (h *callHistory) record(id string, capacity int) {
	h.seen[id] = struct{}{}
	h.order = append(h.order, id)
	for len(h.order) > capacity {
		delete(h.seen, h.order[0])
		h.order = h.order[1:]
	}
}
