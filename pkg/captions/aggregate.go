package captions

import (
	"strings"
	"sync"
)

// UpdateListener is invoked after every accepted caption with a snapshot of
// the affected call's transcript state.
type UpdateListener func(callSID string, state TranscriptState)

// Aggregator merges accepted captions into per-call transcripts. Final
// captions are committed to the append-only history; interim captions only
// overwrite a transient display buffer, which the next final caption for the
// call replaces so the committed history never contains both.
type Aggregator struct {
	mu        sync.RWMutex
	calls     map[string]*callTranscript
	listeners []UpdateListener
}

type callTranscript struct {
	lines            []string
	latest           string
	interim          string
	detectedLanguage string
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{calls: make(map[string]*callTranscript)}
}

// OnUpdate registers a listener notified after each applied caption.
// Listeners are called synchronously in registration order, outside the
// aggregator's lock.
func (a *Aggregator) OnUpdate(fn UpdateListener) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// Apply merges a caption into the call's transcript and notifies listeners.
func (a *Aggregator) Apply(c *Caption) {
	if c == nil {
		return
	}

	a.mu.Lock()
	ct, ok := a.calls[c.CallSID]
	if !ok {
		ct = &callTranscript{}
		a.calls[c.CallSID] = ct
	}

	if c.Final {
		ct.lines = append(ct.lines, c.Text)
		ct.interim = ""
	} else {
		ct.interim = c.Text
	}
	ct.latest = c.Text
	if c.DetectedLanguage != "" {
		ct.detectedLanguage = c.DetectedLanguage
	}

	state := ct.snapshot()
	listeners := make([]UpdateListener, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(c.CallSID, state)
	}
}

// Snapshot returns the current transcript state for a call.
func (a *Aggregator) Snapshot(callSID string) (TranscriptState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ct, ok := a.calls[callSID]
	if !ok {
		return TranscriptState{}, false
	}
	return ct.snapshot(), true
}

// Transcript returns the committed history for a call, newline-joined.
func (a *Aggregator) Transcript(callSID string) string {
	state, _ := a.Snapshot(callSID)
	return state.Transcript
}

// Latest returns the most recent caption text for a call, interim or final.
// Low-latency consumers such as sign-animation matching read this.
func (a *Aggregator) Latest(callSID string) string {
	state, _ := a.Snapshot(callSID)
	return state.Latest
}

// Forget removes a call's transcript once its session ends.
func (a *Aggregator) Forget(callSID string) {
	a.mu.Lock()
	delete(a.calls, callSID)
	a.mu.Unlock()
}

func (ct *callTranscript) snapshot() TranscriptState {
	return TranscriptState{
		Transcript:       strings.Join(ct.lines, "\n"),
		Latest:           ct.latest,
		Interim:          ct.interim,
		DetectedLanguage: ct.detectedLanguage,
	}
}
