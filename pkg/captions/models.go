// Package captions implements the subscriber side of the caption relay
// protocol: a managed WebSocket connection, tolerant message normalization,
// deduplication, and per-call transcript aggregation.
package captions

// Caption is a normalized transcription unit extracted from a relay message.
// Text is always non-empty and trimmed; a payload with no extractable text
// never produces a Caption.
type Caption struct {
	Text             string
	Timestamp        int64 // unix milliseconds, capture time when absent upstream
	Final            bool
	SequenceID       string
	CallSID          string
	DetectedLanguage string
}

// State represents the connection state of a Client.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateError        State = "ERROR"
)

// TranscriptState is a read-only snapshot of the aggregated transcript for
// one call.
type TranscriptState struct {
	Transcript       string // newline-joined committed history
	Latest           string // most recent caption text, interim or final
	Interim          string // uncommitted interim text, empty once finalized
	DetectedLanguage string
}
