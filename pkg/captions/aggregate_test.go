package captions

import (
	"testing"
)

func TestAggregatorCommitsFinals(t *testing.T) {
	a := NewAggregator()

	a.Apply(&Caption{Text: "hello", Final: true, CallSID: "CA1"})
	a.Apply(&Caption{Text: "how are you", Final: true, CallSID: "CA1"})

	if got := a.Transcript("CA1"); got != "hello\nhow are you" {
		t.Errorf("expected committed transcript, got %q", got)
	}
	if got := a.Latest("CA1"); got != "how are you" {
		t.Errorf("expected latest 'how are you', got %q", got)
	}
}

func TestAggregatorInterimDoesNotCommit(t *testing.T) {
	a := NewAggregator()

	a.Apply(&Caption{Text: "hello", Final: true, CallSID: "CA1"})
	a.Apply(&Caption{Text: "how ar", Final: false, CallSID: "CA1"})

	state, ok := a.Snapshot("CA1")
	if !ok {
		t.Fatal("expected snapshot for call")
	}
	if state.Transcript != "hello" {
		t.Errorf("expected interim to stay out of committed history, got %q", state.Transcript)
	}
	if state.Interim != "how ar" {
		t.Errorf("expected interim buffer 'how ar', got %q", state.Interim)
	}
	if state.Latest != "how ar" {
		t.Errorf("expected latest to track interim, got %q", state.Latest)
	}
}

func TestAggregatorFinalReplacesInterim(t *testing.T) {
	a := NewAggregator()

	a.Apply(&Caption{Text: "how ar", Final: false, CallSID: "CA1"})
	a.Apply(&Caption{Text: "how are you", Final: true, CallSID: "CA1"})

	state, _ := a.Snapshot("CA1")
	if state.Interim != "" {
		t.Errorf("expected interim cleared by final, got %q", state.Interim)
	}
	if state.Transcript != "how are you" {
		t.Errorf("expected final committed once, got %q", state.Transcript)
	}
}

func TestAggregatorPerCallIsolation(t *testing.T) {
	a := NewAggregator()

	a.Apply(&Caption{Text: "call one", Final: true, CallSID: "CA1"})
	a.Apply(&Caption{Text: "call two", Final: true, CallSID: "CA2"})

	if got := a.Transcript("CA1"); got != "call one" {
		t.Errorf("expected CA1 transcript isolated, got %q", got)
	}
	if got := a.Transcript("CA2"); got != "call two" {
		t.Errorf("expected CA2 transcript isolated, got %q", got)
	}
}

func TestAggregatorDetectedLanguageSticks(t *testing.T) {
	a := NewAggregator()

	a.Apply(&Caption{Text: "hola", Final: true, CallSID: "CA1", DetectedLanguage: "es-MX"})
	a.Apply(&Caption{Text: "que tal", Final: true, CallSID: "CA1"})

	state, _ := a.Snapshot("CA1")
	if state.DetectedLanguage != "es-MX" {
		t.Errorf("expected detected language to persist, got %q", state.DetectedLanguage)
	}
}

func TestAggregatorNotifiesListeners(t *testing.T) {
	a := NewAggregator()

	var calls []TranscriptState
	a.OnUpdate(func(callSID string, state TranscriptState) {
		if callSID != "CA1" {
			t.Errorf("expected call sid CA1, got %q", callSID)
		}
		calls = append(calls, state)
	})

	a.Apply(&Caption{Text: "one", Final: true, CallSID: "CA1"})
	a.Apply(&Caption{Text: "tw", Final: false, CallSID: "CA1"})

	if len(calls) != 2 {
		t.Fatalf("expected 2 listener calls, got %d", len(calls))
	}
	if calls[0].Transcript != "one" {
		t.Errorf("expected first snapshot transcript 'one', got %q", calls[0].Transcript)
	}
	if calls[1].Interim != "tw" {
		t.Errorf("expected second snapshot interim 'tw', got %q", calls[1].Interim)
	}
}

func TestAggregatorForget(t *testing.T) {
	a := NewAggregator()

	a.Apply(&Caption{Text: "hello", Final: true, CallSID: "CA1"})
	a.Forget("CA1")

	if _, ok := a.Snapshot("CA1"); ok {
		t.Error("expected no snapshot after Forget")
	}
	if got := a.Transcript("CA1"); got != "" {
		t.Errorf("expected empty transcript after Forget, got %q", got)
	}
}
