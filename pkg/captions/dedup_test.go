package captions

import (
	"fmt"
	"testing"
)

func TestFilterSequenceIDDedup(t *testing.T) {
	f := NewFilter()

	first := &Caption{Text: "hello", SequenceID: "1", CallSID: "CA1"}
	if !f.Accept(first) {
		t.Fatal("expected first caption to be accepted")
	}
	if f.Accept(&Caption{Text: "hello again", SequenceID: "1", CallSID: "CA1"}) {
		t.Error("expected repeated sequence id to be rejected even with different text")
	}
	if !f.Accept(&Caption{Text: "hello", SequenceID: "2", CallSID: "CA1"}) {
		t.Error("expected same text with a new sequence id to be accepted")
	}
}

func TestFilterTextFallback(t *testing.T) {
	f := NewFilter()

	if !f.Accept(&Caption{Text: "one", CallSID: "CA1"}) {
		t.Fatal("expected first caption to be accepted")
	}
	if f.Accept(&Caption{Text: "one", CallSID: "CA1"}) {
		t.Error("expected back-to-back identical text to be rejected")
	}
	if f.Accept(&Caption{Text: "  one  ", CallSID: "CA1"}) {
		t.Error("expected whitespace variant of previous text to be rejected")
	}
	if !f.Accept(&Caption{Text: "two", CallSID: "CA1"}) {
		t.Error("expected new text to be accepted")
	}
	// Only consecutive repeats are suppressed without sequence ids.
	if !f.Accept(&Caption{Text: "one", CallSID: "CA1"}) {
		t.Error("expected non-consecutive repeat to be accepted")
	}
}

func TestFilterCallsAreIndependent(t *testing.T) {
	f := NewFilter()

	if !f.Accept(&Caption{Text: "hi", SequenceID: "1", CallSID: "CA1"}) {
		t.Fatal("expected caption on first call to be accepted")
	}
	if !f.Accept(&Caption{Text: "hi", SequenceID: "1", CallSID: "CA2"}) {
		t.Error("expected the same sequence id on another call to be accepted")
	}
}

func TestFilterInterimAndFinalShareHistory(t *testing.T) {
	f := NewFilter()

	if !f.Accept(&Caption{Text: "so far", SequenceID: "5", Final: false, CallSID: "CA1"}) {
		t.Fatal("expected interim caption to be accepted")
	}
	if f.Accept(&Caption{Text: "so far", SequenceID: "5", Final: true, CallSID: "CA1"}) {
		t.Error("expected final caption with a seen sequence id to be rejected")
	}
}

func TestFilterEvictsOldestSequenceIDs(t *testing.T) {
	f := &Filter{capacity: 3, calls: make(map[string]*callHistory)}

	for i := 1; i <= 4; i++ {
		c := &Caption{Text: "t", SequenceID: fmt.Sprintf("%d", i), CallSID: "CA1"}
		if !f.Accept(c) {
			t.Fatalf("expected sequence id %d to be accepted", i)
		}
	}

	// "1" fell out of the window, so it reads as new again.
	if !f.Accept(&Caption{Text: "t", SequenceID: "1", CallSID: "CA1"}) {
		t.Error("expected evicted sequence id to be accepted again")
	}
	// "4" is still inside the window.
	if f.Accept(&Caption{Text: "t", SequenceID: "4", CallSID: "CA1"}) {
		t.Error("expected in-window sequence id to be rejected")
	}
}

func TestFilterReset(t *testing.T) {
	f := NewFilter()

	f.Accept(&Caption{Text: "hello", SequenceID: "1", CallSID: "CA1"})
	f.Reset("CA1")

	if !f.Accept(&Caption{Text: "hello", SequenceID: "1", CallSID: "CA1"}) {
		t.Error("expected caption to be accepted after reset")
	}
}

func TestFilterNilCaption(t *testing.T) {
	f := NewFilter()
	if f.Accept(nil) {
		t.Error("expected nil caption to be rejected")
	}
}
