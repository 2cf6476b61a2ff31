package captions

import (
	"testing"

	"github.com/linzo/caption-relay/pkg/logger"
)

func testNormalizer() *Normalizer {
	return NewNormalizer(logger.NewNop())
}

func TestNormalizeCanonicalShape(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize([]byte(`{"text":"hello there","timestamp":1712000000123,"final":true,"sequenceId":"7","callSid":"CA123"}`))
	if c == nil {
		t.Fatal("expected a caption, got nil")
	}
	if c.Text != "hello there" {
		t.Errorf("expected text 'hello there', got %q", c.Text)
	}
	if c.Timestamp != 1712000000123 {
		t.Errorf("expected upstream timestamp preserved, got %d", c.Timestamp)
	}
	if !c.Final {
		t.Error("expected final caption")
	}
	if c.SequenceID != "7" {
		t.Errorf("expected sequence id '7', got %q", c.SequenceID)
	}
	if c.CallSID != "CA123" {
		t.Errorf("expected call sid 'CA123', got %q", c.CallSID)
	}
}

func TestNormalizeTextFieldDefaultsFinal(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize([]byte(`{"text":"partial words"}`))
	if c == nil {
		t.Fatal("expected a caption, got nil")
	}
	if !c.Final {
		t.Error("expected caption without final flag to default to final")
	}
	if c.Timestamp == 0 {
		t.Error("expected capture timestamp to be filled in")
	}
}

func TestNormalizeTranscriptShapes(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"transcript key", `{"transcript":"alpha","confidence":0.92}`, "alpha"},
		{"transcription key", `{"transcription":"bravo","sequenceId":"3"}`, "bravo"},
		{"relay wire shape", `{"transcription":"charlie","sequenceId":"4","callSid":"CA9"}`, "charlie"},
		{"message key", `{"message":"delta"}`, "delta"},
		{"content key", `{"content":"echo"}`, "echo"},
		{"plain string", `"foxtrot"`, "foxtrot"},
		{"whitespace trimmed", `{"text":"  golf  "}`, "golf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := n.Normalize([]byte(tt.payload))
			if c == nil {
				t.Fatalf("expected a caption for %s", tt.payload)
			}
			if c.Text != tt.want {
				t.Errorf("expected text %q, got %q", tt.want, c.Text)
			}
		})
	}
}

func TestNormalizeInterimFlag(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize([]byte(`{"transcript":"still talking","final":false}`))
	if c == nil {
		t.Fatal("expected a caption, got nil")
	}
	if c.Final {
		t.Error("expected interim caption")
	}
}

func TestNormalizeSpeechAPIResults(t *testing.T) {
	n := testNormalizer()

	payload := `{"results":[{"alternatives":[{"transcript":"nested transcript","confidence":0.88}]}]}`
	c := n.Normalize([]byte(payload))
	if c == nil {
		t.Fatal("expected a caption, got nil")
	}
	if c.Text != "nested transcript" {
		t.Errorf("expected nested transcript, got %q", c.Text)
	}
}

func TestNormalizeNonJSONFrame(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize([]byte("just plain words"))
	if c == nil {
		t.Fatal("expected a caption, got nil")
	}
	if c.Text != "just plain words" {
		t.Errorf("expected raw text caption, got %q", c.Text)
	}
}

func TestNormalizeRejectsEmptyPayloads(t *testing.T) {
	n := testNormalizer()

	for _, payload := range []string{
		`{}`,
		`{"text":""}`,
		`{"text":"   "}`,
		`{"confidence":0.5}`,
		`   `,
		`null`,
		`42`,
	} {
		if c := n.Normalize([]byte(payload)); c != nil {
			t.Errorf("expected nil for payload %q, got caption %q", payload, c.Text)
		}
	}
}

func TestNormalizeDetectedLanguage(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize([]byte(`{"transcript":"hola","detectedLanguage":"es-MX"}`))
	if c == nil {
		t.Fatal("expected a caption, got nil")
	}
	if c.DetectedLanguage != "es-MX" {
		t.Errorf("expected detected language 'es-MX', got %q", c.DetectedLanguage)
	}

	c = n.Normalize([]byte(`{"transcript":"bonjour","languageCode":"fr-FR"}`))
	if c == nil {
		t.Fatal("expected a caption, got nil")
	}
	if c.DetectedLanguage != "fr-FR" {
		t.Errorf("expected detected language 'fr-FR', got %q", c.DetectedLanguage)
	}
}

func TestNormalizeNumericSequenceID(t *testing.T) {
	n := testNormalizer()

	c := n.Normalize([]byte(`{"transcript":"hello","sequenceId":12}`))
	if c == nil {
		t.Fatal("expected a caption, got nil")
	}
	if c.SequenceID != "12" {
		t.Errorf("expected numeric sequence id formatted as '12', got %q", c.SequenceID)
	}
}

func TestExtractTextCandidateKeyOrder(t *testing.T) {
	// transcription outranks text regardless of map iteration order.
	v := map[string]any{
		"text":          "loser",
		"transcription": "winner",
	}
	if got := ExtractText(v); got != "winner" {
		t.Errorf("expected candidate key order to pick 'winner', got %q", got)
	}
}

func TestExtractTextRecursesIntoUnknownKeys(t *testing.T) {
	v := map[string]any{
		"meta": map[string]any{"count": float64(3)},
		"payload": map[string]any{
			"inner": map[string]any{"text": "buried"},
		},
	}
	if got := ExtractText(v); got != "buried" {
		t.Errorf("expected recursive extraction to find 'buried', got %q", got)
	}
}

func TestExtractTextArrays(t *testing.T) {
	v := []any{
		map[string]any{"confidence": 0.1},
		map[string]any{"transcript": "from array"},
	}
	if got := ExtractText(v); got != "from array" {
		t.Errorf("expected 'from array', got %q", got)
	}
}

func TestExtractTextNothingFound(t *testing.T) {
	v := map[string]any{"a": float64(1), "b": []any{true, nil}}
	if got := ExtractText(v); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}
