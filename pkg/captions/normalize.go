package captions

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/linzo/caption-relay/pkg/logger"
)

// candidateTextKeys is the ordered list of property names tried before the
// depth-first fallback. The order is load-bearing: earlier names win.
var candidateTextKeys = []string{
	"transcription",
	"transcript",
	"text",
	"message",
	"content",
	"value",
	"speech",
	"result",
	"data",
	"body",
	"output",
}

// Normalizer converts arbitrary relay payloads into Captions. Payload shapes
// vary between providers and server versions; the normalizer tries an ordered
// sequence of shape recognizers and falls back to a recursive search. It
// never fails hard: a payload with no usable text yields nil.
type Normalizer struct {
	logger *logger.Logger
	now    func() time.Time
}

// NewNormalizer creates a normalizer.
func NewNormalizer(log *logger.Logger) *Normalizer {
	return &Normalizer{
		logger: log.Named("normalizer"),
		now:    time.Now,
	}
}

// Normalize extracts a Caption from a raw text frame. Frames that are not
// valid JSON are treated as plain-text captions.
func (n *Normalizer) Normalize(raw []byte) *Caption {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return nil
		}
		n.logger.Debug("Frame is not JSON, using raw text", logger.Int("bytes", len(raw)))
		return &Caption{Text: text, Timestamp: n.nowMillis(), Final: true}
	}
	return n.NormalizeValue(payload)
}

// NormalizeValue extracts a Caption from an already-decoded payload.
func (n *Normalizer) NormalizeValue(payload any) *Caption {
	if payload == nil {
		n.logger.Debug("Dropping nil payload")
		return nil
	}

	if obj, ok := payload.(map[string]any); ok {
		if c := n.fromCanonical(obj); c != nil {
			return c
		}
		if c := n.fromTextField(obj); c != nil {
			return c
		}
		if c := n.fromTranscriptField(obj); c != nil {
			return c
		}
		if c := n.fromMessageField(obj); c != nil {
			return c
		}
	}

	if s, ok := payload.(string); ok {
		if text := strings.TrimSpace(s); text != "" {
			return &Caption{Text: text, Timestamp: n.nowMillis(), Final: true}
		}
		n.logger.Debug("Dropping empty string payload")
		return nil
	}

	// Last resort: search the whole structure for anything caption-like.
	if text := ExtractText(payload); text != "" {
		return &Caption{Text: text, Timestamp: n.nowMillis(), Final: true}
	}

	n.logger.Debug("No caption text found in payload")
	return nil
}

// fromCanonical recognizes payloads already in the canonical
// {text, timestamp, final} shape.
func (n *Normalizer) fromCanonical(obj map[string]any) *Caption {
	text, hasText := stringField(obj, "text")
	ts, hasTS := numberField(obj, "timestamp")
	final, hasFinal := boolField(obj, "final")
	if !hasText || !hasTS || !hasFinal {
		return nil
	}
	if text = strings.TrimSpace(text); text == "" {
		return nil
	}
	return &Caption{
		Text:             text,
		Timestamp:        int64(ts),
		Final:            final,
		SequenceID:       sequenceID(obj),
		CallSID:          callSID(obj),
		DetectedLanguage: detectedLanguage(obj),
	}
}

// fromTextField recognizes payloads with a bare string text field.
func (n *Normalizer) fromTextField(obj map[string]any) *Caption {
	text, ok := stringField(obj, "text")
	if !ok {
		return nil
	}
	if text = strings.TrimSpace(text); text == "" {
		return nil
	}
	c := &Caption{
		Text:             text,
		Timestamp:        n.nowMillis(),
		Final:            true,
		SequenceID:       sequenceID(obj),
		CallSID:          callSID(obj),
		DetectedLanguage: detectedLanguage(obj),
	}
	if ts, ok := numberField(obj, "timestamp"); ok {
		c.Timestamp = int64(ts)
	}
	if final, ok := boolField(obj, "final"); ok {
		c.Final = final
	}
	return c
}

// fromTranscriptField recognizes the relay's own wire shape and the common
// provider shapes using transcript/transcription keys.
func (n *Normalizer) fromTranscriptField(obj map[string]any) *Caption {
	text, ok := stringField(obj, "transcript")
	if !ok {
		text, ok = stringField(obj, "transcription")
	}
	if !ok {
		return nil
	}
	if text = strings.TrimSpace(text); text == "" {
		return nil
	}
	c := &Caption{
		Text:             text,
		Timestamp:        n.nowMillis(),
		Final:            true,
		SequenceID:       sequenceID(obj),
		CallSID:          callSID(obj),
		DetectedLanguage: detectedLanguage(obj),
	}
	if ts, ok := numberField(obj, "timestamp"); ok {
		c.Timestamp = int64(ts)
	}
	if final, ok := boolField(obj, "final"); ok {
		c.Final = final
	}
	return c
}

// fromMessageField recognizes payloads carrying text under message/content.
func (n *Normalizer) fromMessageField(obj map[string]any) *Caption {
	text, ok := stringField(obj, "message")
	if !ok {
		text, ok = stringField(obj, "content")
	}
	if !ok {
		return nil
	}
	if text = strings.TrimSpace(text); text == "" {
		return nil
	}
	return &Caption{
		Text:       text,
		Timestamp:  n.nowMillis(),
		Final:      true,
		SequenceID: sequenceID(obj),
		CallSID:    callSID(obj),
	}
}

func (n *Normalizer) nowMillis() int64 {
	return n.now().UnixMilli()
}

// ExtractText searches an arbitrary decoded value for caption text. Candidate
// property names are tried in order at each object before the speech-API
// results[].alternatives[].transcript convention and finally a depth-first
// recursion over remaining properties. Returns "" when nothing is found.
func ExtractText(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		for _, item := range val {
			if text := ExtractText(item); text != "" {
				return text
			}
		}
	case map[string]any:
		for _, key := range candidateTextKeys {
			if s, ok := stringField(val, key); ok {
				if text := strings.TrimSpace(s); text != "" {
					return text
				}
			}
		}
		if text := extractFromResults(val); text != "" {
			return text
		}
		// Remaining keys in sorted order so extraction is deterministic.
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if text := ExtractText(val[k]); text != "" {
				return text
			}
		}
	}
	return ""
}

// extractFromResults handles the results[].alternatives[].transcript shape
// emitted by several speech recognition APIs.
func extractFromResults(obj map[string]any) string {
	results, ok := obj["results"].([]any)
	if !ok {
		return ""
	}
	for _, r := range results {
		result, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if alts, ok := result["alternatives"].([]any); ok {
			for _, a := range alts {
				if alt, ok := a.(map[string]any); ok {
					if s, ok := stringField(alt, "transcript"); ok {
						if text := strings.TrimSpace(s); text != "" {
							return text
						}
					}
				}
			}
		}
		if text := ExtractText(result); text != "" {
			return text
		}
	}
	return ""
}

// sequenceID tolerates both string and numeric ids; some servers relay the
// provider's integer sequence counter untouched.
func sequenceID(obj map[string]any) string {
	for _, key := range []string{"sequenceId", "SequenceId"} {
		switch v := obj[key].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func callSID(obj map[string]any) string {
	if s, ok := stringField(obj, "callSid"); ok {
		return s
	}
	if s, ok := stringField(obj, "CallSid"); ok {
		return s
	}
	return ""
}

func detectedLanguage(obj map[string]any) string {
	if s, ok := stringField(obj, "detectedLanguage"); ok {
		return s
	}
	if s, ok := stringField(obj, "languageCode"); ok {
		return s
	}
	return ""
}

func stringField(obj map[string]any, key string) (string, bool) {
	s, ok := obj[key].(string)
	return s, ok
}

func numberField(obj map[string]any, key string) (float64, bool) {
	f, ok := obj[key].(float64)
	return f, ok
}

func boolField(obj map[string]any, key string) (bool, bool) {
	b, ok := obj[key].(bool)
	return b, ok
}
