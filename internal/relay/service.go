// Package relay fans transcription webhooks out to WebSocket subscribers
// and routes client TTS requests back into the call.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linzo/caption-relay/internal/config"
	"github.com/linzo/caption-relay/internal/events"
	"github.com/linzo/caption-relay/internal/metrics"
	"github.com/linzo/caption-relay/internal/storage/sqlite"
	"github.com/linzo/caption-relay/internal/telephony"
	"github.com/linzo/caption-relay/internal/translation"
	"github.com/linzo/caption-relay/internal/websocket"
	"github.com/linzo/caption-relay/pkg/captions"
	"github.com/linzo/caption-relay/pkg/logger"
)

// CaptionStore persists finalized captions. HasSequenceID reports whether a
// caption with the given sequence id was already stored for the call, so
// webhook retries do not persist the same caption twice.
type CaptionStore interface {
	StoreCaption(record *sqlite.CaptionRecord) (int64, error)
	HasSequenceID(callSID, sequenceID string) (bool, error)
}

// LegRedirector resolves the remote leg of a call and replaces its TwiML.
type LegRedirector interface {
	ResolveRemoteLeg(ctx context.Context, callSID string) (string, error)
	RedirectCall(ctx context.Context, callSID, twiml string) error
}

// Broadcaster fans messages out to connected subscribers.
type Broadcaster interface {
	Broadcast(message *websocket.Message)
	SubscriberCount() int
}

// Service wires the webhook ingest path to the WebSocket fan-out and the
// TTS path back to the telephony provider.
type Service struct {
	broadcaster Broadcaster
	store       CaptionStore
	redirector  LegRedirector
	translator  *translation.Service
	publisher   *events.Publisher
	metrics     *metrics.Metrics
	cfg         config.TranscriptionConfig
	callbackURL string
	logger      *logger.Logger
}

// NewService creates the relay service. Store, redirector, translator and
// publisher may be nil when the corresponding feature is disabled.
func NewService(
	broadcaster Broadcaster,
	store CaptionStore,
	redirector LegRedirector,
	translator *translation.Service,
	publisher *events.Publisher,
	m *metrics.Metrics,
	cfg config.TranscriptionConfig,
	callbackURL string,
	log *logger.Logger,
) *Service {
	return &Service{
		broadcaster: broadcaster,
		store:       store,
		redirector:  redirector,
		translator:  translator,
		publisher:   publisher,
		metrics:     m,
		cfg:         cfg,
		callbackURL: callbackURL,
		logger:      log.Named("relay"),
	}
}

// HandleTranscriptionWebhook processes one transcription status callback.
// Malformed payloads are logged and dropped, never surfaced to the caller,
// so the provider always gets a 200 and keeps the stream alive.
func (s *Service) HandleTranscriptionWebhook(ctx context.Context, form url.Values) {
	s.metrics.WebhooksReceived.Inc()

	event := form.Get("TranscriptionEvent")
	switch event {
	case "", "transcription-content":
		// fall through to relay
	case "transcription-error":
		s.logger.Warn("Transcription error reported by provider",
			logger.String("call_sid", form.Get("CallSid")),
			logger.String("error", form.Get("TranscriptionErrorCode")))
		return
	default:
		s.logger.Debug("Ignoring transcription lifecycle event",
			logger.String("event", event),
			logger.String("call_sid", form.Get("CallSid")))
		return
	}

	callSID := form.Get("CallSid")
	sequenceID := form.Get("SequenceId")
	data := form.Get("TranscriptionData")

	text, nestedSequenceID, detectedLanguage := extractTranscription(data)
	if sequenceID == "" {
		sequenceID = nestedSequenceID
	}
	if detectedLanguage == "" {
		detectedLanguage = form.Get("LanguageCode")
	}
	if text == "" {
		s.logger.Debug("Webhook carried no transcription text",
			logger.String("call_sid", callSID),
			logger.String("sequence_id", sequenceID))
		return
	}

	final := form.Get("Final") != "false"

	s.broadcaster.Broadcast(&websocket.Message{
		Transcription:    text,
		SequenceID:       sequenceID,
		CallSID:          callSID,
		DetectedLanguage: detectedLanguage,
	})
	s.metrics.CaptionsBroadcast.Inc()

	s.logger.Debug("Relayed caption",
		logger.String("call_sid", callSID),
		logger.String("sequence_id", sequenceID),
		logger.Int("subscribers", s.broadcaster.SubscriberCount()))

	if !final {
		return
	}

	if s.store != nil {
		if sequenceID != "" {
			// Providers retry webhooks on slow responses; skip captions the
			// store already has.
			seen, err := s.store.HasSequenceID(callSID, sequenceID)
			if err != nil {
				s.logger.Error("Failed to check for stored caption",
					logger.String("call_sid", callSID),
					logger.Error(err))
			} else if seen {
				s.logger.Debug("Skipping already stored caption",
					logger.String("call_sid", callSID),
					logger.String("sequence_id", sequenceID))
				return
			}
		}
		record := &sqlite.CaptionRecord{
			CallSID:          callSID,
			CreatedAt:        time.Now().UTC(),
			Content:          text,
			SequenceID:       sequenceID,
			DetectedLanguage: detectedLanguage,
		}
		if _, err := s.store.StoreCaption(record); err != nil {
			s.logger.Error("Failed to store caption",
				logger.String("call_sid", callSID),
				logger.Error(err))
		} else {
			s.metrics.CaptionsStored.Inc()
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishCaption(ctx, events.CaptionEvent{
			CallSID:          callSID,
			Text:             text,
			SequenceID:       sequenceID,
			DetectedLanguage: detectedLanguage,
			Timestamp:        time.Now().UTC(),
		}); err != nil {
			s.logger.Error("Failed to publish caption event", logger.Error(err))
		}
	}

	if s.translator != nil {
		go s.translateAndBroadcast(callSID, text)
	}
}

// extractTranscription pulls caption text, a sequence id and a detected
// language out of the TranscriptionData field, which arrives as a JSON
// document of provider-dependent shape, or occasionally as plain text. Some
// provider variants nest the sequence id inside the payload instead of the
// SequenceId form field.
func extractTranscription(data string) (text, sequenceID, detectedLanguage string) {
	data = strings.TrimSpace(data)
	if data == "" {
		return "", "", ""
	}

	var payload any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return data, "", ""
	}

	text = captions.ExtractText(payload)
	if obj, ok := payload.(map[string]any); ok {
		for _, key := range []string{"sequenceId", "SequenceId"} {
			switch v := obj[key].(type) {
			case string:
				sequenceID = v
			case float64:
				sequenceID = strconv.FormatFloat(v, 'f', -1, 64)
			}
			if sequenceID != "" {
				break
			}
		}
		if lang, ok := obj["detectedLanguage"].(string); ok {
			detectedLanguage = lang
		} else if lang, ok := obj["languageCode"].(string); ok {
			detectedLanguage = lang
		}
	}
	return text, sequenceID, detectedLanguage
}

func (s *Service) translateAndBroadcast(callSID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := s.translator.Translate(ctx, text)
	if err != nil {
		s.logger.Error("Failed to translate caption",
			logger.String("call_sid", callSID),
			logger.Error(err))
		return
	}
	if result == nil {
		return
	}

	s.broadcaster.Broadcast(&websocket.Message{
		Type:           websocket.MessageTypeTranslation,
		Transcription:  result.Text,
		CallSID:        callSID,
		TargetLanguage: result.TargetLanguage,
	})
}

// HandleMessage implements websocket.MessageHandler for client-originated
// frames. TTS frames are spoken into the remote leg of the named call.
func (s *Service) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeTTS:
		return s.handleTTS(data)
	default:
		return fmt.Errorf("unknown message type: %q", messageType)
	}
}

func (s *Service) handleTTS(data map[string]any) error {
	s.metrics.TTSRequests.Inc()

	text, _ := data["text"].(string)
	callSID, _ := data["callSid"].(string)
	if strings.TrimSpace(text) == "" || callSID == "" {
		return fmt.Errorf("tts message requires text and callSid")
	}

	if s.redirector == nil {
		return fmt.Errorf("tts is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	legSID, err := s.redirector.ResolveRemoteLeg(ctx, callSID)
	if err != nil {
		s.metrics.TTSFailures.Inc()
		return fmt.Errorf("failed to resolve remote leg: %w", err)
	}

	twiml, err := telephony.SpeakTwiML(text, s.cfg.TTSVoice, s.cfg.LanguageCode, s.callbackURL)
	if err != nil {
		s.metrics.TTSFailures.Inc()
		return err
	}

	if err := s.redirector.RedirectCall(ctx, legSID, twiml); err != nil {
		s.metrics.TTSFailures.Inc()
		return err
	}

	s.logger.Info("Injected TTS into call",
		logger.String("call_sid", callSID),
		logger.String("leg_sid", legSID))
	return nil
}
