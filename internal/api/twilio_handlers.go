package api

import (
	"net/http"
	"strings"

	"github.com/linzo/caption-relay/internal/telephony"
	"github.com/linzo/caption-relay/pkg/logger"
)

// HandleWebSocket handles WebSocket connections
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("WebSocket connection request received")
	h.wsServer.HandleConnection(w, r)
}

// HandleTranscriptionWebhook ingests transcription status callbacks. The
// response is always 200 with an empty body so the provider never tears
// down the transcription stream over a relay-side problem.
func (h *Handler) HandleTranscriptionWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("Failed to parse webhook form", logger.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if !h.validSignature(r) {
		h.metrics.WebhooksRejected.Inc()
		h.logger.Warn("Rejected webhook with invalid signature",
			logger.String("call_sid", r.PostForm.Get("CallSid")))
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	h.relayService.HandleTranscriptionWebhook(r.Context(), r.PostForm)
	w.WriteHeader(http.StatusOK)
}

// HandleDialTwiML answers the provider's voice webhook with a document that
// starts transcription and bridges the call to the requested recipient.
func (h *Handler) HandleDialTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	if !h.validSignature(r) {
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	to := r.FormValue("To")
	if to == "" {
		http.Error(w, "Missing To parameter", http.StatusBadRequest)
		return
	}

	recipientType := r.FormValue("RecipientType")
	if recipientType == "" {
		// Phone numbers come through in E.164 form; anything else is a
		// client identity.
		if strings.HasPrefix(to, "+") {
			recipientType = telephony.RecipientTypeNumber
		} else {
			recipientType = telephony.RecipientTypeClient
		}
	}

	twiml, err := telephony.DialTwiML(
		recipientType,
		to,
		h.config.Twilio.CallerID,
		h.config.Transcription.LanguageCode,
		h.config.StatusCallbackURL(),
	)
	if err != nil {
		h.logger.Error("Failed to build dial TwiML", logger.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("Dialing recipient",
		logger.String("to", to),
		logger.String("recipient_type", recipientType),
		logger.String("call_sid", r.FormValue("CallSid")))

	writeTwiML(w, twiml)
}

// HandleResumeTwiML re-issues the transcription start after an
// interruption, such as a TTS injection, so captioning continues.
func (h *Handler) HandleResumeTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	if !h.validSignature(r) {
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	twiml, err := telephony.ResumeTwiML(
		h.config.Transcription.LanguageCode,
		h.config.StatusCallbackURL(),
	)
	if err != nil {
		h.logger.Error("Failed to build resume TwiML", logger.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeTwiML(w, twiml)
}

// validSignature checks X-Twilio-Signature against the public URL of the
// request. Validation is skipped when disabled in config or when no public
// base URL is configured.
func (h *Handler) validSignature(r *http.Request) bool {
	if !h.config.Twilio.ValidateSignatures {
		return true
	}
	baseURL := h.config.Server.PublicBaseURL
	if baseURL == "" {
		return true
	}

	requestURL := strings.TrimSuffix(baseURL, "/") + r.URL.RequestURI()
	signature := r.Header.Get("X-Twilio-Signature")
	return telephony.ValidateSignature(h.config.Twilio.AuthToken, requestURL, r.PostForm, signature)
}

func writeTwiML(w http.ResponseWriter, twiml string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(twiml))
}
