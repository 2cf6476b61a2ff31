package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/linzo/caption-relay/internal/config"
	"github.com/linzo/caption-relay/internal/metrics"
	"github.com/linzo/caption-relay/internal/relay"
	"github.com/linzo/caption-relay/internal/storage/sqlite"
	"github.com/linzo/caption-relay/internal/telephony"
	"github.com/linzo/caption-relay/internal/websocket"
	"github.com/linzo/caption-relay/pkg/logger"
)

func newTestAPI(t *testing.T, mutate func(cfg *config.Config)) (*httptest.Server, *config.Config) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Server.PublicBaseURL = "https://relay.example.com"
	cfg.Twilio.AccountSID = "AC123"
	cfg.Twilio.AuthToken = "secret"
	cfg.Twilio.CallerID = "+15550001111"
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("failed to validate config: %v", err)
	}

	log := logger.NewNop()

	storage, err := sqlite.NewCaptionStorage(filepath.Join(t.TempDir(), "captions.db"), log)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	m := metrics.New()
	relayService := relay.NewService(wsServer, storage, nil, nil, nil, m,
		cfg.Transcription, cfg.StatusCallbackURL(), log)
	wsServer.SetMessageHandler(relayService)

	router := NewRouter(relayService, storage, wsServer, cfg, m, log)
	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)

	return srv, cfg
}

func postWebhook(t *testing.T, srv *httptest.Server, form url.Values, sign string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/transcription",
		strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign != "" {
		req.Header.Set("X-Twilio-Signature", sign)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("webhook request failed: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestAPI(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestWebhookRelaysToSubscriberAndStores(t *testing.T) {
	srv, _ := newTestAPI(t, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/transcription"
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	defer conn.Close()
	// Let the hub register the subscriber before the broadcast.
	time.Sleep(100 * time.Millisecond)

	form := url.Values{}
	form.Set("TranscriptionEvent", "transcription-content")
	form.Set("TranscriptionData", `{"transcript":"hello from the call","confidence":0.91}`)
	form.Set("SequenceId", "1")
	form.Set("CallSid", "CA1")

	resp := postWebhook(t, srv, form, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from webhook, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read relayed frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("failed to parse frame: %v", err)
	}
	if frame["transcription"] != "hello from the call" {
		t.Errorf("expected relayed transcription, got %v", frame["transcription"])
	}
	if frame["sequenceId"] != "1" {
		t.Errorf("expected sequenceId '1', got %v", frame["sequenceId"])
	}

	// The final caption is also persisted and served by the history API.
	historyResp, err := http.Get(srv.URL + "/api/v1/captions/call/CA1")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer historyResp.Body.Close()

	var history struct {
		Count    int `json:"count"`
		Captions []struct {
			Content string `json:"content"`
		} `json:"captions"`
	}
	if err := json.NewDecoder(historyResp.Body).Decode(&history); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if history.Count != 1 || history.Captions[0].Content != "hello from the call" {
		t.Errorf("expected stored caption in history, got %+v", history)
	}
}

func TestWebhookAlwaysOKOnBadPayload(t *testing.T) {
	srv, _ := newTestAPI(t, nil)

	form := url.Values{}
	form.Set("TranscriptionEvent", "transcription-content")
	form.Set("TranscriptionData", "")
	form.Set("CallSid", "CA1")

	resp := postWebhook(t, srv, form, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for empty payload, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("expected empty body, got %q", body)
	}
}

func TestWebhookSignatureValidation(t *testing.T) {
	srv, cfg := newTestAPI(t, func(cfg *config.Config) {
		cfg.Twilio.ValidateSignatures = true
	})

	form := url.Values{}
	form.Set("TranscriptionEvent", "transcription-content")
	form.Set("TranscriptionData", `{"transcript":"hi"}`)
	form.Set("CallSid", "CA1")

	resp := postWebhook(t, srv, form, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for missing signature, got %d", resp.StatusCode)
	}

	signature := telephony.ComputeSignature(cfg.Twilio.AuthToken,
		cfg.Server.PublicBaseURL+"/transcription", form)
	resp = postWebhook(t, srv, form, signature)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for valid signature, got %d", resp.StatusCode)
	}
}

func TestDialTwiMLEndpoint(t *testing.T) {
	srv, _ := newTestAPI(t, nil)

	resp, err := http.PostForm(srv.URL+"/twiml", url.Values{
		"To":      []string{"+15552223333"},
		"CallSid": []string{"CA1"},
	})
	if err != nil {
		t.Fatalf("twiml request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/xml" {
		t.Errorf("expected text/xml, got %q", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	twiml := string(body)
	if !strings.Contains(twiml, "<Number>+15552223333</Number>") {
		t.Errorf("expected E.164 recipient dialed as Number, got:\n%s", twiml)
	}
	if !strings.Contains(twiml, `statusCallbackUrl="https://relay.example.com/transcription"`) {
		t.Errorf("expected status callback wired to the webhook, got:\n%s", twiml)
	}
}

func TestDialTwiMLClientRecipient(t *testing.T) {
	srv, _ := newTestAPI(t, nil)

	resp, err := http.PostForm(srv.URL+"/twiml", url.Values{
		"To": []string{"operator"},
	})
	if err != nil {
		t.Fatalf("twiml request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<Client>operator</Client>") {
		t.Errorf("expected non-E.164 recipient dialed as Client, got:\n%s", body)
	}
}

func TestDialTwiMLMissingTo(t *testing.T) {
	srv, _ := newTestAPI(t, nil)

	resp, err := http.PostForm(srv.URL+"/twiml", url.Values{})
	if err != nil {
		t.Fatalf("twiml request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing To, got %d", resp.StatusCode)
	}
}

func TestResumeTwiMLEndpoint(t *testing.T) {
	srv, _ := newTestAPI(t, nil)

	resp, err := http.PostForm(srv.URL+"/twiml/resume", url.Values{
		"CallSid": []string{"CA1"},
	})
	if err != nil {
		t.Fatalf("resume request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<Transcription") {
		t.Errorf("expected transcription restart, got:\n%s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestAPI(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "caption_relay_webhooks_received_total") {
		t.Errorf("expected relay counters in scrape output")
	}
}
