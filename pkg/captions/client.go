package captions

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linzo/caption-relay/pkg/logger"
)

// Reconnection policy: delay = base × growth^(attempt−1), bounded attempts.
const (
	reconnectBaseInterval = 3 * time.Second
	reconnectGrowthFactor = 1.5
	maxReconnectAttempts  = 5
)

// ErrNotConnected is returned by Send when no connection is established.
var ErrNotConnected = errors.New("captions: not connected")

// ErrReconnectExhausted is reported to status listeners once automatic
// reconnection gives up. A subsequent explicit Connect starts over.
var ErrReconnectExhausted = errors.New("captions: reconnect attempts exhausted")

// StatusListener observes connection state transitions. err is non-nil for
// StateError transitions and for the terminal ErrReconnectExhausted report.
type StatusListener func(state State, err error)

// ttsRequest is the client→server frame for speaking text into a call.
type ttsRequest struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	CallSID string `json:"callSid"`
}

// subscribeRequest narrows the subscription to a single call.
type subscribeRequest struct {
	Type    string `json:"type"`
	CallSID string `json:"callSid"`
}

// Client owns a single outbound connection to the relay endpoint and drives
// the caption pipeline: each inbound frame is normalized, deduplicated, and
// aggregated to completion before the next frame is read. Abnormal closes
// trigger exponential-backoff reconnection; an explicit Disconnect cancels
// any pending attempt.
type Client struct {
	endpoint   string
	dialer     *websocket.Dialer
	logger     *logger.Logger
	normalizer *Normalizer
	filter     *Filter
	aggregator *Aggregator

	mu              sync.Mutex
	conn            *websocket.Conn
	state           State
	lastErr         error
	attempts        int
	dialGen         uint64 // invalidates in-flight dials on Disconnect
	reconnectTimer  *time.Timer
	statusListeners []StatusListener
}

// NewClient creates a client for the given relay endpoint (ws:// or wss://).
// The connection is not opened until Connect is called.
func NewClient(endpoint string, log *logger.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 45 * time.Second,
		},
		logger:     log.Named("caption-client"),
		normalizer: NewNormalizer(log),
		filter:     NewFilter(),
		aggregator: NewAggregator(),
	}
}

// Aggregator exposes the transcript state consumers subscribe to.
func (c *Client) Aggregator() *Aggregator {
	return c.aggregator
}

// OnStatus registers a connection status listener.
func (c *Client) OnStatus(fn StatusListener) {
	c.mu.Lock()
	c.statusListeners = append(c.statusListeners, fn)
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == "" {
		return StateDisconnected
	}
	return c.state
}

// LastError returns the most recent connection error, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect opens the connection. It is a no-op while already connected or
// while another attempt is in flight, so at most one dial runs at a time. A
// successful open resets the reconnect attempt counter.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		c.logger.Debug("Already connected")
		return nil
	}
	if c.state == StateConnecting {
		c.mu.Unlock()
		c.logger.Debug("Connection attempt already in flight")
		return nil
	}
	c.stopReconnectTimerLocked()
	c.dialGen++
	gen := c.dialGen
	c.setStateLocked(StateConnecting, nil)
	endpoint := c.endpoint
	c.mu.Unlock()

	c.logger.Info("Connecting to relay", logger.String("endpoint", endpoint))
	conn, _, err := c.dialer.Dial(endpoint, nil)

	c.mu.Lock()
	if c.dialGen != gen || c.state != StateConnecting {
		// Disconnect ran while the dial was in flight; its outcome no
		// longer matters.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		c.logger.Debug("Discarding superseded dial")
		return nil
	}
	if err != nil {
		c.setStateLocked(StateError, fmt.Errorf("dial %s: %w", endpoint, err))
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.logger.Error("Failed to connect", logger.Error(err))
		return err
	}

	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateConnected, nil)
	c.mu.Unlock()

	c.logger.Info("Connected to relay")
	go c.readLoop(conn)
	return nil
}

// Disconnect closes the connection and cancels any pending reconnection.
// Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopReconnectTimerLocked()
	c.dialGen++ // abandons any dial still in flight
	conn := c.conn
	c.conn = nil
	alreadyDown := c.state == StateDisconnected
	c.setStateLocked(StateDisconnected, nil)
	c.mu.Unlock()

	if conn != nil {
		// Best-effort close handshake; the peer treats 1000 as intentional.
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	if !alreadyDown {
		c.logger.Info("Disconnected from relay")
	}
}

// Send serializes payload and transmits it. Fails with ErrNotConnected
// unless the connection is established.
func (c *Client) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// SendTTS asks the relay to speak text into the call's remote leg.
func (c *Client) SendTTS(callSID, text string) error {
	return c.Send(ttsRequest{Type: "tts", Text: text, CallSID: callSID})
}

// Subscribe narrows this subscriber to events for a single call.
func (c *Client) Subscribe(callSID string) error {
	return c.Send(subscribeRequest{Type: "subscribe", CallSID: callSID})
}

// readLoop reads frames until the connection dies, processing each one to
// completion so arrival order is processing order.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.process(raw)
	}
}

// process runs one frame through normalize → dedup → aggregate. Malformed
// frames are dropped here and never affect connection state.
func (c *Client) process(raw []byte) {
	caption := c.normalizer.Normalize(raw)
	if caption == nil {
		return
	}
	if !c.filter.Accept(caption) {
		c.logger.Debug("Dropped duplicate caption",
			logger.String("call_sid", caption.CallSID),
			logger.String("sequence_id", caption.SequenceID))
		return
	}
	c.aggregator.Apply(caption)
}

// handleClose reacts to a dead connection: normal closure parks the client
// in DISCONNECTED, anything else schedules reconnection.
func (c *Client) handleClose(conn *websocket.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		// A newer connection already replaced this one, or Disconnect ran.
		return
	}
	c.conn = nil

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Info("Connection closed normally")
		c.setStateLocked(StateDisconnected, nil)
		return
	}

	c.logger.Warn("Connection lost", logger.Error(err))
	c.setStateLocked(StateError, err)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the backoff timer for the next attempt.
// Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.attempts >= maxReconnectAttempts {
		c.logger.Error("Reconnect attempts exhausted",
			logger.Int("attempts", c.attempts))
		c.setStateLocked(StateError, ErrReconnectExhausted)
		return
	}

	c.attempts++
	delay := reconnectDelay(c.attempts)
	c.logger.Info("Scheduling reconnect",
		logger.Int("attempt", c.attempts),
		logger.Int("max_attempts", maxReconnectAttempts),
		logger.Duration("delay", delay))

	c.stopReconnectTimerLocked()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		// The connection may have been reestablished by an explicit Connect,
		// or torn down for good, while the timer was pending.
		if c.state == StateConnected || c.state == StateDisconnected {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		_ = c.Connect()
	})
}

func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// setStateLocked records a transition and notifies listeners. Caller holds
// c.mu; listeners run on a separate goroutine so they may call back into the
// client freely.
func (c *Client) setStateLocked(state State, err error) {
	c.state = state
	if err != nil {
		c.lastErr = err
	}
	if len(c.statusListeners) == 0 {
		return
	}
	listeners := make([]StatusListener, len(c.statusListeners))
	copy(listeners, c.statusListeners)
	go func() {
		for _, fn := range listeners {
			fn(state, err)
		}
	}()
}

// reconnectDelay computes the backoff for the given 1-based attempt.
func reconnectDelay(attempt int) time.Duration {
	factor := math.Pow(reconnectGrowthFactor, float64(attempt-1))
	return time.Duration(float64(reconnectBaseInterval) * factor)
}
