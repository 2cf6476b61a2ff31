package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/linzo/caption-relay/pkg/logger"
)

// Message types carried over the subscriber channel. Caption frames leave
// Type empty so the wire shape stays {"transcription": ..., "sequenceId": ...}.
const (
	MessageTypeTranslation = "translation"
	MessageTypeTTS         = "tts"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeError       = "error"
)

// Message is a server→subscriber frame.
type Message struct {
	Type             string `json:"type,omitempty"`
	Transcription    string `json:"transcription,omitempty"`
	SequenceID       string `json:"sequenceId,omitempty"`
	CallSID          string `json:"callSid,omitempty"`
	DetectedLanguage string `json:"detectedLanguage,omitempty"`
	TargetLanguage   string `json:"targetLanguage,omitempty"`
	Error            string `json:"error,omitempty"`
}

// MessageHandler handles inbound subscriber frames the hub does not consume
// itself (currently TTS injection requests).
type MessageHandler interface {
	HandleMessage(client *Client, messageType string, data map[string]any) error
}

// Client represents one connected subscriber.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan *Message
	server    *Server
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	callSID   string // non-empty restricts delivery to one call
}

// Server is the subscriber hub. Membership changes and broadcasts are
// serialized through the Run loop; per-client delivery uses buffered send
// channels so one slow subscriber never blocks the rest.
type Server struct {
	clients        map[*Client]bool
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *Message
	upgrader       websocket.Upgrader
	logger         *logger.Logger
	mu             sync.RWMutex
	messageHandler MessageHandler
}

// NewServer creates a new subscriber hub.
func NewServer(logger *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS policy is enforced at the HTTP layer
			},
		},
		logger: logger.Named("ws-hub"),
	}
}

// SetMessageHandler sets the handler for inbound subscriber frames.
func (s *Server) SetMessageHandler(handler MessageHandler) {
	s.messageHandler = handler
}

// SubscriberCount returns the number of currently connected subscribers.
func (s *Server) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run starts the hub loop.
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket hub")

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Subscriber registered", Int("subscriber_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				// Mark closed before closing the channel so no sender races it.
				client.mu.Lock()
				client.closed = true
				client.mu.Unlock()
				close(client.send)
			}
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Subscriber unregistered", Int("subscriber_count", clientCount))

		case message := <-s.broadcast:
			s.mu.RLock()
			clientsToRemove := make([]*Client, 0)
			for client := range s.clients {
				client.mu.Lock()
				if client.closed {
					clientsToRemove = append(clientsToRemove, client)
					client.mu.Unlock()
					continue
				}
				client.mu.Unlock()

				if !client.wantsMessage(message) {
					continue
				}

				select {
				case client.send <- message:
				default:
					// Send buffer full, drop the subscriber rather than stall.
					clientsToRemove = append(clientsToRemove, client)
				}
			}
			s.mu.RUnlock()

			if len(clientsToRemove) > 0 {
				s.mu.Lock()
				for _, client := range clientsToRemove {
					if _, ok := s.clients[client]; ok {
						delete(s.clients, client)
						client.mu.Lock()
						if !client.closed {
							client.closed = true
							close(client.send)
						}
						client.mu.Unlock()
					}
				}
				s.mu.Unlock()
			}
		}
	}
}

// HandleConnection upgrades an HTTP request and registers the subscriber.
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("New subscriber connection request",
		String("remote_addr", r.RemoteAddr),
		String("user_agent", r.UserAgent()))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		id:        uuid.New().String(),
		conn:      conn,
		send:      make(chan *Message, 256),
		server:    s,
		closeChan: make(chan struct{}),
	}

	s.logger.Debug("Subscriber connected", String("subscriber_id", client.id))
	s.register <- client

	go client.readPump()
	go client.writePump()
}

// Broadcast queues a message for every connected subscriber.
func (s *Server) Broadcast(message *Message) {
	s.logger.Debug("Broadcasting message",
		String("type", message.Type),
		String("call_sid", message.CallSID),
		Int("subscriber_count", s.SubscriberCount()))

	s.broadcast <- message
}

// wantsMessage applies the subscriber's per-call filter. Subscribers with no
// filter receive everything; messages with no call id reach everyone.
func (c *Client) wantsMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callSID == "" || message.CallSID == "" {
		return true
	}
	return c.callSID == message.CallSID
}

// setCallFilter restricts this subscriber to one call's events.
func (c *Client) setCallFilter(callSID string) {
	c.mu.Lock()
	c.callSID = callSID
	c.mu.Unlock()
}

// readPump pumps inbound frames from the subscriber to the hub.
func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
		}
		c.mu.Unlock()

		c.server.unregister <- c
		c.conn.Close()
	}()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", Error(err))
			}
			break
		}

		var frame map[string]any
		if err := json.Unmarshal(messageBytes, &frame); err != nil {
			c.server.logger.Error("Failed to parse subscriber frame", Error(err))
			continue
		}

		frameType, _ := frame["type"].(string)
		c.server.logger.Debug("Received subscriber frame",
			String("type", frameType),
			String("subscriber_id", c.id))

		// Subscription filtering is hub state; everything else goes to the
		// message handler.
		if frameType == MessageTypeSubscribe {
			callSID, _ := frame["callSid"].(string)
			c.setCallFilter(callSID)
			c.server.logger.Info("Subscriber filter updated", String("call_sid", callSID))
			continue
		}

		if c.server.messageHandler != nil {
			if err := c.server.messageHandler.HandleMessage(c, frameType, frame); err != nil {
				c.server.logger.Error("Failed to handle subscriber frame",
					Error(err),
					String("type", frameType))
				// Tell the originating subscriber; the rest of the hub does
				// not care about this frame.
				c.SendMessage(&Message{
					Type:  MessageTypeError,
					Error: err.Error(),
				})
			}
		}
	}
}

// writePump pumps hub messages out to the subscriber connection.
func (c *Client) writePump() {
	defer func() {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
		}
		c.mu.Unlock()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.server.logger.Error("Failed to marshal message", Error(err))
				c.mu.Unlock()
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-c.closeChan:
			return
		}
	}
}

// Close closes the subscriber connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.closeChan)
	c.conn.Close()
}

// SendMessage sends a message to this specific subscriber. Returns false if
// the subscriber is closed or its buffer is full.
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)
