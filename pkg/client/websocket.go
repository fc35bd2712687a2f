package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event mirrors internal/events.Event, the wire shape published over /ws.
type Event struct {
	Type        string                 `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data"`
}

// eventStream holds one WebSocket connection to the server's execution
// event feed.
type eventStream struct {
	conn      *websocket.Conn
	baseURL   string
	apiKey    string
	events    chan *Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	connected bool
}

func newEventStream(baseURL, apiKey string) *eventStream {
	return &eventStream{
		baseURL: baseURL,
		apiKey:  apiKey,
		events:  make(chan *Event, 100),
		done:    make(chan struct{}),
	}
}

// Connect dials the server's /ws endpoint.
func (s *eventStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	headers := make(map[string][]string)
	if s.apiKey != "" {
		headers["X-API-Key"] = []string{s.apiKey}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.done = make(chan struct{})
	go s.readLoop()

	return nil
}

func (s *eventStream) readLoop() {
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		close(s.events)
	}()

	for {
		select {
		case <-s.done:
			return
		default:
			_, message, err := s.conn.ReadMessage()
			if err != nil {
				return
			}

			var event Event
			if err := json.Unmarshal(message, &event); err != nil {
				continue
			}

			select {
			case s.events <- &event:
			case <-s.done:
				return
			default:
				select {
				case <-s.events:
				default:
				}
				s.events <- &event
			}
		}
	}
}

// Events returns the channel of received events.
func (s *eventStream) Events() <-chan *Event {
	return s.events
}

// Close closes the underlying connection.
func (s *eventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.conn != nil {
			err = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = s.conn.Close()
		}
	})
	return err
}

// IsConnected reports whether the stream currently holds a live connection.
func (s *eventStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

type wsCommand struct {
	Action      string `json:"action"`
	ExecutionID string `json:"execution_id"`
}

// Subscribe narrows the stream to events for executionID only.
func (s *eventStream) Subscribe(executionID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected || s.conn == nil {
		return fmt.Errorf("not connected")
	}
	return s.conn.WriteJSON(wsCommand{Action: "subscribe", ExecutionID: executionID})
}

// Unsubscribe removes executionID from the stream's watch list.
func (s *eventStream) Unsubscribe(executionID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected || s.conn == nil {
		return fmt.Errorf("not connected")
	}
	return s.conn.WriteJSON(wsCommand{Action: "unsubscribe", ExecutionID: executionID})
}
