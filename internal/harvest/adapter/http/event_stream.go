package http

import (
	"context"
	"sync"
	"time"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/shared/eventbus"
	"catalog-harvester/internal/shared/logger"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	streamBuffer       = 256
	streamWriteTimeout = 10 * time.Second
)

// StreamMessage is one run event pushed to /ws clients.
type StreamMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// EventStream forwards run events from the bus to connected websocket clients.
// Slow clients drop messages rather than hold up the run.
type EventStream struct {
	mu      sync.RWMutex
	clients map[string]chan StreamMessage
	log     logger.Logger
}

// NewEventStream creates a stream with no clients.
func NewEventStream(log logger.Logger) *EventStream {
	if log == nil {
		log = logger.Nop()
	}
	return &EventStream{
		clients: make(map[string]chan StreamMessage),
		log:     log.WithComponent("event-stream"),
	}
}

// Subscribe registers the stream on bus.
func (s *EventStream) Subscribe(bus eventbus.EventBusInterface) {
	bus.Subscribe(eventbus.EventTypeRunStarted, s.forward)
	bus.Subscribe(eventbus.EventTypeItemProcessed, s.forward)
	bus.Subscribe(eventbus.EventTypeRunCompleted, s.forward)
}

// Clients returns the number of connected clients.
func (s *EventStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *EventStream) forward(_ context.Context, event eventbus.Event) error {
	data := event.Data()
	if report, ok := data.(*model.RunReport); ok {
		data = withoutItems(report)
	}
	msg := StreamMessage{Type: event.Type(), Timestamp: event.Timestamp(), Data: data}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ch := range s.clients {
		select {
		case ch <- msg:
		default:
			s.log.Debugf("client %s is behind, dropping %s", id, msg.Type)
		}
	}
	return nil
}

func (s *EventStream) add(id string) chan StreamMessage {
	ch := make(chan StreamMessage, streamBuffer)
	s.mu.Lock()
	s.clients[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *EventStream) remove(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

// RegisterRoutes mounts GET /ws on router.
func (s *EventStream) RegisterRoutes(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(s.handleConnection))
}

func (s *EventStream) handleConnection(conn *websocket.Conn) {
	id := uuid.NewString()
	log := s.log.WithFields(map[string]interface{}{"client": id})
	ch := s.add(id)
	defer s.remove(id)
	log.Debug("websocket client connected")

	// Clients only listen; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("websocket read failed: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			log.Debug("websocket client disconnected")
			return
		case msg := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.Warnf("websocket write failed: %v", err)
				return
			}
		}
	}
}
