package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"geoattend/internal/websocket"
	"geoattend/pkg/types"
)

const eventBufferSize = 1000

// Broadcaster is the part of the connection registry the hub needs
type Broadcaster interface {
	GetSessionConnections(sessionID string) []*websocket.Connection
}

// Hub fans attendance and session events out to the dashboards watching the
// affected session
// ARCHITECTURAL DISCOVERY: Central coordination point for all event flow
// keeps the core unaware of WebSocket delivery
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs a whole class joining at once
	eventChannel    chan *types.Event
	shutdownChannel chan struct{}
	done            chan struct{}

	registry Broadcaster

	running bool
	mu      sync.RWMutex

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a new hub
func NewHub(registry Broadcaster) *Hub {
	return &Hub{
		eventChannel: make(chan *types.Event, eventBufferSize),
		registry:     registry,
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine preserves per-session event order
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})
	shutdown, done := h.shutdownChannel, h.done
	h.mu.Unlock()

	log.Println("Starting event hub...")
	go h.run(ctx, shutdown, done)

	return nil
}

// Stop shuts the hub down and waits for the loop to exit. Events still
// queued are discarded.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping event hub...")
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	return nil
}

// Publish queues event for delivery and never blocks. Events published while
// the hub is stopped or its buffer is full are dropped.
func (h *Hub) Publish(event *types.Event) {
	if event == nil || event.SessionID == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		h.dropped.Add(1)
		return
	}

	// TECHNICAL DISCOVERY: Non-blocking send prevents a slow dashboard from
	// stalling attendance writes
	select {
	case h.eventChannel <- event:
	default:
		h.dropped.Add(1)
		log.Printf("Event channel full, dropping %s for session %s", event.Type, event.SessionID)
	}
}

// Stats reports delivery counters
func (h *Hub) Stats() map[string]int64 {
	return map[string]int64{
		"queued":    int64(len(h.eventChannel)),
		"delivered": h.delivered.Load(),
		"dropped":   h.dropped.Load(),
	}
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer log.Println("Hub processing stopped")

	for {
		select {
		case event := <-h.eventChannel:
			h.broadcast(event)

		case <-shutdown:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			h.mu.Lock()
			if h.done == done {
				h.running = false
			}
			h.mu.Unlock()
			return
		}
	}
}

// broadcast delivers to every connection watching the event's session;
// a failed write only affects that connection
func (h *Hub) broadcast(event *types.Event) {
	for _, conn := range h.registry.GetSessionConnections(event.SessionID) {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("Failed to deliver %s to conn=%s session=%s: %v", event.Type, conn.ID(), event.SessionID, err)
			continue
		}
		h.delivered.Add(1)
	}
}
