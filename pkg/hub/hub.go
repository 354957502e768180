package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fenghuanghao1986/NAO-engine/internal/log"
	"github.com/fenghuanghao1986/NAO-engine/pkg/control"
	"github.com/fenghuanghao1986/NAO-engine/pkg/protocol"
)

// Hub maintains the set of active clients and broadcasts messages to them.
// It is a control.Observer: every frame is sent to every client.
type Hub struct {
	name   string
	logger *slog.Logger

	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	// Guards clients for ClientCount.
	mu sync.RWMutex

	running atomic.Bool
	dropped atomic.Uint64
	// Last frame sequence handed to clients; read and written by Run only.
	lastSeq uint64
}

// New creates a hub. Call Run to start it.
func New(name string, logger *slog.Logger) *Hub {
	return &Hub{
		name:       name,
		logger:     log.Or(logger).With("component", "hub", "hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	h.running.Store(true)
	defer h.running.Store(false)
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "clients", count)

		case message := <-h.broadcast:
			if message.Seq != 0 {
				if h.lastSeq != 0 && message.Seq > h.lastSeq+1 {
					h.logger.Debug("frames skipped", "from", h.lastSeq+1, "to", message.Seq-1)
				}
				h.lastSeq = message.Seq
			}
			h.mu.Lock()
			for client := range h.clients {
				if !client.Send(message) {
					// Too slow to keep up with the frame rate.
					client.close()
					delete(h.clients, client)
					h.logger.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast queues a message for all clients. It never blocks.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		if h.dropped.Add(1)%100 == 1 {
			h.logger.Warn("broadcast channel full, dropping messages", "dropped", h.dropped.Load())
		}
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v any) error {
	msg, err := Encode(0, v)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// ObserveFrame broadcasts a frame to clients, if there are any.
func (h *Hub) ObserveFrame(fr control.FrameResult) {
	if h.ClientCount() == 0 {
		return
	}
	env, err := protocol.NewFrameMessage(fr)
	if err != nil {
		h.logger.Error("encode frame", "error", err)
		return
	}
	msg, err := Encode(fr.Seq, env)
	if err != nil {
		h.logger.Error("encode frame", "error", err)
		return
	}
	h.Broadcast(msg)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

var _ control.Observer = (*Hub)(nil)
