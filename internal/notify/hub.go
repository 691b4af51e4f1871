package notify

import (
	"context"
	"errors"
	"sync/atomic"

	"fleet-monitor/fueltheft/internal/domain"
	"fleet-monitor/fueltheft/internal/log"
)

var ErrHubClosed = errors.New("hub closed")

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

type subscription struct {
	client Subscriber
	// vehicleID restricts the stream to one vehicle; "" receives everything.
	vehicleID string
}

type message struct {
	vehicleID string
	payload   []byte
}

// Hub streams alerts to connected websocket clients. Its state is owned by
// a single goroutine; every method talks to it over channels.
type Hub struct {
	clients   map[Subscriber]string
	register  chan subscription
	unreg     chan Subscriber
	broadcast chan message
	done      chan struct{}
	closed    atomic.Bool
	count     atomic.Int64
	log       log.Logger
}

func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.NewNop()
	}
	h := &Hub{
		clients:   make(map[Subscriber]string),
		register:  make(chan subscription),
		unreg:     make(chan Subscriber),
		broadcast: make(chan message),
		done:      make(chan struct{}),
		log:       logger.WithName("hub"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			h.clients[sub.client] = sub.vehicleID
		case c := <-h.unreg:
			delete(h.clients, c)
		case msg := <-h.broadcast:
			for c, filter := range h.clients {
				if filter != "" && filter != msg.vehicleID {
					continue
				}
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
		case <-h.done:
			for c := range h.clients {
				c.Close()
			}
			clear(h.clients)
			h.count.Store(0)
			return
		}
		h.count.Store(int64(len(h.clients)))
	}
}

// Register adds a client, optionally limited to one vehicle.
func (h *Hub) Register(client Subscriber, vehicleID string) {
	select {
	case h.register <- subscription{client: client, vehicleID: vehicleID}:
	case <-h.done:
		client.Close()
	}
}

func (h *Hub) Unregister(client Subscriber) {
	select {
	case h.unreg <- client:
	case <-h.done:
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	return int(h.count.Load())
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Publish(ctx context.Context, a domain.Alert) error {
	payload, err := encode(a)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message{vehicleID: a.VehicleID, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubClosed
	}
}

// Close disconnects every client. Further publishes fail with ErrHubClosed.
func (h *Hub) Close() {
	if h.closed.CompareAndSwap(false, true) {
		close(h.done)
	}
}
