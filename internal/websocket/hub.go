package websocket

import (
	"context"
	"sync"

	"github.com/streamvault/backend/internal/progress"
)

// subscription key for clients that want every job's updates
const allJobs = ""

// Hub routes progress snapshots to connected clients. Clients subscribe to
// a single job or to the whole stream.
type Hub struct {
	// registered clients by job id; allJobs holds firehose subscribers
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan progress.Snapshot

	mu sync.RWMutex
}

// NewHub creates a hub; call Run to start routing.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan progress.Snapshot),
	}
}

// Run drives the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.jobID] == nil {
				h.clients[client.jobID] = make(map[*Client]bool)
			}
			h.clients[client.jobID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.jobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.jobID)
					}
				}
			}
			h.mu.Unlock()

		case snap := <-h.broadcast:
			// full lock: deliver may evict slow consumers
			h.mu.Lock()
			h.deliver(h.clients[snap.JobID], snap)
			h.deliver(h.clients[allJobs], snap)
			h.mu.Unlock()
		}
	}
}

// deliver pushes to every client in the set, dropping clients whose send
// buffer is full. Caller holds the write lock.
func (h *Hub) deliver(clients map[*Client]bool, snap progress.Snapshot) {
	for client := range clients {
		select {
		case client.send <- snap:
		default:
			// slow consumer; the write pump will notice the closed channel
			close(client.send)
			delete(clients, client)
		}
	}
}

// Broadcast queues a snapshot for routing. Usable as a progress.Sink.
func (h *Hub) Broadcast(snap progress.Snapshot) {
	h.broadcast <- snap
}

// TotalClients returns the number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for jobID, clients := range h.clients {
		for client := range clients {
			close(client.send)
		}
		delete(h.clients, jobID)
	}
}
