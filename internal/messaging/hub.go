package messaging

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Hub fans frames out to every attached port. One hub serves one page
// session side (all preview sockets, or all builder sockets).
type Hub struct {
	name string

	mu    sync.RWMutex
	peers map[string]Port
}

func NewHub(name string) *Hub {
	return &Hub{name: name, peers: map[string]Port{}}
}

// Send delivers data to every peer. Peers that fail are detached and closed;
// the joined errors are returned.
func (h *Hub) Send(ctx context.Context, data []byte) error {
	h.mu.RLock()
	peers := make(map[string]Port, len(h.peers))
	for id, p := range h.peers {
		peers[id] = p
	}
	h.mu.RUnlock()

	var errs []error
	for id, p := range peers {
		if err := p.Send(ctx, data); err != nil {
			log.Printf("[%s] dropping peer %s: %v", h.name, id, err)
			h.detach(id)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Join attaches port and feeds its frames to handle until the port closes
// or ctx ends. onJoin runs after the port is attached, typically to send
// the current snapshot.
func (h *Hub) Join(ctx context.Context, port Port, handle func(context.Context, Envelope) error, onJoin func(ctx context.Context, port Port)) error {
	id := uuid.NewString()
	h.mu.Lock()
	h.peers[id] = port
	h.mu.Unlock()
	defer h.detach(id)

	if onJoin != nil {
		onJoin(ctx, port)
	}
	return serve(ctx, h.name, port, handle)
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	p, ok := h.peers[id]
	delete(h.peers, id)
	h.mu.Unlock()
	if ok {
		_ = p.Close()
	}
}

// Len returns the number of attached peers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close detaches every peer.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = map[string]Port{}
	h.mu.Unlock()
	for _, p := range peers {
		_ = p.Close()
	}
}

// Poster adapts a Sink to the event engine's control message interface.
type Poster struct {
	out outbox
}

func NewPoster(sink Sink) *Poster {
	return &Poster{out: outbox{sink: sink}}
}

func (p *Poster) Post(ctx context.Context, msgType string, payload any) error {
	m, err := ControlMessage(MessageType(msgType), payload)
	if err != nil {
		return err
	}
	return p.out.send(ctx, m)
}
