package websocket

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Pool manages multiple independent Client connections, fanning sends out
// to all of them and reporting their collective state.
//
// Not named by spec.md (whose scope is a single connection's core), but not
// excluded by it either — only "automatic reconnection policy" and
// extension/subprotocol negotiation are Non-goals. Repurposes hub.go's
// register/unregister/broadcast event-loop shape for the client side:
// where Hub accepts inbound connections and broadcasts to server-side
// Conns, Pool dials outbound connections and broadcasts to client-side
// Clients, using an errgroup to fan each Broadcast send and each member's
// Close out concurrently instead of hub.go's
// one-goroutine-per-broadcast-recipient pattern. Add dials one URL at a
// time, synchronously.
type Pool struct {
	cfg Config
	log *logrus.Entry

	mu      sync.RWMutex
	members map[uuid.UUID]*Client
}

// NewPool returns a Pool that dials new members with cfg.
func NewPool(cfg Config) *Pool {
	cfg = cfg.normalize()
	return &Pool{
		cfg:     cfg,
		log:     cfg.Logger.WithField("component", "websocket.pool"),
		members: make(map[uuid.UUID]*Client),
	}
}

// Add dials rawURL and registers the resulting Client under a fresh UUID.
func (p *Pool) Add(ctx context.Context, rawURL string) (uuid.UUID, *Client, error) {
	c, err := Dial(ctx, rawURL, p.cfg)
	if err != nil {
		return uuid.Nil, nil, err
	}

	id := uuid.New()
	p.mu.Lock()
	p.members[id] = c
	p.mu.Unlock()

	p.log.WithField("member", id).Debug("pool member added")
	return id, c, nil
}

// Remove closes and unregisters the member with id. A no-op if id is not a
// current member.
func (p *Pool) Remove(id uuid.UUID) error {
	p.mu.Lock()
	c, ok := p.members[id]
	delete(p.members, id)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return c.Close()
}

// Get returns the member with id, or nil and false if it isn't registered.
func (p *Pool) Get(id uuid.UUID) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.members[id]
	return c, ok
}

// Broadcast sends the same message to every current member concurrently
// and waits for all of them to finish. The first member error is returned
// after every send has been attempted; members that failed remain
// registered (the caller decides whether a send failure warrants Remove).
func (p *Pool) Broadcast(ctx context.Context, msgType MessageType, data []byte) error {
	p.mu.RLock()
	clients := make([]*Client, 0, len(p.members))
	for _, c := range p.members {
		clients = append(clients, c)
	}
	p.mu.RUnlock()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, c := range clients {
		c := c
		eg.Go(func() error {
			if msgType == TextMessage {
				return c.SendText(egCtx, string(data))
			}
			return c.SendBinary(egCtx, data)
		})
	}
	return eg.Wait()
}

// MemberSnapshot is one Pool member's identity and lifecycle state at the
// moment Snapshot was called.
type MemberSnapshot struct {
	ID    uuid.UUID
	State State
}

// Snapshot reports every current member's State(). The result reflects a
// single instant; members may transition immediately after it's taken.
func (p *Pool) Snapshot() []MemberSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]MemberSnapshot, 0, len(p.members))
	for id, c := range p.members {
		out = append(out, MemberSnapshot{ID: id, State: c.State()})
	}
	return out
}

// Len reports the number of currently registered members.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

// Close closes every member concurrently and waits for them all to finish,
// then empties the pool. Safe to call with zero members.
func (p *Pool) Close() error {
	p.mu.Lock()
	members := p.members
	p.members = make(map[uuid.UUID]*Client)
	p.mu.Unlock()

	var eg errgroup.Group
	for _, c := range members {
		eg.Go(c.Close)
	}
	return eg.Wait()
}
