package peers

import (
	"context"
	"errors"
	"sync"

	"github.com/roverlink/signalhub/internal/logging"
)

var (
	// ErrDuplicateID is returned when a connection id is registered
	// twice. Ids are generated per connection, so this indicates an
	// invariant violation rather than a recoverable condition.
	ErrDuplicateID = errors.New("duplicate connection id")

	// ErrUnknownPeer is returned when sending to an unregistered id
	ErrUnknownPeer = errors.New("unknown peer")
)

// Peer is one registered connection's outbound side. Send must serialize
// concurrent writers internally; the underlying socket is not safe for
// interleaved writes.
type Peer interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Registry maps connection ids to live peers. An entry exists iff the
// connection is open from the registry's point of view; close racing
// removal is tolerated.
type Registry struct {
	mu     sync.Mutex
	peers  map[string]Peer
	logger *logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		peers:  make(map[string]Peer),
		logger: logger,
	}
}

// Register inserts a peer under its id
func (r *Registry) Register(p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if _, exists := r.peers[id]; exists {
		return ErrDuplicateID
	}

	r.peers[id] = p
	r.logger.Info("peer registered", "peer_id", id, "total_peers", len(r.peers))
	return nil
}

// Unregister removes a peer. Removing an absent id is a no-op because
// disconnect paths race with explicit removal.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(id)
}

func (r *Registry) unregisterLocked(id string) {
	if p, ok := r.peers[id]; ok {
		delete(r.peers, id)
		p.Close()
		r.logger.Info("peer unregistered", "peer_id", id, "total_peers", len(r.peers))
	}
}

// Get retrieves a peer by id
func (r *Registry) Get(id string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return p, ok
}

// IDs returns the ids of all registered peers in no particular order
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered peers
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// SendTo writes a payload to one peer. A failed write unregisters the
// peer: its connection is no longer usable.
func (r *Registry) SendTo(ctx context.Context, id string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return ErrUnknownPeer
	}

	if err := p.Send(ctx, payload); err != nil {
		r.logger.Error("send failed, dropping peer", "peer_id", id, "error", err)
		r.unregisterLocked(id)
		return err
	}

	return nil
}

// BroadcastExcept writes a payload to every peer other than the sender.
// Per-recipient failures are logged and do not abort delivery to the
// rest; failing peers are unregistered.
func (r *Registry) BroadcastExcept(ctx context.Context, senderID string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []string
	for id, p := range r.peers {
		if id == senderID {
			continue
		}
		if err := p.Send(ctx, payload); err != nil {
			r.logger.Error("broadcast send failed", "peer_id", id, "error", err)
			failed = append(failed, id)
		}
	}

	for _, id := range failed {
		r.unregisterLocked(id)
	}
}

// CloseAll closes and removes every peer, used at shutdown
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.peers {
		delete(r.peers, id)
		p.Close()
	}
}
