package chat

import (
	"sort"
	"sync"
)

// Entry is one registered session as seen by a snapshot.
type Entry struct {
	Peer     *Peer
	Identity Identity
}

// Registry maps connections to the identities they registered. Every
// operation holds one lock, so no caller sees a half-applied change.
type Registry struct {
	mu         sync.RWMutex
	byPeer     map[*Peer]Identity
	byNickname map[string]*Peer
	byClientID map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{
		byPeer:     make(map[*Peer]Identity),
		byNickname: make(map[string]*Peer),
		byClientID: make(map[string]*Peer),
	}
}

// Claim binds id to p if neither its nickname nor its client ID is held by
// another peer. The nickname is checked first. On conflict the registry is
// left unchanged.
func (r *Registry) Claim(p *Peer, id Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byNickname[id.Nickname]; ok && owner != p {
		return ErrNicknameTaken
	}
	if owner, ok := r.byClientID[id.ClientID]; ok && owner != p {
		return ErrClientIDTaken
	}

	if old, ok := r.byPeer[p]; ok {
		delete(r.byNickname, old.Nickname)
		delete(r.byClientID, old.ClientID)
	}
	r.byPeer[p] = id
	r.byNickname[id.Nickname] = p
	r.byClientID[id.ClientID] = p
	ConnectedClients.Set(float64(len(r.byPeer)))
	return nil
}

// Release frees p's identity. Releasing an unregistered peer is a no-op.
func (r *Registry) Release(p *Peer) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byPeer[p]
	if !ok {
		return Identity{}, false
	}
	r.remove(p, id)
	ConnectedClients.Set(float64(len(r.byPeer)))
	return id, true
}

func (r *Registry) remove(p *Peer, id Identity) {
	delete(r.byPeer, p)
	delete(r.byNickname, id.Nickname)
	delete(r.byClientID, id.ClientID)
}

// Lookup returns the identity p registered, if any.
func (r *Registry) Lookup(p *Peer) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPeer[p]
	return id, ok
}

// SnapshotOthers copies every entry except excluding's, ordered by nickname.
// The copy stays valid whatever happens to the registry afterwards.
func (r *Registry) SnapshotOthers(excluding *Peer) []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.byPeer))
	for p, id := range r.byPeer {
		if p == excluding {
			continue
		}
		entries = append(entries, Entry{Peer: p, Identity: id})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identity.Nickname < entries[j].Identity.Nickname
	})
	return entries
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPeer)
}

// Clear releases every entry and returns what was released.
func (r *Registry) Clear() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := make([]Entry, 0, len(r.byPeer))
	for p, id := range r.byPeer {
		released = append(released, Entry{Peer: p, Identity: id})
		r.remove(p, id)
	}
	ConnectedClients.Set(0)
	return released
}
