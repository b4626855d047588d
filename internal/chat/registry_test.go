package chat

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/andy6609/relay-chat/internal/protocol"
)

func TestRegistry_ClaimRejectsDuplicateNickname(t *testing.T) {
	r := NewRegistry()
	alice := testPeer(t, 8)
	other := testPeer(t, 8)

	if err := r.Claim(alice, Identity{"alice", "c1"}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := r.Claim(other, Identity{"alice", "c2"}); err != ErrNicknameTaken {
		t.Fatalf("expected ErrNicknameTaken, got %v", err)
	}
	if _, ok := r.Lookup(other); ok {
		t.Fatal("rejected claim must not be recorded")
	}
	if err := r.Claim(other, Identity{"bob", "c2"}); err != nil {
		t.Fatalf("corrected claim failed: %v", err)
	}
}

func TestRegistry_ClaimRejectsDuplicateClientID(t *testing.T) {
	r := NewRegistry()
	alice := testPeer(t, 8)
	other := testPeer(t, 8)

	register(t, r, alice, "alice", "c1")
	if err := r.Claim(other, Identity{"bob", "c1"}); err != ErrClientIDTaken {
		t.Fatalf("expected ErrClientIDTaken, got %v", err)
	}
	// Both taken: the nickname wins.
	if err := r.Claim(other, Identity{"alice", "c1"}); err != ErrNicknameTaken {
		t.Fatalf("expected ErrNicknameTaken, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
}

func TestRegistry_ReclaimByOwnerReplacesIdentity(t *testing.T) {
	r := NewRegistry()
	p := testPeer(t, 8)
	other := testPeer(t, 8)

	register(t, r, p, "alice", "c1")
	register(t, r, p, "alicia", "c1")
	if id, _ := r.Lookup(p); id.Nickname != "alicia" {
		t.Fatalf("unexpected identity %+v", id)
	}
	// The old nickname is free again.
	register(t, r, other, "alice", "c2")
}

func TestRegistry_ReleaseFreesIdentity(t *testing.T) {
	r := NewRegistry()
	alice := testPeer(t, 8)
	next := testPeer(t, 8)

	register(t, r, alice, "alice", "c1")
	id, ok := r.Release(alice)
	if !ok || id != (Identity{"alice", "c1"}) {
		t.Fatalf("unexpected release result %+v %v", id, ok)
	}
	if _, ok := r.Release(alice); ok {
		t.Fatal("second release should report nothing released")
	}
	register(t, r, next, "alice", "c1")
}

func TestRegistry_SnapshotOthersExcludesCaller(t *testing.T) {
	r := NewRegistry()
	alice := testPeer(t, 8)
	bob := testPeer(t, 8)
	carol := testPeer(t, 8)

	register(t, r, carol, "carol", "c3")
	register(t, r, alice, "alice", "c1")
	register(t, r, bob, "bob", "c2")

	snap := r.SnapshotOthers(alice)
	if len(snap) != 2 || snap[0].Identity.Nickname != "bob" || snap[1].Identity.Nickname != "carol" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	// Later mutations do not touch an existing snapshot.
	r.Release(bob)
	if snap[0].Peer != bob {
		t.Fatal("snapshot changed after release")
	}
	if len(r.SnapshotOthers(nil)) != 2 {
		t.Fatalf("expected 2 entries after release, got %d", len(r.SnapshotOthers(nil)))
	}
}

func TestRegistry_ConcurrentClaimsOnlyOneWins(t *testing.T) {
	r := NewRegistry()
	const n = 32

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		p := testPeer(t, 8)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := r.Claim(p, Identity{"alice", fmt.Sprintf("c%d", i)}); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one entry, got %d", r.Len())
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	register(t, r, testPeer(t, 8), "alice", "c1")
	register(t, r, testPeer(t, 8), "bob", "c2")

	if got := len(r.Clear()); got != 2 {
		t.Fatalf("expected 2 released entries, got %d", got)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
	register(t, r, testPeer(t, 8), "alice", "c1")
}

// testPeer returns a peer over an in-memory pipe. Its writer is not started,
// so queued frames stay in p.out for the test to inspect.
func testPeer(t *testing.T, outbox int) *Peer {
	t.Helper()
	server, client := net.Pipe()
	p := newPeer(server, outbox, time.Second)
	t.Cleanup(func() {
		p.Close()
		client.Close()
	})
	return p
}

func register(t *testing.T, r *Registry, p *Peer, nickname, clientID string) {
	t.Helper()
	if err := r.Claim(p, Identity{nickname, clientID}); err != nil {
		t.Fatalf("claim(%s, %s) error: %v", nickname, clientID, err)
	}
}

func waitForType(t *testing.T, ch <-chan protocol.Message, typ protocol.Type) protocol.Message {
	t.Helper()
	deadline := time.NewTimer(1 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case m := <-ch:
			if m.Type == typ {
				return m
			}
		case <-deadline.C:
			t.Fatalf("timeout waiting for %s frame", typ)
		}
	}
}
