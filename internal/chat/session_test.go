package chat

import (
	"net"
	"testing"
	"time"

	"github.com/andy6609/relay-chat/internal/protocol"
)

// startSession runs a session over an in-memory pipe and returns the client
// end, the session's peer and a channel yielding its final state.
func startSession(t *testing.T, reg *Registry) (net.Conn, *Peer, <-chan State) {
	t.Helper()
	server, client := net.Pipe()
	p := newPeer(server, 8, time.Second)
	t.Cleanup(func() {
		p.Close()
		client.Close()
	})

	result := make(chan State, 1)
	s := newSession(p, reg, NewBroadcaster(reg, discardLogger()), discardLogger(), sessionOptions{})
	go func() { result <- s.run() }()
	return client, p, result
}

func writeFrame(t *testing.T, conn net.Conn, m protocol.Message) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := protocol.WriteFrame(conn, m); err != nil {
		t.Fatalf("write %s: %v", m.Type, err)
	}
}

func finalState(t *testing.T, result <-chan State) State {
	t.Helper()
	select {
	case st := <-result:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return 0
	}
}

func TestSession_DisconnectClosesCleanly(t *testing.T) {
	reg := NewRegistry()
	conn, p, result := startSession(t, reg)

	writeFrame(t, conn, protocol.Nickname("alice", "c1", ""))
	writeFrame(t, conn, protocol.Chat("alice", "hi", ""))
	writeFrame(t, conn, protocol.Disconnect("alice", "c1"))

	if st := finalState(t, result); st != StateClosed {
		t.Fatalf("expected closed, got %s", st)
	}
	if _, ok := reg.Lookup(p); ok {
		t.Fatal("identity not released")
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("peer not closed")
	}
}

func TestSession_FirstFrameMustRegister(t *testing.T) {
	reg := NewRegistry()
	conn, _, result := startSession(t, reg)

	writeFrame(t, conn, protocol.Chat("mallory", "hi", ""))
	if st := finalState(t, result); st != StateFaulted {
		t.Fatalf("expected faulted, got %s", st)
	}
}

func TestSession_ConflictKeepsRegistering(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, testPeer(t, 8), "alice", "c1")
	conn, p, result := startSession(t, reg)

	writeFrame(t, conn, protocol.Nickname("alice", "c2", ""))
	if got := waitForType(t, p.out, protocol.TypeError); got.Text != protocol.ErrTextNicknameInUse {
		t.Fatalf("unexpected error frame %+v", got)
	}
	writeFrame(t, conn, protocol.Nickname("bob", "c1", ""))
	if got := waitForType(t, p.out, protocol.TypeError); got.Text != protocol.ErrTextClientIDInUse {
		t.Fatalf("unexpected error frame %+v", got)
	}

	// Chat typed before the conflict arrived is dropped; the session keeps
	// waiting and can still leave cleanly.
	writeFrame(t, conn, protocol.Chat("bob", "hi", ""))
	writeFrame(t, conn, protocol.Disconnect("bob", "c1"))
	if st := finalState(t, result); st != StateClosed {
		t.Fatalf("expected closed, got %s", st)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected only alice's entry, got %d", reg.Len())
	}
}

func TestSession_LostConnectionFaults(t *testing.T) {
	reg := NewRegistry()
	conn, p, result := startSession(t, reg)

	writeFrame(t, conn, protocol.Nickname("alice", "c1", ""))
	conn.Close()

	if st := finalState(t, result); st != StateFaulted {
		t.Fatalf("expected faulted, got %s", st)
	}
	if _, ok := reg.Lookup(p); ok {
		t.Fatal("identity not released")
	}
}

func TestSession_BroadcastInRegisteringIsViolation(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, testPeer(t, 8), "alice", "c1")
	conn, p, result := startSession(t, reg)

	writeFrame(t, conn, protocol.Nickname("alice", "c2", ""))
	waitForType(t, p.out, protocol.TypeError)
	writeFrame(t, conn, protocol.Broadcast("alice", "spoofed", ""))
	if st := finalState(t, result); st != StateFaulted {
		t.Fatalf("expected faulted, got %s", st)
	}
}

func TestRelayLimit(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, protocol.DefaultMaxFrameSize},
		{1024, 1024},
		{protocol.DefaultMaxFrameSize * 4, protocol.DefaultMaxFrameSize},
	}
	for _, tc := range cases {
		if got := relayLimit(tc.in); got != tc.want {
			t.Fatalf("relayLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
