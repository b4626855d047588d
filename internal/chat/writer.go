package chat

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/andy6609/relay-chat/internal/protocol"
)

// Peer is the server side of one client connection. Outbound frames go
// through a bounded queue drained by a single writer goroutine, so frames
// reach the client in the order they were queued.
type Peer struct {
	conn         net.Conn
	out          chan protocol.Message
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newPeer(conn net.Conn, outbox int, writeTimeout time.Duration) *Peer {
	if outbox <= 0 {
		outbox = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Peer{
		conn:         conn,
		out:          make(chan protocol.Message, outbox),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// Send queues m for the client. It never blocks: a closed peer yields
// ErrPeerClosed and a full queue yields ErrOutboxFull.
func (p *Peer) Send(m protocol.Message) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.out <- m:
		return nil
	case <-p.done:
		return ErrPeerClosed
	default:
		return ErrOutboxFull
	}
}

// Close closes the connection, which also unblocks the session reading it.
// Frames still queued are dropped.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
	})
	return err
}

// Done is closed once the peer is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

func (p *Peer) startWriter() {
	go func() {
		w := bufio.NewWriter(p.conn)
		for {
			var msg protocol.Message
			select {
			case msg = <-p.out:
			case <-p.done:
				return
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := protocol.WriteFrame(w, msg); err != nil {
				p.Close()
				return
			}
			// Coalesce whatever is already queued into one flush.
			if len(p.out) > 0 {
				continue
			}
			if err := w.Flush(); err != nil {
				p.Close()
				return
			}
		}
	}()
}
