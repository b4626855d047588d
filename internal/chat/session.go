package chat

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/andy6609/relay-chat/internal/protocol"
)

// session drives one connection from accept to close. It is owned by the
// goroutine running run; only its peer is shared, through the registry.
type session struct {
	id        string
	peer      *Peer
	dec       *protocol.Decoder
	reg       *Registry
	bc        *Broadcaster
	logger    *slog.Logger
	limiter   *rate.Limiter
	idle      time.Duration
	maxRelay  int
	state     State
	identity  Identity
	startedAt time.Time
}

type sessionOptions struct {
	maxFrameSize int
	idleTimeout  time.Duration
	messageRate  float64
	messageBurst int
}

func newSession(p *Peer, reg *Registry, bc *Broadcaster, logger *slog.Logger, opts sessionOptions) *session {
	id := ulid.Make().String()
	s := &session{
		id:        id,
		peer:      p,
		dec:       protocol.NewDecoder(p.conn, opts.maxFrameSize),
		reg:       reg,
		bc:        bc,
		logger:    logger.With("session_id", id, "remote", p.RemoteAddr().String()),
		idle:      opts.idleTimeout,
		maxRelay:  relayLimit(opts.maxFrameSize),
		state:     StateConnecting,
		startedAt: time.Now(),
	}
	if opts.messageRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.messageRate), opts.messageBurst)
	}
	return s
}

// relayLimit bounds the payload of a relayed broadcast. Clients decode with
// the default frame limit, so a larger configured limit does not raise it.
func relayLimit(maxFrameSize int) int {
	if maxFrameSize <= 0 {
		return protocol.DefaultMaxFrameSize
	}
	return min(maxFrameSize, protocol.DefaultMaxFrameSize)
}

// run serves the connection until it closes and returns the final state,
// StateClosed or StateFaulted.
func (s *session) run() State {
	for !s.done() {
		msg, err := s.read()
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				s.logger.Warn("discarding undecodable frame", "state", s.state.String(), "error", err)
				MessagesTotal.WithLabelValues("invalid").Inc()
				continue
			}
			s.fault(err)
			break
		}

		start := time.Now()
		s.handle(msg)
		MessagesTotal.WithLabelValues(string(msg.Type)).Inc()
		EventProcessingDuration.WithLabelValues(string(msg.Type)).Observe(time.Since(start).Seconds())
	}
	s.teardown()
	return s.state
}

func (s *session) done() bool {
	return s.state == StateClosing || s.state.Terminal()
}

func (s *session) read() (protocol.Message, error) {
	if s.idle > 0 {
		if err := s.peer.conn.SetReadDeadline(time.Now().Add(s.idle)); err != nil {
			return protocol.Message{}, err
		}
	}
	return s.dec.Decode()
}

func (s *session) handle(msg protocol.Message) {
	switch s.state {
	case StateConnecting:
		s.state = StateRegistering
		if msg.Type != protocol.TypeNickname {
			s.violation(msg)
			return
		}
		s.register(msg)

	case StateRegistering:
		switch msg.Type {
		case protocol.TypeNickname:
			s.register(msg)
		case protocol.TypeDisconnect:
			s.state = StateClosing
		case protocol.TypeMessage:
			// The client may type before a conflict error reaches it.
			s.logger.Warn("ignoring message from unregistered client", "size", len(msg.Text))
		default:
			s.violation(msg)
		}

	case StateActive:
		switch msg.Type {
		case protocol.TypeMessage:
			s.chat(msg)
		case protocol.TypeDisconnect:
			s.logger.Info("client disconnected",
				"nickname", s.identity.Nickname,
				"client_id", s.identity.ClientID,
				"timestamp", stamp(msg.Timestamp))
			s.state = StateClosing
		default:
			s.logger.Warn("ignoring unexpected frame", "type", msg.Type, "nickname", s.identity.Nickname)
		}
	}
}

// register tries to claim the identity carried by a nickname frame. On a
// conflict the client is told why and the session keeps waiting for a
// corrected nickname frame.
func (s *session) register(msg protocol.Message) {
	id := Identity{Nickname: msg.Nickname, ClientID: msg.ClientID}
	err := s.reg.Claim(s.peer, id)
	switch {
	case err == nil:
		s.identity = id
		s.state = StateActive
		s.logger.Info("client connected",
			"nickname", id.Nickname,
			"client_id", id.ClientID,
			"timestamp", stamp(msg.Timestamp))
		return
	case errors.Is(err, ErrNicknameTaken):
		s.reject(id, protocol.ErrTextNicknameInUse)
	case errors.Is(err, ErrClientIDTaken):
		s.reject(id, protocol.ErrTextClientIDInUse)
	}
}

func (s *session) reject(id Identity, text string) {
	s.logger.Info("registration rejected", "nickname", id.Nickname, "client_id", id.ClientID, "reason", text)
	if err := s.peer.Send(protocol.Error(text)); err != nil {
		s.logger.Warn("failed to send error frame", "error", err)
	}
}

func (s *session) chat(msg protocol.Message) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("dropping message over rate limit", "nickname", s.identity.Nickname)
		MessagesTotal.WithLabelValues("rate_limited").Inc()
		return
	}

	ts := stamp(msg.Timestamp)
	payload, err := protocol.Marshal(protocol.Broadcast(s.identity.Nickname, msg.Text, ts))
	if err != nil || len(payload) > s.maxRelay {
		s.logger.Warn("dropping message too large to relay",
			"nickname", s.identity.Nickname,
			"size", len(msg.Text),
			"limit", s.maxRelay)
		MessagesTotal.WithLabelValues("oversized").Inc()
		return
	}

	s.logger.Info("message received",
		"nickname", s.identity.Nickname,
		"client_id", s.identity.ClientID,
		"timestamp", ts,
		"size", len(msg.Text))
	s.bc.Broadcast(s.peer, s.identity.Nickname, msg.Text, ts)
}

func (s *session) violation(msg protocol.Message) {
	s.logger.Warn("protocol violation", "state", s.state.String(), "type", msg.Type)
	s.state = StateFaulted
}

func (s *session) fault(err error) {
	s.state = StateFaulted
	switch {
	case errors.Is(err, net.ErrClosed):
		s.logger.Debug("connection closed by server")
	case errors.Is(err, io.EOF):
		s.logger.Info("connection lost", "nickname", s.identity.Nickname, "error", "closed by peer")
	default:
		s.logger.Warn("connection lost", "nickname", s.identity.Nickname, "error", err)
	}
}

// teardown releases the identity and closes the connection. A session that
// was closing becomes closed; a faulted one stays faulted.
func (s *session) teardown() {
	s.reg.Release(s.peer)
	_ = s.peer.Close()
	if s.state != StateFaulted {
		s.state = StateClosed
	}
	s.logger.Debug("session finished", "state", s.state.String(), "duration", time.Since(s.startedAt))
}

// stamp returns ts, or the current time when the client sent none.
func stamp(ts string) string {
	if ts == "" {
		return protocol.Timestamp(time.Now())
	}
	return ts
}
