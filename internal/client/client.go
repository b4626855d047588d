// Package client implements the terminal chat client: it registers with the
// relay, prints broadcasts from other users, sends what the user types and
// keeps per-session statistics.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/andy6609/relay-chat/internal/protocol"
)

// DisconnectCommand ends the session when typed on its own line, in any case.
const DisconnectCommand = "disconnect"

// ErrConnectionLost is returned when the server goes away without the user
// asking to disconnect.
var ErrConnectionLost = errors.New("connection to server lost")

// UnknownServerError carries an error text the client cannot act on.
type UnknownServerError struct {
	Text string
}

func (e *UnknownServerError) Error() string {
	return "unknown server error: " + e.Text
}

// Config identifies the server and the identity to register.
type Config struct {
	Address     string
	Port        int
	Nickname    string
	ClientID    string
	DialTimeout time.Duration
}

// Stats summarizes one chat session.
type Stats struct {
	Start            time.Time
	End              time.Time
	MessagesSent     int64
	MessagesReceived int64
	CharsSent        int64
	CharsReceived    int64
}

// Client is one terminal chat session. The connection is shared by the
// goroutine reading server frames and the loop handling user input.
type Client struct {
	cfg Config
	in  io.Reader
	out io.Writer

	outMu     sync.Mutex
	conn      net.Conn
	connected atomic.Bool

	start            time.Time
	end              time.Time
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	charsSent        atomic.Int64
	charsReceived    atomic.Int64
}

// New returns a client reading user input from in and printing to out.
func New(cfg Config, in io.Reader, out io.Writer) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Client{cfg: cfg, in: in, out: out}
}

// Connected reports whether the connection is still usable.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Stats returns the counters collected so far.
func (c *Client) Stats() Stats {
	return Stats{
		Start:            c.start,
		End:              c.end,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		CharsSent:        c.charsSent.Load(),
		CharsReceived:    c.charsReceived.Load(),
	}
}

type pending int

const (
	pendingNone pending = iota
	pendingNickname
	pendingClientID
)

// inbound is what the reader goroutine hands to the input loop. A non-nil
// err ends the reader.
type inbound struct {
	msg protocol.Message
	err error
}

// Run connects, registers and serves the session until the user disconnects,
// ctx is cancelled or the session fails. A user-initiated end returns nil.
func (c *Client) Run(ctx context.Context) error {
	c.start = time.Now()

	addr := net.JoinHostPort(c.cfg.Address, strconv.Itoa(c.cfg.Port))
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	c.conn = conn
	c.connected.Store(true)
	defer c.close()

	if err := c.register(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	frames := make(chan inbound)
	go c.readLoop(frames, done)
	lines := make(chan string)
	go readLines(c.in, lines, done)

	c.printf("Enter Message:\n")
	state := pendingNone
	for {
		select {
		case <-ctx.Done():
			c.disconnect()
			return nil

		case line, ok := <-lines:
			if !ok {
				c.disconnect()
				return nil
			}
			if strings.EqualFold(strings.TrimSpace(line), DisconnectCommand) {
				c.disconnect()
				return nil
			}
			if state != pendingNone {
				value := strings.TrimSpace(line)
				if value == "" {
					c.prompt(state)
					continue
				}
				if state == pendingNickname {
					c.cfg.Nickname = value
				} else {
					c.cfg.ClientID = value
				}
				state = pendingNone
				if err := c.register(); err != nil {
					return err
				}
				continue
			}
			if err := c.sendChat(line); err != nil {
				return err
			}

		case in := <-frames:
			if in.err != nil {
				c.connected.Store(false)
				var de *protocol.DecodeError
				if errors.As(in.err, &de) {
					c.printf("Error decoding message from server: %v\n", in.err)
					return in.err
				}
				c.printf("Error receiving message: %v\n", in.err)
				c.summary()
				return ErrConnectionLost
			}
			next, err := c.handleError(in.msg.Text)
			if err != nil {
				return err
			}
			state = next
		}
	}
}

func (c *Client) register() error {
	if c.cfg.Nickname == "" || c.cfg.ClientID == "" {
		return errors.New("nickname and client ID must not be empty")
	}
	return c.send(protocol.Nickname(c.cfg.Nickname, c.cfg.ClientID, protocol.Timestamp(time.Now())))
}

func (c *Client) sendChat(text string) error {
	if err := c.send(protocol.Chat(c.cfg.Nickname, text, protocol.Timestamp(time.Now()))); err != nil {
		return err
	}
	c.messagesSent.Add(1)
	c.charsSent.Add(int64(utf8.RuneCountInString(text)))
	return nil
}

func (c *Client) send(m protocol.Message) error {
	if err := protocol.WriteFrame(c.conn, m); err != nil {
		c.connected.Store(false)
		c.printf("Error sending message: %v\n", err)
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	return nil
}

// handleError reacts to an error frame and returns what the next input line
// should be used for.
func (c *Client) handleError(text string) (pending, error) {
	c.printf("Error: %s\n", text)
	switch text {
	case protocol.ErrTextNicknameInUse:
		c.printf("Please choose a different nickname.\n")
		c.prompt(pendingNickname)
		return pendingNickname, nil
	case protocol.ErrTextClientIDInUse:
		c.printf("Client ID must be unique. Please choose a different ID.\n")
		c.prompt(pendingClientID)
		return pendingClientID, nil
	}
	c.printf("Unknown error: %s\n", text)
	return pendingNone, &UnknownServerError{Text: text}
}

func (c *Client) prompt(p pending) {
	switch p {
	case pendingNickname:
		c.printf("Enter your nickname: ")
	case pendingClientID:
		c.printf("Enter your client ID: ")
	}
}

// readLoop prints broadcasts and forwards error frames and the terminal
// read error to the input loop.
func (c *Client) readLoop(frames chan<- inbound, done <-chan struct{}) {
	dec := protocol.NewDecoder(c.conn, 0)
	forward := func(in inbound) bool {
		select {
		case frames <- in:
			return true
		case <-done:
			return false
		}
	}
	for c.connected.Load() {
		msg, err := dec.Decode()
		if err != nil {
			if !c.connected.Load() {
				return
			}
			forward(inbound{err: err})
			return
		}
		switch msg.Type {
		case protocol.TypeBroadcast:
			c.printf("%s::%s: %s\n", msg.Timestamp, msg.Nickname, msg.Content)
			c.messagesReceived.Add(1)
			c.charsReceived.Add(int64(utf8.RuneCountInString(msg.Content)))
		case protocol.TypeError:
			if !forward(inbound{msg: msg}) {
				return
			}
		}
	}
}

func readLines(r io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-done:
			return
		}
	}
}

func (c *Client) disconnect() {
	c.printf("\nDisconnecting from the chat...\n")
	if c.connected.Load() {
		_ = protocol.WriteFrame(c.conn, protocol.Disconnect(c.cfg.Nickname, c.cfg.ClientID))
	}
	c.close()
	c.summary()
	c.printf("Disconnected from the chat.\n")
}

func (c *Client) close() {
	c.connected.Store(false)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) summary() {
	c.end = time.Now()
	s := c.Stats()
	c.printf("Summary:\n")
	c.printf("  start: %s, end: %s\n", protocol.Timestamp(s.Start), protocol.Timestamp(s.End))
	c.printf("  msg sent: %d, msg rev: %d\n", s.MessagesSent, s.MessagesReceived)
	c.printf("  char sent: %d, char rev: %d\n", s.CharsSent, s.CharsReceived)
}

func (c *Client) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
