package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the size of the big-endian payload length prefixed to every frame.
const HeaderSize = 4

// DefaultMaxFrameSize bounds the payload a Decoder accepts unless told otherwise.
const DefaultMaxFrameSize = 64 * 1024

// FramingError reports a stream that could not deliver a whole frame: it was
// closed mid-frame or the transport failed. The stream is unusable afterwards.
type FramingError struct {
	Err error
}

func (e *FramingError) Error() string {
	return "protocol: framing: " + e.Err.Error()
}

func (e *FramingError) Unwrap() error { return e.Err }

// DecodeError reports a complete frame whose payload is not a valid Message.
// The frame has been consumed, so the stream stays aligned on the next frame.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: decode: %s: %v", e.Reason, e.Err)
	}
	return "protocol: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// wireMessage is the JSON payload. Pointers tell an absent field from an empty one.
type wireMessage struct {
	Type      Type    `json:"type"`
	Nickname  *string `json:"nickname,omitempty"`
	ClientID  *string `json:"clientID,omitempty"`
	Text      *string `json:"message,omitempty"`
	Content   *string `json:"content,omitempty"`
	Timestamp *string `json:"timestamp,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func required(s string) *string {
	return &s
}

func toWire(m Message) (wireMessage, error) {
	w := wireMessage{Type: m.Type}
	switch m.Type {
	case TypeNickname:
		if m.Nickname == "" || m.ClientID == "" {
			return w, errors.New("protocol: nickname message needs nickname and clientID")
		}
		w.Nickname, w.ClientID, w.Timestamp = required(m.Nickname), required(m.ClientID), optional(m.Timestamp)
	case TypeMessage:
		w.Nickname, w.Text, w.Timestamp = optional(m.Nickname), required(m.Text), optional(m.Timestamp)
	case TypeDisconnect:
		w.Nickname, w.ClientID = optional(m.Nickname), optional(m.ClientID)
	case TypeBroadcast:
		w.Nickname, w.Content, w.Timestamp = required(m.Nickname), required(m.Content), optional(m.Timestamp)
	case TypeError:
		w.Text = required(m.Text)
	default:
		return w, fmt.Errorf("protocol: unknown message type %q", m.Type)
	}
	return w, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func fromWire(w wireMessage) (Message, error) {
	if !w.Type.valid() {
		return Message{}, &DecodeError{Reason: fmt.Sprintf("unknown type %q", w.Type)}
	}
	missing := func(field string) error {
		return &DecodeError{Reason: fmt.Sprintf("%s message without %s", w.Type, field)}
	}
	switch w.Type {
	case TypeNickname:
		if deref(w.Nickname) == "" {
			return Message{}, missing("nickname")
		}
		if deref(w.ClientID) == "" {
			return Message{}, missing("clientID")
		}
	case TypeMessage, TypeError:
		if w.Text == nil {
			return Message{}, missing("message")
		}
	case TypeBroadcast:
		if w.Nickname == nil {
			return Message{}, missing("nickname")
		}
		if w.Content == nil {
			return Message{}, missing("content")
		}
	}
	return Message{
		Type:      w.Type,
		Nickname:  deref(w.Nickname),
		ClientID:  deref(w.ClientID),
		Text:      deref(w.Text),
		Content:   deref(w.Content),
		Timestamp: deref(w.Timestamp),
	}, nil
}

// Marshal returns the JSON payload of m without framing.
func Marshal(m Message) ([]byte, error) {
	w, err := toWire(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Unmarshal parses one unframed JSON payload.
func Unmarshal(payload []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return Message{}, &DecodeError{Reason: "invalid payload", Err: err}
	}
	return fromWire(w)
}

// Encode returns m as one self-delimiting frame.
func Encode(m Message) ([]byte, error) {
	payload, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("protocol: payload of %d bytes does not fit a frame", len(payload))
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// WriteFrame encodes m and writes it with a single Write call.
func WriteFrame(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Decoder reads frames from a byte stream.
type Decoder struct {
	r       *bufio.Reader
	maxSize uint32
	header  [HeaderSize]byte
}

// NewDecoder returns a Decoder reading from r that rejects payloads above
// maxFrameSize bytes. A non-positive maxFrameSize selects DefaultMaxFrameSize;
// values beyond what the header can express are clamped.
func NewDecoder(r io.Reader, maxFrameSize int) *Decoder {
	limit := uint64(DefaultMaxFrameSize)
	if maxFrameSize > 0 {
		limit = min(uint64(maxFrameSize), math.MaxUint32)
	}
	return &Decoder{r: bufio.NewReader(r), maxSize: uint32(limit)}
}

// Decode blocks until one whole frame is read and returns its message.
//
// It returns io.EOF when the stream ends cleanly between frames, a
// *FramingError when it ends or fails inside a frame, and a *DecodeError
// when the frame arrived but its payload is not a valid Message.
func (d *Decoder) Decode() (Message, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, &FramingError{Err: err}
	}

	size := binary.BigEndian.Uint32(d.header[:])
	if size == 0 {
		return Message{}, &DecodeError{Reason: "empty frame"}
	}
	if size > d.maxSize {
		if _, err := io.CopyN(io.Discard, d.r, int64(size)); err != nil {
			return Message{}, &FramingError{Err: unexpected(err)}
		}
		return Message{}, &DecodeError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit of %d", size, d.maxSize)}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Message{}, &FramingError{Err: unexpected(err)}
	}
	return Unmarshal(payload)
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
