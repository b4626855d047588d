// Package protocol implements the chat wire format: JSON messages carried in
// length-prefixed frames.
package protocol

import "time"

// Type discriminates the message variants on the wire.
type Type string

const (
	TypeNickname   Type = "nickname"
	TypeMessage    Type = "message"
	TypeDisconnect Type = "disconnect"
	TypeBroadcast  Type = "broadcast"
	TypeError      Type = "error"
)

func (t Type) valid() bool {
	switch t {
	case TypeNickname, TypeMessage, TypeDisconnect, TypeBroadcast, TypeError:
		return true
	}
	return false
}

// Error texts the server sends in error frames. Clients treat any other
// text as fatal.
const (
	ErrTextNicknameInUse = "Nickname already in use"
	ErrTextClientIDInUse = "ClientID must be unique"
)

// TimestampLayout is the layout of every timestamp field on the wire.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp formats t for the wire.
func Timestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// Message is one wire message. Which fields are meaningful depends on Type:
//
//	nickname   Nickname, ClientID, Timestamp
//	message    Nickname, Text, Timestamp
//	disconnect Nickname, ClientID
//	broadcast  Nickname, Content, Timestamp
//	error      Text
type Message struct {
	Type      Type
	Nickname  string
	ClientID  string
	Text      string
	Content   string
	Timestamp string
}

func Nickname(nickname, clientID, ts string) Message {
	return Message{Type: TypeNickname, Nickname: nickname, ClientID: clientID, Timestamp: ts}
}

func Chat(nickname, text, ts string) Message {
	return Message{Type: TypeMessage, Nickname: nickname, Text: text, Timestamp: ts}
}

func Disconnect(nickname, clientID string) Message {
	return Message{Type: TypeDisconnect, Nickname: nickname, ClientID: clientID}
}

func Broadcast(nickname, content, ts string) Message {
	return Message{Type: TypeBroadcast, Nickname: nickname, Content: content, Timestamp: ts}
}

func Error(text string) Message {
	return Message{Type: TypeError, Text: text}
}
