package main

import (
	"bytes"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/andy6609/relay-chat/internal/config"
	"github.com/andy6609/relay-chat/internal/protocol"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantPos int
	}{
		{"none", nil, 1},
		{"no port", []string{"localhost"}, 2},
		{"no nickname", []string{"localhost", "10000"}, 3},
		{"no client id", []string{"localhost", "10000", "alice"}, 4},
		{"blank nickname", []string{"localhost", "10000", " ", "c1"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args)
			var ae *config.InvalidArgumentError
			if !errors.As(err, &ae) || ae.Position != tt.wantPos {
				t.Fatalf("expected ERR -arg %d, got %v", tt.wantPos, err)
			}
		})
	}

	if _, err := parseArgs([]string{"localhost", "tenthousand", "alice", "c1"}); err != errArgumentType {
		t.Fatalf("expected argument type error, got %v", err)
	}

	cfg, err := parseArgs([]string{"localhost", "10000", "alice", "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Address != "localhost" || cfg.Port != 10000 || cfg.Nickname != "alice" || cfg.ClientID != "c1" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestApp_ChatsUntilInputEnds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	got := make(chan []protocol.Message, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			got <- nil
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		dec := protocol.NewDecoder(conn, 0)
		var frames []protocol.Message
		for {
			m, err := dec.Decode()
			if err != nil {
				break
			}
			frames = append(frames, m)
		}
		got <- frames
	}()

	var out bytes.Buffer
	in := strings.NewReader("hello\n")
	err = newApp(in, &out).Run([]string{"relay-client", "127.0.0.1", strconv.Itoa(port), "alice", "c1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	frames := <-got
	if len(frames) != 3 ||
		frames[0].Type != protocol.TypeNickname ||
		frames[1].Type != protocol.TypeMessage || frames[1].Text != "hello" ||
		frames[2].Type != protocol.TypeDisconnect {
		t.Fatalf("unexpected frames %+v", frames)
	}
	if !strings.HasPrefix(out.String(), "ChatClient started with server IP: 127.0.0.1, port: "+strconv.Itoa(port)+", nickname: alice, client ID: c1, Date/Time: ") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}
