package esl

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeSwitch plays the server side of one event socket connection.
type fakeSwitch struct {
	ln       net.Listener
	accepted chan net.Conn
}

func newFakeSwitch(t *testing.T) *fakeSwitch {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeSwitch{ln: ln, accepted: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			f.accepted <- c
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeSwitch) addr() string { return f.ln.Addr().String() }

type serverConn struct {
	t  *testing.T
	nc net.Conn
	r  *bufio.Reader
}

func (f *fakeSwitch) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case c := <-f.accepted:
		t.Cleanup(func() { _ = c.Close() })
		return &serverConn{t: t, nc: c, r: bufio.NewReader(c)}
	case <-time.After(2 * time.Second):
		t.Fatalf("no connection accepted")
		return nil
	}
}

func (s *serverConn) send(raw string) {
	if _, err := io.WriteString(s.nc, raw); err != nil {
		s.t.Errorf("server write: %v", err)
	}
}

func (s *serverConn) readCommand() string {
	var lines []string
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			s.t.Errorf("server read: %v", err)
			return ""
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

func (s *serverConn) handshake(password string) {
	s.send("Content-Type: auth/request\n\n")
	if got := s.readCommand(); got != "auth "+password {
		s.send("Content-Type: command/reply\nReply-Text: -ERR invalid\n\n")
		return
	}
	s.send("Content-Type: command/reply\nReply-Text: +OK accepted\n\n")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func waitConnected(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !s.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("session did not connect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSession_SubscribesAndDeliversEventsInOrder(t *testing.T) {
	sw := newFakeSwitch(t)
	s := NewSession(Config{
		Addr:       sw.addr(),
		Password:   "ClueCon",
		Events:     []string{"CHANNEL_ANSWER", "CUSTOM", "BACKGROUND_JOB"},
		Subclasses: []string{"sofia::register"},
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	srv := sw.accept(t)
	srv.handshake("ClueCon")
	if got := srv.readCommand(); got != "event plain CHANNEL_ANSWER BACKGROUND_JOB CUSTOM sofia::register" {
		t.Fatalf("unexpected subscription %q", got)
	}
	srv.send("Content-Type: command/reply\nReply-Text: +OK event listener enabled plain\n\n")
	waitConnected(t, s)

	for _, id := range []string{"a", "b", "c"} {
		srv.send(frame(ctEventPlain, "Event-Name: CHANNEL_ANSWER\nUnique-ID: "+id+"\n\n"))
	}
	for _, want := range []string{"a", "b", "c"} {
		select {
		case ev := <-s.Events():
			if got := ev.Get("Unique-ID"); got != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %q not delivered", want)
		}
	}

	_ = s.Close()
	_ = s.Close()
}

func TestSession_BackgroundTagsJobUUID(t *testing.T) {
	sw := newFakeSwitch(t)
	s := NewSession(Config{Addr: sw.addr(), Password: "pw"}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	srv := sw.accept(t)
	srv.handshake("pw")
	if got := srv.readCommand(); got != "event plain ALL" {
		t.Fatalf("unexpected subscription %q", got)
	}
	srv.send("Content-Type: command/reply\nReply-Text: +OK\n\n")
	waitConnected(t, s)

	go func() {
		cmd := srv.readCommand()
		if cmd != "bgapi status\nJob-UUID: job-1" {
			srv.send("Content-Type: command/reply\nReply-Text: -ERR unexpected\n\n")
			return
		}
		srv.send("Content-Type: command/reply\nReply-Text: +OK Job-UUID: job-1\nJob-UUID: job-1\n\n")

		srv.readCommand()
		srv.send("Content-Type: command/reply\nReply-Text: -ERR no such command\n\n")
	}()

	rep, err := s.Background(context.Background(), "status", "job-1")
	if err != nil {
		t.Fatalf("background: %v", err)
	}
	if rep != nil {
		t.Fatalf("expected accepted job, got %#v", rep)
	}

	rep, err = s.Background(context.Background(), "nope", "job-2")
	if err != nil {
		t.Fatalf("background: %v", err)
	}
	er, ok := rep.(EventReply)
	if !ok || er.Body["response"] != "-ERR no such command" {
		t.Fatalf("expected immediate EventReply, got %#v", rep)
	}
	_ = s.Close()
}

func TestSession_BackgroundNotConnected(t *testing.T) {
	s := NewSession(Config{Addr: "127.0.0.1:1"}, testLogger())
	if _, err := s.Background(context.Background(), "status", "j"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSession_ReconnectsAfterDisconnectNotice(t *testing.T) {
	sw := newFakeSwitch(t)
	var states []bool
	stateCh := make(chan bool, 8)
	s := NewSession(Config{Addr: sw.addr(), Password: "pw", ReconnectDelay: 10 * time.Millisecond}, testLogger())
	s.OnStateChange(func(connected bool) { stateCh <- connected })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	first := sw.accept(t)
	first.handshake("pw")
	first.readCommand()
	first.send("Content-Type: command/reply\nReply-Text: +OK\n\n")
	first.send("Content-Type: text/disconnect-notice\n\n")

	second := sw.accept(t)
	second.handshake("pw")
	second.readCommand()
	second.send("Content-Type: command/reply\nReply-Text: +OK\n\n")

	for len(states) < 3 {
		select {
		case st := <-stateCh:
			states = append(states, st)
		case <-time.After(2 * time.Second):
			t.Fatalf("state transitions missing: %v", states)
		}
	}
	if !states[0] || states[1] || !states[2] {
		t.Fatalf("unexpected transitions: %v", states)
	}
	_ = s.Close()
}

func TestSession_AuthFailure(t *testing.T) {
	sw := newFakeSwitch(t)
	s := NewSession(Config{Addr: sw.addr(), Password: "wrong"}, testLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- s.runOnce(context.Background()) }()

	srv := sw.accept(t)
	srv.handshake("right")

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrAuthFailed) {
			t.Fatalf("expected ErrAuthFailed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runOnce did not return")
	}
}

func TestSession_BackgroundConnectionLost(t *testing.T) {
	sw := newFakeSwitch(t)
	s := NewSession(Config{Addr: sw.addr(), Password: "pw", ReconnectDelay: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	srv := sw.accept(t)
	srv.handshake("pw")
	srv.readCommand()
	srv.send("Content-Type: command/reply\nReply-Text: +OK\n\n")
	waitConnected(t, s)

	go func() {
		srv.readCommand()
		srv.send("Content-Type: text/disconnect-notice\n\n")
	}()

	rep, err := s.Background(context.Background(), "status", "job-1")
	if err != nil {
		t.Fatalf("expected failure as reply, got error %v", err)
	}
	fr, ok := rep.(FailureReply)
	if !ok || !errors.Is(fr.Err, ErrDisconnected) {
		t.Fatalf("expected FailureReply wrapping ErrDisconnected, got %#v", rep)
	}
	_ = s.Close()
}

func TestSession_BackgroundRejectsFramingCharacters(t *testing.T) {
	sw := newFakeSwitch(t)
	s := NewSession(Config{Addr: sw.addr(), Password: "pw"}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	srv := sw.accept(t)
	srv.handshake("pw")
	srv.readCommand()
	srv.send("Content-Type: command/reply\nReply-Text: +OK\n\n")
	waitConnected(t, s)

	for _, cmd := range []string{"log INFO hi\n\napi fsctl shutdown", "status\r", "status\nX-Extra: 1", " "} {
		if _, err := s.Background(context.Background(), cmd, "j1"); !errors.Is(err, ErrInvalidCommand) {
			t.Fatalf("Background(%q): expected ErrInvalidCommand, got %v", cmd, err)
		}
	}
	if _, err := s.Background(context.Background(), "status", "j1\n\napi x"); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand for job id, got %v", err)
	}

	got := make(chan string, 1)
	go func() {
		got <- srv.readCommand()
		srv.send("Content-Type: command/reply\nReply-Text: -ERR rejected\n\n")
	}()
	rep, err := s.Background(context.Background(), "status", "j2")
	if err != nil {
		t.Fatalf("background: %v", err)
	}
	if cmd := <-got; cmd != "bgapi status\nJob-UUID: j2" {
		t.Fatalf("expected only the valid command on the wire, got %q", cmd)
	}
	if er, ok := rep.(EventReply); !ok || er.Body["response"] != "-ERR rejected" {
		t.Fatalf("expected the reply to j2, got %#v", rep)
	}
	_ = s.Close()
}

func TestSession_UnsolicitedReplyDropped(t *testing.T) {
	sw := newFakeSwitch(t)
	s := NewSession(Config{Addr: sw.addr(), Password: "pw"}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	srv := sw.accept(t)
	srv.handshake("pw")
	srv.readCommand()
	srv.send("Content-Type: command/reply\nReply-Text: +OK\n\n")
	waitConnected(t, s)

	// Two stray replies would fill any one-slot buffer and stall the reader.
	srv.send("Content-Type: command/reply\nReply-Text: +OK stray one\n\n")
	srv.send("Content-Type: api/response\nContent-Length: 9\n\nstray two")
	srv.send(frame(ctEventPlain, "Event-Name: HEARTBEAT\nUnique-ID: hb\n\n"))

	select {
	case ev := <-s.Events():
		if ev.Get("Unique-ID") != "hb" {
			t.Fatalf("unexpected event %q", ev.Name())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event delivery stalled behind stray replies")
	}

	go func() {
		srv.readCommand()
		srv.send("Content-Type: command/reply\nReply-Text: -ERR mine\n\n")
	}()
	rep, err := s.Background(context.Background(), "status", "j3")
	if err != nil {
		t.Fatalf("background: %v", err)
	}
	if er, ok := rep.(EventReply); !ok || er.Body["response"] != "-ERR mine" {
		t.Fatalf("stray reply was paired with a later command: %#v", rep)
	}
	_ = s.Close()
}
