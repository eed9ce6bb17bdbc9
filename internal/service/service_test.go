package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/fateweaver/internal/bus"
	"github.com/loqalabs/fateweaver/internal/config"
	"github.com/loqalabs/fateweaver/internal/llm"
	"github.com/loqalabs/fateweaver/internal/natsserver"
	"github.com/loqalabs/fateweaver/internal/pipeline"
	"github.com/loqalabs/fateweaver/internal/protocol"
	"github.com/loqalabs/fateweaver/internal/world"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startService(t *testing.T) (*bus.Client, *Service) {
	t.Helper()
	log := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	p, err := pipeline.New(pipeline.Options{
		Generator: llm.NewMockGenerator(),
		World:     world.New([]world.Character{{Name: "Brom"}}, nil),
		Logger:    log,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	svc := NewService(context.Background(), config.ServiceConfig{Enabled: true}, client, pipeline.NewSessions(p), log)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("service should be healthy after start")
	}
	return client, svc
}

func TestTurnRequestReply(t *testing.T) {
	client, _ := startService(t)

	events := make(chan protocol.TurnCompleted, 1)
	sub, err := client.Conn().Subscribe(protocol.SubjectTurnCompleted, func(msg *nats.Msg) {
		var evt protocol.TurnCompleted
		if err := json.Unmarshal(msg.Data, &evt); err == nil {
			events <- evt
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var reply protocol.TurnReply
	if err := client.RequestJSON(ctx, protocol.SubjectTurnRequest, protocol.TurnRequest{Message: "I open the door."}, &reply); err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.SessionID == "" || reply.Error != "" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if reply.Speaker != "Narrator" || reply.Text != "[mock] The world considers: I open the door." {
		t.Fatalf("unexpected reply content %+v", reply)
	}

	select {
	case evt := <-events:
		if evt.SessionID != reply.SessionID || evt.User.Text != "I open the door." || evt.Reply.Speaker != "Narrator" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for turn event")
	}

	var second protocol.TurnReply
	if err := client.RequestJSON(ctx, protocol.SubjectTurnRequest, protocol.TurnRequest{SessionID: reply.SessionID, Message: "I step inside."}, &second); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if second.SessionID != reply.SessionID {
		t.Fatalf("session id should be kept, got %q", second.SessionID)
	}
}

func TestEmptyMessageIsRejected(t *testing.T) {
	client, _ := startService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var reply protocol.TurnReply
	if err := client.RequestJSON(ctx, protocol.SubjectTurnRequest, protocol.TurnRequest{SessionID: "s1"}, &reply); err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Error != pipeline.ErrEmptyMessage.Error() || reply.Text != "" {
		t.Fatalf("expected empty message error, got %+v", reply)
	}
}

func TestMalformedRequest(t *testing.T) {
	client, _ := startService(t)
	msg, err := client.Conn().Request(protocol.SubjectTurnRequest, []byte("{not json"), 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply protocol.TurnReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Error == "" {
		t.Fatal("expected error reply for malformed request")
	}
}

func TestSessionTurnsKeepSendOrder(t *testing.T) {
	client, svc := startService(t)
	const n = 20

	inbox := nats.NewInbox()
	replies := make(chan *nats.Msg, n)
	sub, err := client.Conn().ChanSubscribe(inbox, replies)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	for i := 0; i < n; i++ {
		data, err := json.Marshal(protocol.TurnRequest{SessionID: "s1", Message: fmt.Sprintf("turn %d", i)})
		if err != nil {
			t.Fatal(err)
		}
		if err := client.Conn().PublishRequest(protocol.SubjectTurnRequest, inbox, data); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(10 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case msg := <-replies:
			var reply protocol.TurnReply
			if err := json.Unmarshal(msg.Data, &reply); err != nil {
				t.Fatal(err)
			}
			if reply.Error != "" {
				t.Fatalf("reply %d failed: %s", i, reply.Error)
			}
		case <-deadline:
			t.Fatalf("timed out after %d of %d replies", i, n)
		}
	}

	var users []string
	for _, turn := range svc.sessions.Get("s1").History() {
		if turn.FromUser() {
			users = append(users, turn.Text)
		}
	}
	if len(users) != n {
		t.Fatalf("expected %d user turns, got %d", n, len(users))
	}
	for i, text := range users {
		if want := fmt.Sprintf("turn %d", i); text != want {
			t.Fatalf("user turn %d is %q, want %q", i, text, want)
		}
	}
}

func TestRequestsAfterCloseAreRefused(t *testing.T) {
	_, svc := startService(t)
	svc.Close()

	svc.enqueue(job{msg: &nats.Msg{}, req: protocol.TurnRequest{SessionID: "late", Message: "hello"}})
	if _, ok := svc.sessions.Lookup("late"); ok {
		t.Fatal("closed service should not start new sessions")
	}
}
