package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/fateweaver/internal/bus"
	"github.com/loqalabs/fateweaver/internal/config"
	"github.com/loqalabs/fateweaver/internal/conversation"
	"github.com/loqalabs/fateweaver/internal/pipeline"
	"github.com/loqalabs/fateweaver/internal/protocol"
)

// queueDepth bounds the pending turns per session. A full queue blocks
// delivery, which pushes back on the subscription.
const queueDepth = 32

type job struct {
	msg *nats.Msg
	req protocol.TurnRequest
}

// Service answers turn requests arriving on the bus and broadcasts each
// completed turn. Each session has one worker fed in delivery order, so turns
// of a session run in the order they were sent while sessions proceed in
// parallel.
type Service struct {
	cfg      config.ServiceConfig
	bus      *bus.Client
	sessions *pipeline.Sessions
	logger   *slog.Logger
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu     sync.Mutex
	queues map[string]chan job
	closed bool
}

func NewService(parent context.Context, cfg config.ServiceConfig, busClient *bus.Client, sessions *pipeline.Sessions, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if cfg.RequestSubject == "" {
		cfg.RequestSubject = protocol.SubjectTurnRequest
	}
	if cfg.EventSubject == "" {
		cfg.EventSubject = protocol.SubjectTurnCompleted
	}
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "service")),
		ctx:      ctx,
		cancel:   cancel,
		queues:   make(map[string]chan job),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(s.cfg.RequestSubject, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("turn service listening", slog.String("subject", s.cfg.RequestSubject))
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.cancel()
	s.mu.Lock()
	s.closed = true
	for id, q := range s.queues {
		close(q)
		delete(s.queues, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

// handleRequest runs on the subscription's delivery goroutine, one message at
// a time, and queues each request behind earlier ones for the same session.
func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TurnRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("service failed to decode turn request", slogError(err))
		s.respond(msg, protocol.TurnReply{Error: "invalid request"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	s.enqueue(job{msg: msg, req: req})
}

func (s *Service) enqueue(j job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.respond(j.msg, protocol.TurnReply{SessionID: j.req.SessionID, Error: "service closing"})
		return
	}
	q, ok := s.queues[j.req.SessionID]
	if !ok {
		q = make(chan job, queueDepth)
		s.queues[j.req.SessionID] = q
		s.wg.Add(1)
		go s.work(q)
	}
	q <- j
}

func (s *Service) work(q <-chan job) {
	defer s.wg.Done()
	for j := range q {
		s.respond(j.msg, s.answer(j.req))
	}
}

func (s *Service) answer(req protocol.TurnRequest) protocol.TurnReply {
	sess := s.sessions.Get(req.SessionID)
	result, err := sess.Send(s.ctx, req.Message)
	if err != nil {
		reply := protocol.TurnReply{SessionID: req.SessionID, Error: err.Error()}
		if !errors.Is(err, pipeline.ErrEmptyMessage) {
			s.logger.Warn("turn failed", slog.String("session_id", req.SessionID), slogError(err))
		}
		return reply
	}

	event := protocol.TurnCompleted{
		SessionID: req.SessionID,
		TraceID:   req.TraceID,
		User:      conversation.Turn{Speaker: conversation.UserSpeaker, Text: req.Message},
		Reply:     result.Turn(),
		Location:  result.Location,
		AudioPath: result.AudioPath,
		Timestamp: time.Now().UTC(),
	}
	if s.cfg.EventSubject != "" {
		if err := s.bus.PublishJSON(s.cfg.EventSubject, event); err != nil {
			s.logger.Warn("service failed to publish turn event", slogError(err))
		}
	}
	return ReplyFromResult(req.SessionID, result)
}

func (s *Service) respond(msg *nats.Msg, reply protocol.TurnReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("service failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("service failed to send reply", slogError(err))
	}
}

// ReplyFromResult maps a pipeline result onto the wire shape.
func ReplyFromResult(sessionID string, r pipeline.Result) protocol.TurnReply {
	return protocol.TurnReply{
		SessionID:    sessionID,
		Speaker:      r.Speaker,
		Text:         r.Text,
		Location:     r.Location,
		DisplayLine:  r.DisplayLine,
		AudioPath:    r.AudioPath,
		AudioDataURI: r.AudioDataURI,
		Method:       string(r.Method),
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
