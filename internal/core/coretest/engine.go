package coretest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/vidcall/internal/core"
)

var (
	ErrFake = errors.New("fake failure")
	// ErrDisconnected is returned by session calls made after Disconnect.
	ErrDisconnected = errors.New("fake session disconnected")
)

// Engine is a fake core.Engine. Every allocated session is kept for
// inspection.
type Engine struct {
	Log *CallLog
	// Configure runs on each new session before it is returned.
	Configure func(*Session)

	mu       sync.Mutex
	InitErr  error
	sessions []*Session
}

func (e *Engine) InitSession() (core.EngineSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.InitErr != nil {
		return nil, e.InitErr
	}
	s := &Session{log: e.Log, published: make(map[string]bool)}
	if e.Configure != nil {
		e.Configure(s)
	}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

func (e *Engine) Last() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

// Session is a fake core.EngineSession.
type Session struct {
	log *CallLog

	// OnConnect runs inside Connect after handlers are available, before
	// Connect returns. Used to simulate remote events racing the connect.
	OnConnect func(*Session)
	// ConnectGate blocks Connect until closed.
	ConnectGate chan struct{}
	// OnPublish runs after a successful Publish, outside the session lock.
	OnPublish func(*Session)

	mu           sync.Mutex
	handlers     core.SessionHandlers
	handlersSet  bool
	ConnectErr   error
	PublishErr   error
	UnpublishErr error
	token        string
	metadata     string
	connected    bool
	closed       bool
	disconnects  int
	published    map[string]bool
	subscribers  []*Subscriber
}

func (s *Session) SetHandlers(h core.SessionHandlers) {
	s.mu.Lock()
	s.handlers = h
	s.handlersSet = true
	s.mu.Unlock()
	s.log.Add("handlers")
}

func (s *Session) Connect(ctx context.Context, token, metadata string) error {
	s.mu.Lock()
	if !s.handlersSet {
		s.mu.Unlock()
		return errors.New("connect before handlers")
	}
	if s.closed {
		s.mu.Unlock()
		return ErrDisconnected
	}
	s.token, s.metadata = token, metadata
	gate, hook, err := s.ConnectGate, s.OnConnect, s.ConnectErr
	s.mu.Unlock()
	s.log.Add("connect:%s", token)

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if hook != nil {
		hook(s)
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisconnected
	}
	s.connected = true
	return nil
}

func (s *Session) Subscribe(stream core.RemoteStream) (core.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisconnected
	}
	sub := &Subscriber{streamID: stream.StreamID}
	s.subscribers = append(s.subscribers, sub)
	s.log.Add("subscribe:%s", stream.StreamID)
	return sub, nil
}

func (s *Session) Publish(ctx context.Context, stream core.LocalStream) error {
	s.mu.Lock()
	s.log.Add("publish:%s", stream.ID())
	if s.closed {
		s.mu.Unlock()
		return ErrDisconnected
	}
	if s.PublishErr != nil {
		s.mu.Unlock()
		return s.PublishErr
	}
	s.published[stream.ID()] = true
	hook := s.OnPublish
	s.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return nil
}

func (s *Session) Unpublish(ctx context.Context, stream core.LocalStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Add("unpublish:%s", stream.ID())
	if s.closed {
		return ErrDisconnected
	}
	if s.UnpublishErr != nil {
		return s.UnpublishErr
	}
	delete(s.published, stream.ID())
	return nil
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	s.connected = false
	s.closed = true
	// The engine drops every publication with the connection.
	clear(s.published)
	s.log.Add("disconnect")
	return nil
}

func (s *Session) SetPublishErr(err error) {
	s.mu.Lock()
	s.PublishErr = err
	s.mu.Unlock()
}

func (s *Session) SetOnPublish(hook func(*Session)) {
	s.mu.Lock()
	s.OnPublish = hook
	s.mu.Unlock()
}

func (s *Session) SetUnpublishErr(err error) {
	s.mu.Lock()
	s.UnpublishErr = err
	s.mu.Unlock()
}

// Published returns ids of currently published local streams.
func (s *Session) Published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.published))
	for id := range s.published {
		out = append(out, id)
	}
	return out
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

func (s *Session) Metadata() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata
}

func (s *Session) Subscribers() []*Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Subscriber(nil), s.subscribers...)
}

func (s *Session) handlersCopy() core.SessionHandlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

// EmitJoin simulates a remote stream being published.
func (s *Session) EmitJoin(connectionID, metadata string) core.RemoteStream {
	rs := core.RemoteStream{
		StreamID:     "str_" + connectionID,
		ConnectionID: connectionID,
		Metadata:     metadata,
		HasAudio:     true,
		HasVideo:     true,
	}
	s.EmitCreated(rs)
	return rs
}

func (s *Session) EmitCreated(rs core.RemoteStream) {
	if h := s.handlersCopy().OnStreamCreated; h != nil {
		h(rs)
	}
}

func (s *Session) EmitLeave(connectionID string) {
	s.EmitDestroyed(core.RemoteStream{ConnectionID: connectionID})
}

func (s *Session) EmitDestroyed(rs core.RemoteStream) {
	if h := s.handlersCopy().OnStreamDestroyed; h != nil {
		h(rs)
	}
}

func (s *Session) EmitException(ex core.EngineException) {
	if h := s.handlersCopy().OnException; h != nil {
		h(ex)
	}
}

// Subscriber is a fake core.Subscriber.
type Subscriber struct {
	streamID string

	mu     sync.Mutex
	closed bool
	stats  core.MediaStats
}

func (s *Subscriber) StreamID() string { return s.streamID }

func (s *Subscriber) Stats() core.MediaStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SetStats sets what Stats reports.
func (s *Subscriber) SetStats(st core.MediaStats) {
	s.mu.Lock()
	s.stats = st
	s.mu.Unlock()
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscriber) String() string { return fmt.Sprintf("sub(%s)", s.streamID) }
