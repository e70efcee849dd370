package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const leaveTimeout = 3 * time.Second

var (
	ErrNotConnected   = errors.New("session not connected")
	ErrNoTracks       = errors.New("local stream carries no webrtc tracks")
	ErrAlreadyPublish = errors.New("already publishing")
)

// TrackSource is implemented by local streams that can be published.
type TrackSource interface {
	Tracks() []webrtc.TrackLocal
}

type remoteStreamInfo struct {
	ID       string `json:"id"`
	HasAudio bool   `json:"hasAudio"`
	HasVideo bool   `json:"hasVideo"`
}

type remoteParticipant struct {
	ID       string             `json:"id"`
	Metadata string             `json:"metadata"`
	Streams  []remoteStreamInfo `json:"streams"`
}

type joinResult struct {
	ID    string              `json:"id"`
	Value []remoteParticipant `json:"value"`
}

type sdpResult struct {
	ID        string `json:"id"`
	SDPAnswer string `json:"sdpAnswer"`
}

type iceCandidateEvent struct {
	SenderConnectionID string `json:"senderConnectionId"`
	EndpointName       string `json:"endpointName"`
	Candidate          string `json:"candidate"`
	SDPMid             string `json:"sdpMid"`
	SDPMLineIndex      uint16 `json:"sdpMLineIndex"`
}

type connectionEvent struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason"`
}

// Session implements core.EngineSession.
type Session struct {
	engine *Engine

	mu        sync.Mutex
	handlers  core.SessionHandlers
	rpc       *rpcConn
	connID    string
	pub       *peer
	pubStream string
	metadata  map[string]string   // connection id -> metadata
	streams   map[string][]string // connection id -> stream ids
	subs      map[string]*subscriber
	closed    bool
}

func newSession(e *Engine) *Session {
	return &Session{
		engine:   e,
		metadata: make(map[string]string),
		streams:  make(map[string][]string),
		subs:     make(map[string]*subscriber),
	}
}

func (s *Session) SetHandlers(h core.SessionHandlers) {
	s.mu.Lock()
	s.handlers = h
	s.mu.Unlock()
}

func (s *Session) handlersCopy() core.SessionHandlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

// signalingURL resolves the websocket endpoint and session id from token.
func (s *Session) signalingURL(token string) (string, string, error) {
	u, err := url.Parse(token)
	if err == nil && (u.Scheme == "ws" || u.Scheme == "wss") {
		sessionID := u.Query().Get("sessionId")
		ws := *u
		ws.RawQuery = ""
		if ws.Path == "" || ws.Path == "/" {
			ws.Path = "/openvidu"
		}
		return ws.String(), sessionID, nil
	}
	if s.engine.opts.ServerURL == "" {
		return "", "", fmt.Errorf("token is not a websocket url and no server url configured")
	}
	return s.engine.opts.ServerURL, "", nil
}

func (s *Session) Connect(ctx context.Context, token, metadata string) error {
	wsURL, sessionID, err := s.signalingURL(token)
	if err != nil {
		return err
	}
	rpc, err := dialRPC(ctx, s.engine.opts.Dialer, wsURL, s.onNotification, s.engine.opts.PingPeriod)
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = rpc.Close()
		return ErrNotConnected
	}
	s.rpc = rpc
	s.mu.Unlock()

	var res joinResult
	params := map[string]any{
		"token":    token,
		"session":  sessionID,
		"metadata": metadata,
		"platform": "Go",
		"secret":   "",
		"recorder": false,
	}
	if err := rpc.Call(ctx, "joinRoom", params, &res); err != nil {
		_ = rpc.Close()
		return fmt.Errorf("join room: %w", err)
	}

	s.mu.Lock()
	s.connID = res.ID
	for _, p := range res.Value {
		s.metadata[p.ID] = p.Metadata
	}
	s.mu.Unlock()
	log.Info().Str("module", "rtc.session").Str("connection", res.ID).Int("existing", len(res.Value)).Msg("joined room")

	for _, p := range res.Value {
		s.announce(p.ID, p.Metadata, p.Streams)
	}
	return nil
}

func (s *Session) announce(connID, metadata string, streams []remoteStreamInfo) {
	h := s.handlersCopy()
	for _, st := range streams {
		s.mu.Lock()
		s.streams[connID] = append(s.streams[connID], st.ID)
		s.mu.Unlock()
		if h.OnStreamCreated != nil {
			h.OnStreamCreated(core.RemoteStream{
				StreamID:     st.ID,
				ConnectionID: connID,
				Metadata:     metadata,
				HasAudio:     st.HasAudio,
				HasVideo:     st.HasVideo,
			})
		}
	}
}

func (s *Session) withdraw(connID string) {
	s.mu.Lock()
	ids := s.streams[connID]
	delete(s.streams, connID)
	s.mu.Unlock()
	h := s.handlersCopy()
	for _, id := range ids {
		if h.OnStreamDestroyed != nil {
			h.OnStreamDestroyed(core.RemoteStream{StreamID: id, ConnectionID: connID})
		}
	}
}

func (s *Session) raise(name, message, origin string) {
	if h := s.handlersCopy(); h.OnException != nil {
		h.OnException(core.EngineException{Name: name, Message: message, Origin: origin})
	}
}

func (s *Session) onNotification(method string, params []byte) {
	logger := log.With().Str("module", "rtc.session").Str("method", method).Logger()
	switch method {
	case "participantJoined":
		var p remoteParticipant
		if err := json.Unmarshal(params, &p); err != nil {
			logger.Error().Err(err).Msg("bad params")
			return
		}
		s.mu.Lock()
		s.metadata[p.ID] = p.Metadata
		s.mu.Unlock()
	case "participantPublished":
		var p remoteParticipant
		if err := json.Unmarshal(params, &p); err != nil {
			logger.Error().Err(err).Msg("bad params")
			return
		}
		s.mu.Lock()
		if p.Metadata == "" {
			p.Metadata = s.metadata[p.ID]
		}
		s.mu.Unlock()
		s.announce(p.ID, p.Metadata, p.Streams)
	case "participantUnpublished":
		var ev connectionEvent
		if err := json.Unmarshal(params, &ev); err != nil {
			logger.Error().Err(err).Msg("bad params")
			return
		}
		s.withdraw(ev.ConnectionID)
	case "participantLeft":
		var ev connectionEvent
		if err := json.Unmarshal(params, &ev); err != nil {
			logger.Error().Err(err).Msg("bad params")
			return
		}
		s.withdraw(ev.ConnectionID)
		s.mu.Lock()
		delete(s.metadata, ev.ConnectionID)
		s.mu.Unlock()
	case "participantEvicted":
		var ev connectionEvent
		_ = json.Unmarshal(params, &ev)
		s.raise("PARTICIPANT_EVICTED", ev.Reason, ev.ConnectionID)
	case "iceCandidate":
		var ev iceCandidateEvent
		if err := json.Unmarshal(params, &ev); err != nil {
			logger.Error().Err(err).Msg("bad params")
			return
		}
		s.addRemoteCandidate(ev)
	case "roomClosed":
		s.raise("ROOM_CLOSED", "session closed by server", "")
	case "mediaError":
		var ev struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(params, &ev)
		s.raise("MEDIA_ERROR", ev.Error, "")
	default:
		logger.Debug().Msg("unhandled notification")
	}
}

func (s *Session) addRemoteCandidate(ev iceCandidateEvent) {
	ci := webrtc.ICECandidateInit{Candidate: ev.Candidate, SDPMid: &ev.SDPMid, SDPMLineIndex: &ev.SDPMLineIndex}
	s.mu.Lock()
	var target *peer
	if ev.EndpointName == s.pubStream || ev.EndpointName == s.connID {
		target = s.pub
	} else if sub, ok := s.subs[ev.EndpointName]; ok {
		target = sub.peerConn()
	}
	s.mu.Unlock()
	if target == nil {
		return
	}
	if err := target.AddICECandidate(ci); err != nil {
		log.Debug().Err(err).Str("module", "rtc.session").Str("endpoint", ev.EndpointName).Msg("add candidate")
	}
}

func (s *Session) conn() (*rpcConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rpc == nil || s.closed {
		return nil, ErrNotConnected
	}
	return s.rpc, nil
}

func (s *Session) Publish(ctx context.Context, stream core.LocalStream) error {
	rpc, err := s.conn()
	if err != nil {
		return err
	}
	src, ok := stream.(TrackSource)
	if !ok || len(src.Tracks()) == 0 {
		return ErrNoTracks
	}
	s.mu.Lock()
	busy := s.pub != nil
	s.mu.Unlock()
	if busy {
		return ErrAlreadyPublish
	}

	p, err := newPeer(s.engine.api, s.engine.cfg, "publisher:"+stream.ID())
	if err != nil {
		return err
	}
	var hasAudio, hasVideo bool
	for _, t := range src.Tracks() {
		if err := p.AddSendTrack(t); err != nil {
			p.Close()
			return err
		}
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			hasAudio = true
		case webrtc.RTPCodecTypeVideo:
			hasVideo = true
		}
	}
	offer, err := p.CreateOffer(ctx)
	if err != nil {
		p.Close()
		return err
	}

	opts := stream.Options()
	dims, _ := json.Marshal(map[string]int{"width": opts.Width, "height": opts.Height})
	var res sdpResult
	err = rpc.Call(ctx, "publishVideo", map[string]any{
		"sdpOffer":        offer,
		"doLoopback":      false,
		"hasAudio":        hasAudio,
		"hasVideo":        hasVideo,
		"audioActive":     opts.AudioEnabled,
		"videoActive":     opts.VideoEnabled,
		"typeOfVideo":     "CAMERA",
		"frameRate":       opts.FrameRate,
		"videoDimensions": string(dims),
	}, &res)
	if err != nil {
		p.Close()
		return err
	}
	if err := p.ApplyAnswer(res.SDPAnswer); err != nil {
		p.Close()
		return err
	}
	p.OnFailed(func() { s.raise("ICE_CONNECTION_FAILED", "publisher connection failed", res.ID) })

	s.mu.Lock()
	s.pub, s.pubStream = p, res.ID
	s.mu.Unlock()
	log.Info().Str("module", "rtc.session").Str("stream", res.ID).Str("local", stream.ID()).Msg("published")
	return nil
}

func (s *Session) Unpublish(ctx context.Context, stream core.LocalStream) error {
	s.mu.Lock()
	p := s.pub
	s.pub, s.pubStream = nil, ""
	rpc, closed := s.rpc, s.closed
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	defer p.Close()
	if rpc == nil || closed {
		return nil
	}
	return rpc.Call(ctx, "unpublishVideo", map[string]any{}, nil)
}

// Subscribe starts negotiation in the background and returns immediately.
func (s *Session) Subscribe(rs core.RemoteStream) (core.Subscriber, error) {
	rpc, err := s.conn()
	if err != nil {
		return nil, err
	}
	sub := newSubscriber(s, rpc, rs)
	s.mu.Lock()
	s.subs[rs.StreamID] = sub
	s.mu.Unlock()
	go sub.negotiate()
	return sub, nil
}

func (s *Session) dropSubscriber(sub *subscriber) {
	s.mu.Lock()
	if s.subs[sub.streamID] == sub {
		delete(s.subs, sub.streamID)
	}
	s.mu.Unlock()
}

// Disconnect leaves the room and closes every peer. Idempotent.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	rpc, pub := s.rpc, s.pub
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[string]*subscriber)
	s.pub = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	if pub != nil {
		pub.Close()
	}
	if rpc == nil {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, leaveTimeout)
	defer cancel()
	if err := rpc.Call(lctx, "leaveRoom", map[string]any{}, nil); err != nil {
		log.Warn().Err(err).Str("module", "rtc.session").Msg("leaveRoom")
	}
	return rpc.Close()
}
