package rtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const negotiateTimeout = 15 * time.Second

// subscriber receives one remote stream.
type subscriber struct {
	sess     *Session
	rpc      *rpcConn
	remote   core.RemoteStream
	streamID string
	stats    *statsSink

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	peer   *peer
	closed bool
}

func newSubscriber(s *Session, rpc *rpcConn, rs core.RemoteStream) *subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscriber{
		sess:     s,
		rpc:      rpc,
		remote:   rs,
		streamID: rs.StreamID,
		stats:    &statsSink{},
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (sub *subscriber) StreamID() string { return sub.streamID }

func (sub *subscriber) Stats() core.MediaStats { return sub.stats.Stats() }

func (sub *subscriber) peerConn() *peer {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.peer
}

func (sub *subscriber) negotiate() {
	logger := log.With().Str("module", "rtc.subscriber").Str("stream", sub.streamID).Logger()
	ctx, cancel := context.WithTimeout(sub.ctx, negotiateTimeout)
	defer cancel()

	p, err := newPeer(sub.sess.engine.api, sub.sess.engine.cfg, "subscriber:"+sub.streamID)
	if err != nil {
		sub.fail(err)
		return
	}
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		p.Close()
		return
	}
	sub.peer = p
	sub.mu.Unlock()

	p.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r := newRelay(track)
		r.AddSink("stats", sub.stats)
		rl := logger.With().Str("kind", track.Kind().String()).Logger()
		go r.loop(ctx, &rl)
	})
	p.OnFailed(func() { sub.sess.raise("ICE_CONNECTION_FAILED", "subscriber connection failed", sub.streamID) })

	if sub.remote.HasVideo {
		if err := p.AddRecv(webrtc.RTPCodecTypeVideo); err != nil {
			sub.fail(err)
			return
		}
	}
	if sub.remote.HasAudio {
		if err := p.AddRecv(webrtc.RTPCodecTypeAudio); err != nil {
			sub.fail(err)
			return
		}
	}

	offer, err := p.CreateOffer(ctx)
	if err != nil {
		sub.fail(err)
		return
	}
	var res sdpResult
	if err := sub.rpc.Call(ctx, "receiveVideoFrom", map[string]any{"sender": sub.streamID, "sdpOffer": offer}, &res); err != nil {
		sub.fail(err)
		return
	}
	if err := p.ApplyAnswer(res.SDPAnswer); err != nil {
		sub.fail(err)
		return
	}
	logger.Info().Msg("subscribed")
}

func (sub *subscriber) fail(err error) {
	sub.mu.Lock()
	closed := sub.closed
	sub.mu.Unlock()
	if closed {
		return
	}
	log.Error().Err(err).Str("module", "rtc.subscriber").Str("stream", sub.streamID).Msg("subscribe failed")
	sub.sess.raise("SUBSCRIBE_FAILED", err.Error(), sub.streamID)
}

// shutdown releases local resources without notifying the server.
func (sub *subscriber) shutdown() bool {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return false
	}
	sub.closed = true
	p := sub.peer
	sub.mu.Unlock()

	sub.cancel()
	if p != nil {
		p.Close()
	}
	return true
}

func (sub *subscriber) Close() error {
	if !sub.shutdown() {
		return nil
	}
	sub.sess.dropSubscriber(sub)
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	err := sub.rpc.Call(ctx, "unsubscribeFromVideo", map[string]any{"sender": sub.streamID}, nil)
	if errors.Is(err, ErrRPCClosed) {
		return nil
	}
	return err
}
