// Package rtc is the real-time engine: a JSON-RPC signaling session over a
// websocket plus one pion peer connection per published or subscribed
// stream.
package rtc

import (
	"time"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

const defaultPingPeriod = 54 * time.Second

type Options struct {
	ICEServers []string
	PingPeriod time.Duration
	// ServerURL is used when the token does not carry a websocket URL.
	ServerURL string
	Dialer    *websocket.Dialer
	// MediaEngine may come pre-populated with the capture codecs; default
	// codecs are registered otherwise.
	MediaEngine *webrtc.MediaEngine
}

// Engine implements core.Engine.
type Engine struct {
	api  *webrtc.API
	cfg  webrtc.Configuration
	opts Options
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

func NewEngine(opts Options) (*Engine, error) {
	me := opts.MediaEngine
	if me == nil {
		me = &webrtc.MediaEngine{}
		if err := me.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
	)
	return &Engine{api: api, cfg: DefaultWebRTCConfig(opts.ICEServers), opts: opts}, nil
}

func (e *Engine) InitSession() (core.EngineSession, error) {
	return newSession(e), nil
}
