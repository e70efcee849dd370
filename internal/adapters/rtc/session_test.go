package rtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/vidcall/internal/core"
	"github.com/goccy/go-json"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	created   []core.RemoteStream
	destroyed []core.RemoteStream
	ex        []core.EngineException
}

func (r *recorder) handlers() core.SessionHandlers {
	return core.SessionHandlers{
		OnStreamCreated: func(rs core.RemoteStream) {
			r.mu.Lock()
			r.created = append(r.created, rs)
			r.mu.Unlock()
		},
		OnStreamDestroyed: func(rs core.RemoteStream) {
			r.mu.Lock()
			r.destroyed = append(r.destroyed, rs)
			r.mu.Unlock()
		},
		OnException: func(ex core.EngineException) {
			r.mu.Lock()
			r.ex = append(r.ex, ex)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created), len(r.destroyed), len(r.ex)
}

func connectSession(t *testing.T, fs *fakeServer, rec *recorder) *Session {
	t.Helper()
	eng, err := NewEngine(Options{PingPeriod: time.Hour})
	require.NoError(t, err)
	es, err := eng.InitSession()
	require.NoError(t, err)
	s := es.(*Session)
	s.SetHandlers(rec.handlers())

	token := fs.URL() + "/openvidu?sessionId=SessionA&token=tok_1"
	require.NoError(t, s.Connect(context.Background(), token, `{"clientData":"Alice"}`))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s
}

func TestConnectAnnouncesExistingStreams(t *testing.T) {
	fs := newFakeServer(t)
	var joinParams map[string]any
	fs.Reply("joinRoom", func(params []byte) (any, error) {
		_ = json.Unmarshal(params, &joinParams)
		return joinResult{
			ID: "con_self",
			Value: []remoteParticipant{
				{ID: "con_bob", Metadata: `{"clientData":"Bob"}%/%srv`, Streams: []remoteStreamInfo{{ID: "str_bob", HasAudio: true, HasVideo: true}}},
				{ID: "con_idle", Metadata: `{"clientData":"Idle"}`},
			},
		}, nil
	})

	rec := &recorder{}
	connectSession(t, fs, rec)

	require.Equal(t, "SessionA", joinParams["session"])
	require.Equal(t, `{"clientData":"Alice"}`, joinParams["metadata"])

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.created, 1)
	require.Equal(t, "con_bob", rec.created[0].ConnectionID)
	require.Equal(t, "str_bob", rec.created[0].StreamID)
	require.True(t, rec.created[0].HasVideo)
}

func TestNotificationsDriveHandlers(t *testing.T) {
	fs := newFakeServer(t)
	fs.Reply("joinRoom", func([]byte) (any, error) {
		return joinResult{ID: "con_self"}, nil
	})
	rec := &recorder{}
	connectSession(t, fs, rec)

	fs.Notify("participantJoined", map[string]any{"id": "con_bob", "metadata": `{"clientData":"Bob"}`})
	fs.Notify("participantPublished", map[string]any{"id": "con_bob", "streams": []map[string]any{{"id": "str_bob", "hasVideo": true}}})
	require.Eventually(t, func() bool { c, _, _ := rec.counts(); return c == 1 }, 2*time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	require.Equal(t, `{"clientData":"Bob"}`, rec.created[0].Metadata)
	rec.mu.Unlock()

	fs.Notify("participantLeft", map[string]any{"connectionId": "con_bob", "reason": "disconnect"})
	require.Eventually(t, func() bool { _, d, _ := rec.counts(); return d == 1 }, 2*time.Second, 5*time.Millisecond)

	// Nothing left to withdraw.
	fs.Notify("participantUnpublished", map[string]any{"connectionId": "con_bob"})
	fs.Notify("roomClosed", map[string]any{"sessionId": "SessionA"})
	require.Eventually(t, func() bool { _, _, e := rec.counts(); return e == 1 }, 2*time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.destroyed, 1)
	require.Equal(t, "str_bob", rec.destroyed[0].StreamID)
	require.Equal(t, "ROOM_CLOSED", rec.ex[0].Name)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	fs.Reply("joinRoom", func([]byte) (any, error) { return joinResult{ID: "con_self"}, nil })
	s := connectSession(t, fs, &recorder{})

	require.NoError(t, s.Disconnect(context.Background()))
	require.NoError(t, s.Disconnect(context.Background()))
	require.Contains(t, fs.Methods(), "leaveRoom")

	_, err := s.Subscribe(core.RemoteStream{StreamID: "str_x"})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectRejectedByServer(t *testing.T) {
	fs := newFakeServer(t)
	fs.Reply("joinRoom", func([]byte) (any, error) {
		return nil, &jsonrpc2.Error{Code: 401, Message: "token invalid"}
	})
	eng, err := NewEngine(Options{})
	require.NoError(t, err)
	es, _ := eng.InitSession()
	es.SetHandlers((&recorder{}).handlers())

	err = es.Connect(context.Background(), fs.URL()+"?sessionId=SessionA&token=bad", "{}")
	require.Error(t, err)
	require.NoError(t, es.Disconnect(context.Background()))
}

func TestSignalingURL(t *testing.T) {
	s := newSession(&Engine{opts: Options{ServerURL: "wss://fallback/openvidu"}})

	u, sid, err := s.signalingURL("wss://media.example:4443?sessionId=SessionA&token=tok_1")
	require.NoError(t, err)
	require.Equal(t, "wss://media.example:4443/openvidu", u)
	require.Equal(t, "SessionA", sid)

	u, sid, err = s.signalingURL("opaque-token")
	require.NoError(t, err)
	require.Equal(t, "wss://fallback/openvidu", u)
	require.Empty(t, sid)

	_, _, err = newSession(&Engine{}).signalingURL("opaque-token")
	require.Error(t, err)
}
