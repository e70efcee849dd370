package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/vidcall/internal/app"
	"github.com/dkeye/vidcall/internal/app/orch"
	"github.com/dkeye/vidcall/internal/config"
	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/core/coretest"
	"github.com/dkeye/vidcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router  *gin.Engine
	co      *orch.Coordinator
	engine  *coretest.Engine
	devices *coretest.Devices
}

func newFixture(t *testing.T, joinLimit int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := &coretest.CallLog{}
	f := &fixture{
		engine:  &coretest.Engine{Log: log},
		devices: coretest.NewDevices(coretest.Camera("camA"), coretest.Camera("camB"), coretest.Microphone("mic1")),
	}
	registry := app.NewDeviceRegistry(f.devices)
	f.co = orch.New(orch.Config{
		Engine:       f.engine,
		Credentials:  &coretest.Credentials{},
		Devices:      registry,
		Publish:      app.NewPublishController(&coretest.Capturer{Log: log, DefaultDevice: "camA"}, app.DefaultPublishOptions()),
		AudioEnabled: true,
		VideoEnabled: true,
	})
	t.Cleanup(f.co.Close)

	cfg := &config.Config{
		Mode:       "test",
		StaticPath: t.TempDir(),
		Secret:     "test-secret",
		JoinLimit:  config.JoinLimit{Count: joinLimit, Interval: time.Minute},
	}
	f.router = SetupRouter(context.Background(), cfg, f.co, registry)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, orch.Snapshot) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: "ct", Value: "client-1"})
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var snap orch.Snapshot
	if w.Code == http.StatusOK {
		_ = json.Unmarshal(w.Body.Bytes(), &snap)
	}
	return w, snap
}

func (f *fixture) activeCamera(t *testing.T) string {
	t.Helper()
	w, _ := f.do(t, http.MethodGet, "/api/devices?kind=videoinput", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Active string `json:"active"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Active
}

func TestJoinSwitchLeave(t *testing.T) {
	f := newFixture(t, 5)

	w, snap := f.do(t, http.MethodPost, "/api/join", `{"session_id":"SessionA","user_name":"Alice"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, domain.Connected, snap.State)
	require.Equal(t, "camA", snap.Publisher.DeviceID)

	sess := f.engine.Last()
	sess.EmitJoin("conB", `{"clientData":"Bob"}`)

	require.Eventually(t, func() bool {
		_, s := f.do(t, http.MethodGet, "/api/state", "")
		return len(s.Participants) == 1
	}, time.Second, 5*time.Millisecond)

	w, snap = f.do(t, http.MethodPut, "/api/main-view", `{"kind":"participant","connection_id":"conB"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.ParticipantView("conB"), snap.MainView)

	w, _ = f.do(t, http.MethodPut, "/api/main-view", `{"kind":"participant","connection_id":"nobody"}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	sess.Subscribers()[0].SetStats(core.MediaStats{Packets: 7, Bytes: 700, LastSeq: 7})
	w, _ = f.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Participants map[string]core.MediaStats `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Equal(t, map[string]core.MediaStats{"conB": {Packets: 7, Bytes: 700, LastSeq: 7}}, stats.Participants)

	w, snap = f.do(t, http.MethodPost, "/api/camera/switch", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "camB", snap.Publisher.DeviceID)
	require.Equal(t, "camB", f.activeCamera(t))

	w, _ = f.do(t, http.MethodPost, "/api/join", `{}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w, snap = f.do(t, http.MethodPost, "/api/leave", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.Disconnected, snap.State)
	require.Empty(t, snap.Participants)
	require.Empty(t, f.activeCamera(t))

	w, _ = f.do(t, http.MethodPost, "/api/camera/switch", "")
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestFormRoundTrip(t *testing.T) {
	f := newFixture(t, 5)

	w, _ := f.do(t, http.MethodPut, "/api/form", `{"session_id":"Room7","user_name":"Dana"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/form", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Form domain.JoinForm `json:"form"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, domain.JoinForm{SessionID: "Room7", UserName: "Dana"}, resp.Form)

	w, snap := f.do(t, http.MethodPost, "/api/join", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Room7", snap.SessionID)
	require.Equal(t, `{"clientData":"Dana"}`, f.engine.Last().Metadata())
}

func TestJoinRateLimited(t *testing.T) {
	f := newFixture(t, 1)

	w, _ := f.do(t, http.MethodPost, "/api/join", "")
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = f.do(t, http.MethodPost, "/api/leave", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/join", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestListDevices(t *testing.T) {
	f := newFixture(t, 5)

	w, _ := f.do(t, http.MethodGet, "/api/devices?kind=videoinput", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Devices []domain.Device `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 2)
	require.Equal(t, "camA", resp.Devices[0].DeviceID)

	w, _ = f.do(t, http.MethodGet, "/api/devices?kind=speaker", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	f.devices.Set(nil, coretest.ErrFake)
	w, _ = f.do(t, http.MethodGet, "/api/devices?kind=audioinput", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStaticUIServedOnlyWhenPresent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	co := orch.New(orch.Config{
		Engine:      &coretest.Engine{Log: &coretest.CallLog{}},
		Credentials: &coretest.Credentials{},
		Devices:     app.NewDeviceRegistry(coretest.NewDevices()),
		Publish:     app.NewPublishController(&coretest.Capturer{Log: &coretest.CallLog{}}, app.DefaultPublishOptions()),
	})
	t.Cleanup(co.Close)

	get := func(staticPath string) int {
		cfg := &config.Config{Mode: "test", StaticPath: staticPath, Secret: "s"}
		w := httptest.NewRecorder()
		SetupRouter(context.Background(), cfg, co, app.NewDeviceRegistry(coretest.NewDevices())).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		return w.Code
	}

	require.Equal(t, http.StatusNotFound, get(filepath.Join(t.TempDir(), "missing")))
	require.Equal(t, http.StatusNotFound, get(""))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o644))
	require.Equal(t, http.StatusOK, get(dir))
}

func TestViewStream(t *testing.T) {
	f := newFixture(t, 5)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/view"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() orch.Snapshot {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var s orch.Snapshot
		require.NoError(t, json.Unmarshal(data, &s))
		return s
	}

	require.Equal(t, domain.Disconnected, read().State)

	require.NoError(t, f.co.Join(context.Background(), domain.JoinForm{SessionID: "SessionA", UserName: "Alice"}))
	for {
		if s := read(); s.State == domain.Connected {
			require.NotNil(t, s.Publisher)
			break
		}
	}
}

func TestJoinRateLimiterWindow(t *testing.T) {
	rl := NewJoinRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("a"))
	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	require.True(t, rl.Allow("a"))

	require.True(t, NewJoinRateLimiter(0, time.Second).Allow("x"))
}
