package rtc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"
)

// fakeServer is a scripted JSON-RPC signaling endpoint.
type fakeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	replies  map[string]func(params []byte) (any, error)
	methods  []string
	conn     *jsonrpc2.Conn
	accepted chan struct{}
	once     sync.Once
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		replies:  make(map[string]func([]byte) (any, error)),
		accepted: make(chan struct{}),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) URL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) Reply(method string, fn func(params []byte) (any, error)) {
	fs.mu.Lock()
	fs.replies[method] = fn
	fs.mu.Unlock()
}

func (fs *fakeServer) Methods() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.methods...)
}

func (fs *fakeServer) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	fs.mu.Lock()
	fs.methods = append(fs.methods, req.Method)
	fn := fs.replies[req.Method]
	fs.mu.Unlock()
	if fn == nil {
		return map[string]any{}, nil
	}
	var params []byte
	if req.Params != nil {
		params = *req.Params
	}
	return fn(params)
}

func (fs *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	c, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := jsonrpc2.NewConn(context.Background(), wsstream.NewObjectStream(c), jsonrpc2.HandlerWithError(fs.handle))
	fs.mu.Lock()
	fs.conn = conn
	fs.mu.Unlock()
	fs.once.Do(func() { close(fs.accepted) })
	<-conn.DisconnectNotify()
}

// Notify pushes a server notification once a client is connected.
func (fs *fakeServer) Notify(method string, params any) {
	<-fs.accepted
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	_ = conn.Notify(context.Background(), method, params)
}
