package rtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"
)

var ErrRPCClosed = errors.New("rpc connection closed")

// notifyFunc handles server notifications. It runs on the read goroutine
// and must not issue calls synchronously.
type notifyFunc func(method string, params []byte)

// notificationHandler implements jsonrpc2.Handler. The client only accepts
// notifications; requests from the server are refused.
type notificationHandler struct {
	notify notifyFunc
}

func (h *notificationHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req == nil {
		return
	}
	if !req.Notif {
		err := conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: "client accepts notifications only",
		})
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc.rpc").Msg("reply error")
		}
		return
	}
	var params []byte
	if req.Params != nil {
		params = *req.Params
	}
	if h.notify != nil {
		h.notify(req.Method, params)
	}
}

// rpcConn is a JSON-RPC 2.0 client over a websocket.
type rpcConn struct {
	conn *jsonrpc2.Conn
}

func dialRPC(ctx context.Context, dialer *websocket.Dialer, url string, notify notifyFunc, pingPeriod time.Duration) (*rpcConn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newRPCConn(ws, notify, pingPeriod), nil
}

func newRPCConn(ws *websocket.Conn, notify notifyFunc, pingPeriod time.Duration) *rpcConn {
	c := &rpcConn{
		conn: jsonrpc2.NewConn(context.Background(), wsstream.NewObjectStream(ws), &notificationHandler{notify: notify}),
	}
	if pingPeriod > 0 {
		go c.keepalive(pingPeriod)
	}
	return c
}

// Call sends method and decodes the result into out, which may be nil.
func (c *rpcConn) Call(ctx context.Context, method string, params any, out any) error {
	if err := c.conn.Call(ctx, method, params, out); err != nil {
		if errors.Is(err, jsonrpc2.ErrClosed) {
			return ErrRPCClosed
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (c *rpcConn) Close() error {
	if err := c.conn.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		return err
	}
	return nil
}

func (c *rpcConn) keepalive(period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-c.conn.DisconnectNotify():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), period)
			err := c.Call(ctx, "ping", map[string]int64{"interval": period.Milliseconds()}, nil)
			cancel()
			if err != nil && !errors.Is(err, ErrRPCClosed) {
				log.Warn().Err(err).Str("module", "rtc.rpc").Msg("ping failed")
			}
		}
	}
}
