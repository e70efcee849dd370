package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// viewStream pushes every coordinator snapshot to a websocket client.
type viewStream struct {
	co         Coordinator
	pingPeriod time.Duration
}

func (v *viewStream) serve(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("sid", sid).Msg("upgrade failed")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	go v.readPump(cancel, conn)
	v.writePump(ctx, conn, sid)
}

// readPump discards client messages and cancels on disconnect.
func (v *viewStream) readPump(cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (v *viewStream) writePump(ctx context.Context, conn *websocket.Conn, sid string) {
	snaps, stop := v.co.Watch()
	defer stop()
	defer conn.Close()

	period := v.pingPeriod
	if period <= 0 {
		period = 54 * time.Second
	}
	ping := time.NewTicker(period)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.http").Str("sid", sid).Msg("view stream closed")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case s := <-snaps:
			data, err := json.Marshal(s)
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("snapshot marshal")
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Str("sid", sid).Msg("view write error")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
