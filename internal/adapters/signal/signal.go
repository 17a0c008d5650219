package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/SupportChat/internal/app/orch"
	"github.com/dkeye/SupportChat/internal/config"
	"github.com/dkeye/SupportChat/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type SignalWSController struct {
	Relay *orch.Relay

	ReadLimit    int64
	SendBuffer   int
	WriteTimeout time.Duration
	PingPeriod   time.Duration
}

func NewSignalWSController(relay *orch.Relay, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Relay:        relay,
		ReadLimit:    cfg.ReadLimit,
		SendBuffer:   cfg.SendBuffer,
		WriteTimeout: cfg.WriteTimeout,
		PingPeriod:   cfg.PingPeriod,
	}
}

// WsSignalConn is a websocket with a bounded outbound queue drained by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	sess := ctl.Relay.OnConnect(token, conn, cancel)
	log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Str("token", token).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sess.ID, conn)
}
