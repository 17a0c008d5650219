package signal

import (
	"context"
	"io"
	"time"

	"github.com/dkeye/SupportChat/internal/core"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	// Closing the socket unblocks readPump, which then runs the disconnect.
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping:
			deadline := time.Now().Add(ctl.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns the session: when it returns, the session is gone from
// its room and the registry.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Relay.OnDisconnect(sid)
		c.Close()
		cancel()
	}()

	for {
		data, err := ctl.readFrame(c)
		if errors.Is(err, errFrameTooLarge) {
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Int64("read_limit", ctl.ReadLimit).Msg("oversized frame dropped")
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		ctl.Relay.OnFrame(sid, data)
	}
}

var errFrameTooLarge = errors.New("frame exceeds read limit")

// readFrame reads one message, keeping at most ReadLimit bytes. The rest of
// an oversized message is drained so the connection stays usable.
func (ctl *SignalWSController) readFrame(c *WsSignalConn) ([]byte, error) {
	_, r, err := c.conn.NextReader()
	if err != nil {
		return nil, err
	}
	if ctl.ReadLimit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, ctl.ReadLimit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > ctl.ReadLimit {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, errFrameTooLarge
	}
	return data, nil
}
