package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Confer/internal/app/orch"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(ctl.opts.WriteWait))
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		ctl.Orch.Disconnect(c.id)
		if ctl.limiter != nil {
			ctl.limiter.Forget(c.id)
		}
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	extend := func() { _ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait)) }
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		ctl.Orch.Touch(c.id)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
			}
			return
		}
		extend()
		ctl.dispatch(ctx, c, data)
	}
}

func (ctl *SignalWSController) dispatch(ctx context.Context, c *wsSignalConn, data []byte) {
	// Any inbound frame counts as activity, even one that fails to parse.
	ctl.Orch.Touch(c.id)

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad json")
		ctl.Orch.SendError(c.id, orch.CodeBadPayload, "invalid json")
		return
	}

	if ctl.limiter != nil && !ctl.limiter.Allow(c.id) {
		log.Warn().Str("module", "signal").Str("conn", string(c.id)).Str("type", env.Type).Msg("rate limited")
		ctl.Orch.SendError(c.id, orch.CodeRateLimited, "too many messages")
		return
	}

	switch env.Type {
	case "join_room":
		ctl.handleJoin(ctx, c, data)
	case "leave_room":
		ctl.handleLeave(c, data)
	case "webrtc_offer":
		ctl.handleOffer(c, data)
	case "webrtc_answer":
		ctl.handleAnswer(c, data)
	case "ice_candidate":
		ctl.handleCandidate(c, data)
	case "screen_share_status":
		ctl.handleScreenShare(c, data)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Debug().Str("module", "signal").Str("conn", string(c.id)).Str("type", env.Type).Msg("unknown signal")
		ctl.Orch.SendError(c.id, orch.CodeUnknownType, "unknown message type "+env.Type)
	}
}
