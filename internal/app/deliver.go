package app

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Confer/internal/core"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/rs/zerolog/log"
)

// Deliverer encodes messages and enqueues them on registered connections,
// applying the backpressure policy when a queue is full.
type Deliverer struct {
	Conns  *Registry
	Policy Policy
}

func (d *Deliverer) Send(id domain.ConnID, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.deliver").Msg("marshal")
		return false
	}
	return d.SendFrame(id, b)
}

func (d *Deliverer) SendFrame(id domain.ConnID, f core.Frame) bool {
	conn, ok := d.Conns.Conn(id)
	if !ok {
		return false
	}
	err := conn.TrySend(f)
	if err == nil {
		return true
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "app.deliver").Str("conn", string(id)).Msg("send failed")
		return false
	}

	action := DropFrame
	if d.Policy != nil {
		action = d.Policy.OnBackPressure(id)
	}
	switch action {
	case KickMember:
		log.Warn().Str("module", "app.deliver").Str("conn", string(id)).Msg("outbound queue full, closing connection")
		// Closing ends the read pump, which runs the disconnect sequence.
		conn.Close()
	case DropFrame, NoAction:
		log.Warn().Str("module", "app.deliver").Str("conn", string(id)).Msg("outbound queue full, frame dropped")
	}
	return false
}
