package signal

import (
	"github.com/dkeye/Confer/internal/app"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/rs/zerolog/log"
)

// relay forwards an offer, answer or candidate. Target misses are expected
// while peers come and go, so they only log at debug.
func (ctl *SignalWSController) relay(c *wsSignalConn, env app.Envelope) {
	if err := ctl.Orch.Signal(c.id, env); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("kind", string(env.Kind)).
			Str("room", string(env.Room)).Str("target", string(env.Target)).Msg("relay failed")
		ctl.fail(c, err)
	}
}

func (ctl *SignalWSController) handleOffer(c *wsSignalConn, data []byte) {
	var p offerMsg
	if err := ctl.decode(data, &p); err != nil {
		ctl.badPayload(c, err)
		return
	}
	ctl.relay(c, app.Envelope{
		Kind:    app.KindOffer,
		Room:    domain.RoomID(p.RoomName),
		Sender:  domain.UserID(p.CallerUserID),
		Target:  domain.UserID(p.TargetUserID),
		Payload: p.Offer,
	})
}

func (ctl *SignalWSController) handleAnswer(c *wsSignalConn, data []byte) {
	var p answerMsg
	if err := ctl.decode(data, &p); err != nil {
		ctl.badPayload(c, err)
		return
	}
	ctl.relay(c, app.Envelope{
		Kind:    app.KindAnswer,
		Room:    domain.RoomID(p.RoomName),
		Sender:  domain.UserID(p.AnswererUserID),
		Target:  domain.UserID(p.TargetUserID),
		Payload: p.Answer,
	})
}

func (ctl *SignalWSController) handleCandidate(c *wsSignalConn, data []byte) {
	var p candidateMsg
	if err := ctl.decode(data, &p); err != nil {
		ctl.badPayload(c, err)
		return
	}
	ctl.relay(c, app.Envelope{
		Kind:    app.KindICECandidate,
		Room:    domain.RoomID(p.RoomName),
		Sender:  domain.UserID(p.SenderUserID),
		Target:  domain.UserID(p.TargetUserID),
		Payload: p.Candidate,
	})
}

func (ctl *SignalWSController) handleScreenShare(c *wsSignalConn, data []byte) {
	var p screenShareMsg
	if err := ctl.decode(data, &p); err != nil {
		ctl.badPayload(c, err)
		return
	}
	if err := ctl.Orch.ScreenShare(c.id, domain.RoomID(p.RoomName), domain.UserID(p.UserID), *p.IsSharing); err != nil {
		ctl.fail(c, err)
	}
}
