package signal

import (
	"context"
	"errors"

	"github.com/dkeye/Confer/internal/app/orch"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/rs/zerolog/log"
)

// codeFor maps orchestrator errors onto protocol error codes.
func codeFor(err error) string {
	switch {
	case errors.Is(err, orch.ErrUnauthorized):
		return orch.CodeUnauthorized
	case errors.Is(err, orch.ErrNotInRoom):
		return orch.CodeNotInRoom
	case errors.Is(err, orch.ErrTargetNotFound):
		return orch.CodeTargetNotFound
	case errors.Is(err, orch.ErrRoomEmpty), errors.Is(err, domain.ErrUserIDEmpty),
		errors.Is(err, domain.ErrUserIDTooLong), errors.Is(err, domain.ErrUsernameTooLong):
		return orch.CodeBadPayload
	default:
		return orch.CodeInternal
	}
}

func (ctl *SignalWSController) fail(c *wsSignalConn, err error) {
	code := codeFor(err)
	msg := err.Error()
	if code == orch.CodeInternal {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("request failed")
		msg = "internal error"
	}
	ctl.Orch.SendError(c.id, code, msg)
}

func (ctl *SignalWSController) badPayload(c *wsSignalConn, err error) {
	log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad payload")
	ctl.Orch.SendError(c.id, orch.CodeBadPayload, err.Error())
}

// identity returns the user a join is made as. With a session identity the
// claimed id must match it.
func (ctl *SignalWSController) identity(c *wsSignalConn, p joinRoomMsg) (domain.User, error) {
	if c.user != nil {
		if string(c.user.ID) != p.UserID {
			return domain.User{}, orch.ErrUnauthorized
		}
		u := *c.user
		if p.UserName != "" {
			if err := u.SetUsername(p.UserName); err != nil {
				return domain.User{}, err
			}
		}
		return u, nil
	}
	u, err := domain.NewUser(p.UserID, p.UserName, domain.RoleStudent)
	if err != nil {
		return domain.User{}, err
	}
	return *u, nil
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, c *wsSignalConn, data []byte) {
	var p joinRoomMsg
	if err := ctl.decode(data, &p); err != nil {
		ctl.badPayload(c, err)
		return
	}
	user, err := ctl.identity(c, p)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("claimed", p.UserID).Msg("join identity rejected")
		ctl.fail(c, err)
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(c.id)).Str("room", p.RoomName).Str("user", string(user.ID)).Msg("join")
	if err := ctl.Orch.Join(ctx, c.id, user, domain.RoomID(p.RoomName)); err != nil {
		ctl.fail(c, err)
	}
}

// handleLeave withdraws a membership; the connection stays open. Leaving a
// room twice is a no-op.
func (ctl *SignalWSController) handleLeave(c *wsSignalConn, data []byte) {
	var p leaveRoomMsg
	if err := ctl.decode(data, &p); err != nil {
		ctl.badPayload(c, err)
		return
	}
	left := ctl.Orch.Leave(c.id, domain.RoomID(p.RoomName), domain.UserID(p.UserID))
	log.Info().Str("module", "signal").Str("conn", string(c.id)).Str("room", p.RoomName).
		Str("user", p.UserID).Bool("removed", left).Msg("leave")
}
