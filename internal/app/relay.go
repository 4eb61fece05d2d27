package app

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Confer/internal/domain"
	"github.com/rs/zerolog/log"
)

type SignalKind string

const (
	KindOffer        SignalKind = "webrtc_offer"
	KindAnswer       SignalKind = "webrtc_answer"
	KindICECandidate SignalKind = "ice_candidate"
	KindScreenShare  SignalKind = "screen_share_status"
)

// wire field names per kind: sender id field, payload field.
var kindFields = map[SignalKind][2]string{
	KindOffer:        {"caller_user_id", "offer"},
	KindAnswer:       {"answerer_user_id", "answer"},
	KindICECandidate: {"sender_user_id", "candidate"},
	KindScreenShare:  {"user_id", "is_sharing"},
}

func (k SignalKind) Valid() bool {
	_, ok := kindFields[k]
	return ok
}

// Envelope is a transient signaling message. Payload is never inspected.
type Envelope struct {
	Kind    SignalKind
	Room    domain.RoomID
	Sender  domain.UserID
	Target  domain.UserID
	Payload json.RawMessage
}

// MarshalJSON renders the envelope with the same field names clients use
// when sending it.
func (e Envelope) MarshalJSON() ([]byte, error) {
	f, ok := kindFields[e.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown signal kind %q", e.Kind)
	}
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	m := map[string]any{
		"type":      e.Kind,
		"room_name": e.Room,
		f[0]:        e.Sender,
		f[1]:        payload,
	}
	if e.Kind != KindScreenShare {
		m["target_user_id"] = e.Target
	}
	return json.Marshal(m)
}

// Relay forwards envelopes between participants addressed by logical user id.
type Relay struct {
	Rooms *RoomManager
	Out   *Deliverer
}

// Relay reports whether the target was present in the room. Screen share status
// goes to every other participant in the room; other kinds are unicast.
func (r *Relay) Relay(env Envelope) (bool, error) {
	frame, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", env.Kind, err)
	}

	if env.Kind == KindScreenShare {
		peers := r.Rooms.Snapshot(env.Room)
		sent := 0
		for _, p := range peers {
			if p.UserID == env.Sender {
				continue
			}
			if r.Out.SendFrame(p.ConnID, frame) {
				sent++
			}
		}
		log.Debug().Str("module", "app.relay").Str("room", string(env.Room)).Str("from", string(env.Sender)).
			Int("sent_to", sent).Msg("screen share broadcast")
		return true, nil
	}

	target, ok := r.Rooms.Participant(env.Room, env.Target)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("room", string(env.Room)).Str("kind", string(env.Kind)).
			Str("target", string(env.Target)).Msg("target not in room")
		return false, nil
	}
	// A full target queue is handled by the backpressure policy; the target
	// still counts as found.
	queued := r.Out.SendFrame(target.ConnID, frame)
	log.Debug().Str("module", "app.relay").Str("room", string(env.Room)).Str("kind", string(env.Kind)).
		Str("from", string(env.Sender)).Str("to", string(env.Target)).Bool("queued", queued).Msg("relayed")
	return true, nil
}
