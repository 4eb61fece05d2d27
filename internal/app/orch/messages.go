package orch

import (
	"github.com/dkeye/Confer/internal/core"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Error codes carried by error notifications.
const (
	CodeBadPayload     = "bad_payload"
	CodeUnknownType    = "unknown_type"
	CodeUnauthorized   = "unauthorized"
	CodeNotInRoom      = "not_in_room"
	CodeTargetNotFound = "target_not_found"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal"
)

type roomJoinedMsg struct {
	Type         string             `json:"type"`
	RoomName     domain.RoomID      `json:"room_name"`
	UserID       domain.UserID      `json:"user_id"`
	Participants []core.MemberDTO   `json:"participants"`
	ICEServers   []webrtc.ICEServer `json:"ice_servers,omitempty"`
}

type userJoinedMsg struct {
	Type     string        `json:"type"`
	RoomName domain.RoomID `json:"room_name"`
	UserID   domain.UserID `json:"user_id"`
	UserName string        `json:"user_name"`
}

type userLeftMsg struct {
	Type     string             `json:"type"`
	RoomName domain.RoomID      `json:"room_name"`
	UserID   domain.UserID      `json:"user_id"`
	Reason   domain.LeaveReason `json:"reason"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pongMsg struct {
	Type string `json:"type"`
}

func newErrorMsg(code, message string) errorMsg {
	return errorMsg{Type: "error", Code: code, Message: message}
}

func newUserLeft(room domain.RoomID, user domain.UserID, reason domain.LeaveReason) userLeftMsg {
	return userLeftMsg{Type: "user_left", RoomName: room, UserID: user, Reason: reason}
}
