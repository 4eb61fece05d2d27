package domain

import (
	"errors"
	"time"
)

// ErrForbidden is returned by room access checks that refuse a user.
var ErrForbidden = errors.New("room access forbidden")

type (
	RoomID string
	ConnID string
)

// LeaveReason is carried by user_left notifications.
type LeaveReason string

const (
	ReasonLeft         LeaveReason = "left"
	ReasonDisconnected LeaveReason = "disconnected"
	ReasonInactive     LeaveReason = "inactive"
	ReasonReconnected  LeaveReason = "reconnected"
)

// Membership is a (room, user) pair bound to one connection.
type Membership struct {
	Room RoomID `json:"room"`
	User UserID `json:"user"`
}

// Participant is a logical user attached to a room. ConnID is a lookup key
// into the connection registry, not an owned resource.
type Participant struct {
	UserID        UserID    `json:"user_id"`
	Name          string    `json:"user_name"`
	ConnID        ConnID    `json:"conn_id"`
	RoomID        RoomID    `json:"room_name"`
	JoinedAt      time.Time `json:"joined_at"`
	LastActivity  time.Time `json:"last_activity"`
	ScreenSharing bool      `json:"is_sharing"`
}
