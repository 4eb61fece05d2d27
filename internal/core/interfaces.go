package core

import (
	"time"

	"github.com/dkeye/Confer/internal/domain"
)

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID        domain.UserID `json:"user_id"`
	Username  string        `json:"user_name"`
	IsSharing bool          `json:"is_sharing"`
	JoinedAt  time.Time     `json:"joined_at"`
}

func NewMemberDTO(p domain.Participant) MemberDTO {
	return MemberDTO{
		ID:        p.UserID,
		Username:  p.Name,
		IsSharing: p.ScreenSharing,
		JoinedAt:  p.JoinedAt,
	}
}

type RoomInfo struct {
	Name        domain.RoomID `json:"name"`
	MemberCount int           `json:"participants"`
}

type RoomDetail struct {
	Name         domain.RoomID        `json:"name"`
	Participants []domain.Participant `json:"participants"`
}

type ConnInfo struct {
	ID           domain.ConnID       `json:"id"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
	Memberships  []domain.Membership `json:"memberships"`
}

// HealthReport is what /health serves.
type HealthReport struct {
	Status           string     `json:"status"`
	ActiveRooms      int        `json:"active_rooms"`
	Participants     int        `json:"participants"`
	TotalConnections int        `json:"total_connections"`
	Rooms            []RoomInfo `json:"rooms"`
	LastSweep        time.Time  `json:"last_sweep,omitzero"`
	// Room and connection counts as the last sweep saw them.
	SweepRooms       int64 `json:"sweep_rooms"`
	SweepConnections int64 `json:"sweep_connections"`
	EvictedTotal     int64 `json:"evicted_total"`
}

// DebugSnapshot is what /debug/rooms serves.
type DebugSnapshot struct {
	Rooms       []RoomDetail `json:"rooms"`
	Connections []ConnInfo   `json:"connections"`
}
