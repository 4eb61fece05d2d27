package app

import "github.com/dkeye/Confer/internal/core"

// Health builds read-only views of the registry and directory.
type Health struct {
	Rooms      *RoomManager
	Conns      *Registry
	Reconciler *Reconciler
}

func (h *Health) Report() core.HealthReport {
	rooms := h.Rooms.List()
	rep := core.HealthReport{
		Status:           "ok",
		ActiveRooms:      len(rooms),
		TotalConnections: h.Conns.Len(),
		Rooms:            rooms,
	}
	for _, r := range rooms {
		rep.Participants += r.MemberCount
	}
	if h.Reconciler != nil {
		c := h.Reconciler.Counters()
		rep.LastSweep = c.LastSweep
		rep.SweepRooms = c.ActiveRooms
		rep.SweepConnections = c.TotalConnections
		rep.EvictedTotal = c.EvictedTotal
	}
	return rep
}

func (h *Health) Debug() core.DebugSnapshot {
	return core.DebugSnapshot{
		Rooms:       h.Rooms.Details(),
		Connections: h.Conns.Snapshot(),
	}
}
