package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Evictor removes one stale participant through the standard leave path.
// It must re-check staleness against cutoff before acting.
type Evictor interface {
	EvictInactive(m StaleMember, cutoff time.Time) bool
}

type SweepResult struct {
	Candidates  int
	Evicted     int
	PrunedRooms int
}

// Reconciler periodically evicts participants that went silent and deletes
// rooms left empty.
type Reconciler struct {
	Rooms   *RoomManager
	Conns   *Registry
	Evictor Evictor

	mu        sync.Mutex
	interval  time.Duration
	threshold time.Duration
	reset     chan struct{}
	now       func() time.Time

	activeRooms  atomic.Int64
	totalConns   atomic.Int64
	evictedTotal atomic.Int64
	lastSweep    atomic.Int64 // unix nanos
}

func NewReconciler(rooms *RoomManager, conns *Registry, ev Evictor, interval, threshold time.Duration) *Reconciler {
	return &Reconciler{
		Rooms:     rooms,
		Conns:     conns,
		Evictor:   ev,
		interval:  interval,
		threshold: threshold,
		reset:     make(chan struct{}, 1),
		now:       time.Now,
	}
}

// SetTimings swaps the sweep interval and inactivity threshold; a running
// loop picks the new interval up immediately.
func (r *Reconciler) SetTimings(interval, threshold time.Duration) {
	if interval <= 0 || threshold <= 0 {
		return
	}
	r.mu.Lock()
	changed := r.interval != interval || r.threshold != threshold
	r.interval, r.threshold = interval, threshold
	r.mu.Unlock()
	if !changed {
		return
	}
	log.Info().Str("module", "app.reconciler").Dur("interval", interval).Dur("threshold", threshold).Msg("timings updated")
	select {
	case r.reset <- struct{}{}:
	default:
	}
}

func (r *Reconciler) Timings() (interval, threshold time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval, r.threshold
}

func (r *Reconciler) Run(ctx context.Context) {
	interval, _ := r.Timings()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Str("module", "app.reconciler").Dur("interval", interval).Msg("reconciler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.reconciler").Msg("reconciler stopped")
			return
		case <-r.reset:
			interval, _ = r.Timings()
			ticker.Reset(interval)
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one pass. Candidates are collected under the directory read
// lock and evicted one at a time so the directory is never held for the
// whole pass.
func (r *Reconciler) Sweep() SweepResult {
	_, threshold := r.Timings()
	now := r.now()
	cutoff := now.Add(-threshold)

	res := SweepResult{}
	stale := r.Rooms.Stale(cutoff)
	res.Candidates = len(stale)
	for _, m := range stale {
		if r.Evictor.EvictInactive(m, cutoff) {
			res.Evicted++
		}
	}

	if n := r.Rooms.PruneEmpty(); n > 0 {
		res.PrunedRooms = n
		log.Error().Str("module", "app.reconciler").Int("rooms", n).Msg("pruned empty rooms left behind")
	}

	r.activeRooms.Store(int64(len(r.Rooms.AllRooms())))
	r.totalConns.Store(int64(r.Conns.Len()))
	r.evictedTotal.Add(int64(res.Evicted))
	r.lastSweep.Store(now.UnixNano())

	if res.Evicted > 0 || res.PrunedRooms > 0 {
		log.Info().Str("module", "app.reconciler").Int("candidates", res.Candidates).Int("evicted", res.Evicted).
			Int("pruned_rooms", res.PrunedRooms).Msg("sweep done")
	}
	return res
}

type Counters struct {
	ActiveRooms      int64
	TotalConnections int64
	EvictedTotal     int64
	LastSweep        time.Time
}

func (r *Reconciler) Counters() Counters {
	c := Counters{
		ActiveRooms:      r.activeRooms.Load(),
		TotalConnections: r.totalConns.Load(),
		EvictedTotal:     r.evictedTotal.Load(),
	}
	if ns := r.lastSweep.Load(); ns != 0 {
		c.LastSweep = time.Unix(0, ns).UTC()
	}
	return c
}
