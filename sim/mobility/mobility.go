// Package mobility provides node position models queried by the channel at
// transmission time.
package mobility

import (
	"fmt"
	"sort"
	"time"

	"github.com/wnsim/wnsim/sim"
)

// Model reports a node's position at a virtual time.
type Model interface {
	Position(t time.Duration) sim.Vector3
}

// Static is a node that never moves.
type Static struct {
	At sim.Vector3
}

// NewStatic validates the position and returns a Static model.
func NewStatic(at sim.Vector3) (*Static, error) {
	if !at.IsFinite() {
		return nil, fmt.Errorf("static position %v: %w", at, sim.ErrInvalidConfig)
	}
	return &Static{At: at}, nil
}

// Position implements Model.
func (s *Static) Position(time.Duration) sim.Vector3 { return s.At }

// Waypoint pins a node to a position at a time.
type Waypoint struct {
	Time     time.Duration
	Position sim.Vector3
}

// Waypoints moves a node along straight segments between scripted
// waypoints. Before the first waypoint the node holds the first position;
// after the last it holds the last.
type Waypoints struct {
	points []Waypoint
}

// NewWaypoints sorts and validates the waypoint list.
func NewWaypoints(points []Waypoint) (*Waypoints, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("waypoints: empty list: %w", sim.ErrInvalidConfig)
	}
	pts := append([]Waypoint(nil), points...)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time < pts[j].Time })
	for i, p := range pts {
		if !p.Position.IsFinite() {
			return nil, fmt.Errorf("waypoint %d position %v: %w", i, p.Position, sim.ErrInvalidConfig)
		}
		if p.Time < 0 {
			return nil, fmt.Errorf("waypoint %d time %v: %w", i, p.Time, sim.ErrInvalidConfig)
		}
		if i > 0 && p.Time == pts[i-1].Time {
			return nil, fmt.Errorf("waypoints %d and %d share time %v: %w", i-1, i, p.Time, sim.ErrInvalidConfig)
		}
	}
	return &Waypoints{points: pts}, nil
}

// Position implements Model.
func (w *Waypoints) Position(t time.Duration) sim.Vector3 {
	pts := w.points
	if t <= pts[0].Time {
		return pts[0].Position
	}
	last := pts[len(pts)-1]
	if t >= last.Time {
		return last.Position
	}
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Time > t })
	a, b := pts[i-1], pts[i]
	frac := float64(t-a.Time) / float64(b.Time-a.Time)
	return a.Position.Add(b.Position.Sub(a.Position).Scale(frac))
}
