// Package capture turns pointer input over an image into polygons.
//
// All points are normalized to the original image, so a polygon drawn at any
// zoom or pan level is stored the same way. While drawing, the last point is
// "floating": it follows the pointer until the next pointer-down fixes it and
// a new floating point is appended.
package capture

import (
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

// DefaultMinSeparation is the minimum distance, in original-image pixels,
// between two vertices of one polygon.
const DefaultMinSeparation = 5

type State int

const (
	Idle State = iota
	Drawing
)

func (s State) String() string {
	if s == Drawing {
		return "drawing"
	}
	return "idle"
}

// Result describes what a pointer-down did.
type Result int

const (
	Started Result = iota
	Added
	Rejected
	Committed
)

func (r Result) String() string {
	switch r {
	case Started:
		return "started"
	case Added:
		return "added"
	case Rejected:
		return "rejected"
	case Committed:
		return "committed"
	}
	return "unknown"
}

// Sink receives committed polygons. annotation.Target implements it.
type Sink interface {
	AddPolygon(poly geometry.Polygon) error
	PopLastPolygon() (geometry.Polygon, error)
	Polygons() []geometry.Polygon
}

type Config struct {
	// OriginalWidth and OriginalHeight are the image's pixel size before any
	// scaling. Distances are measured in this space.
	OriginalWidth  float64
	OriginalHeight float64
	// MinSeparation defaults to DefaultMinSeparation.
	MinSeparation float64
}

// Frame is what a redraw needs: committed polygons in insertion order and the
// in-progress points, floating point included.
type Frame struct {
	Committed  []geometry.Polygon
	InProgress geometry.Polygon
}

type Machine struct {
	cfg    Config
	sink   Sink
	points geometry.Polygon
	redraw func(Frame)
}

func New(cfg Config, sink Sink) *Machine {
	if cfg.MinSeparation <= 0 {
		cfg.MinSeparation = DefaultMinSeparation
	}
	return &Machine{cfg: cfg, sink: sink}
}

// OnRedraw registers the callback run after every change to visible geometry.
func (m *Machine) OnRedraw(fn func(Frame)) {
	m.redraw = fn
}

func (m *Machine) State() State {
	if len(m.points) == 0 {
		return Idle
	}
	return Drawing
}

// Points returns the in-progress points including the floating one.
func (m *Machine) Points() geometry.Polygon {
	return m.points.Clone()
}

// Vertices returns the fixed in-progress points, without the floating one.
func (m *Machine) Vertices() geometry.Polygon {
	if len(m.points) == 0 {
		return geometry.Polygon{}
	}
	return m.points[:len(m.points)-1].Clone()
}

func (m *Machine) Frame() Frame {
	return Frame{Committed: m.sink.Polygons(), InProgress: m.points.Clone()}
}

func (m *Machine) distance(a, b geometry.Point) float64 {
	return geometry.Distance(a, b, m.cfg.OriginalWidth, m.cfg.OriginalHeight)
}

func (m *Machine) notify() {
	if m.redraw != nil {
		m.redraw(m.Frame())
	}
}

// PointerDown handles a click at a normalized position.
//
// While drawing, a click within twice the minimum separation of the first
// point closes the polygon, but only once more than three points (floating
// point included) are present. A click closer than the minimum separation to
// any fixed point is rejected.
func (m *Machine) PointerDown(p geometry.Point) (Result, error) {
	p = p.Clamp01()

	if len(m.points) == 0 {
		m.points = geometry.Polygon{p, p}
		m.notify()
		return Started, nil
	}

	if len(m.points) > 3 && m.distance(m.points[0], p) < 2*m.cfg.MinSeparation {
		poly := m.points[:len(m.points)-1].Clone()
		if err := m.sink.AddPolygon(poly); err != nil {
			return Rejected, err
		}
		m.points = nil
		m.notify()
		return Committed, nil
	}

	for _, q := range m.points[:len(m.points)-1] {
		if m.distance(q, p) < m.cfg.MinSeparation {
			return Rejected, nil
		}
	}

	m.points[len(m.points)-1] = p
	m.points = append(m.points, p)
	m.notify()
	return Added, nil
}

// PointerMove moves the floating point. It does nothing while idle.
func (m *Machine) PointerMove(p geometry.Point) {
	if len(m.points) == 0 {
		return
	}
	m.points[len(m.points)-1] = p.Clamp01()
	m.notify()
}

// Undo removes the last fixed point and keeps the floating one. If the
// floating point sat within the minimum separation of the removed point, the
// point before that is removed as well. With two points or fewer the polygon
// is cleared.
func (m *Machine) Undo() {
	if len(m.points) == 0 {
		return
	}
	if len(m.points) <= 2 {
		m.points = nil
		m.notify()
		return
	}
	floating := m.points[len(m.points)-1]
	removed := m.points[len(m.points)-2]
	m.points = m.points[:len(m.points)-2]
	if m.distance(floating, removed) < m.cfg.MinSeparation && len(m.points) > 0 {
		m.points = m.points[:len(m.points)-1]
	}
	m.points = append(m.points, floating)
	m.notify()
}

// Cancel discards the in-progress polygon.
func (m *Machine) Cancel() {
	if len(m.points) == 0 {
		return
	}
	m.points = nil
	m.notify()
}

// UndoCommitted pops the most recently committed polygon from the sink. It
// returns nil when there is none.
func (m *Machine) UndoCommitted() (geometry.Polygon, error) {
	poly, err := m.sink.PopLastPolygon()
	if err != nil {
		return nil, err
	}
	if poly != nil {
		m.notify()
	}
	return poly, nil
}
