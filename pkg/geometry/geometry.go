// Package geometry holds the point and polygon types shared by the annotation
// store, the capture state machine and the viewport controller.
//
// Three coordinate spaces are kept apart by type:
//
//   - Point: normalized to [0,1]x[0,1] of the original (unscaled) image. This is
//     the only space polygons are stored in.
//   - PixelPoint: pixels of some concrete raster, usually the original image or a
//     drawing surface of a given size.
//   - ScreenPoint: pixels of a viewport after zoom and pan, measured from the
//     viewport's top-left corner.
//
// Conversions between them are the functions in this package and in
// pkg/viewport; callers should never multiply coordinates inline.
package geometry

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is a normalized image coordinate.
type Point struct {
	X float64
	Y float64
}

// PixelPoint is a coordinate in the pixel space of a concrete raster.
type PixelPoint struct {
	X float64
	Y float64
}

// ScreenPoint is a coordinate relative to a viewport's top-left corner.
type ScreenPoint struct {
	X float64
	Y float64
}

// Polygon is an ordered list of normalized vertices.
type Polygon []Point

// MarshalJSON encodes a point as a two element array, the layout the browser
// client uses.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("point must be an [x, y] pair: %w", err)
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

func (p PixelPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *PixelPoint) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("pixel point must be an [x, y] pair: %w", err)
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

// ToPixel projects a normalized point into a raster of the given size.
func (p Point) ToPixel(width, height float64) PixelPoint {
	return PixelPoint{X: p.X * width, Y: p.Y * height}
}

// Normalize maps a pixel coordinate of a width x height raster back into
// normalized space. A zero dimension yields zero on that axis.
func (p PixelPoint) Normalize(width, height float64) Point {
	var n Point
	if width != 0 {
		n.X = p.X / width
	}
	if height != 0 {
		n.Y = p.Y / height
	}
	return n
}

// Clamp01 limits both coordinates to [0,1].
func (p Point) Clamp01() Point {
	return Point{X: clamp(p.X, 0, 1), Y: clamp(p.Y, 0, 1)}
}

// InUnitSquare reports whether both coordinates lie in [0,1].
func (p Point) InUnitSquare() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// Distance returns the Euclidean distance between p1 and p2 after scaling both
// points by (scaleX, scaleY). Passing the original image's pixel dimensions
// compares normalized points against a pixel threshold.
func Distance(p1, p2 Point, scaleX, scaleY float64) float64 {
	dx := (p1.X - p2.X) * scaleX
	dy := (p1.Y - p2.Y) * scaleY
	return math.Sqrt(dx*dx + dy*dy)
}

// Dist is Distance with unit scale.
func Dist(p1, p2 Point) float64 {
	return Distance(p1, p2, 1, 1)
}

// Clone returns a copy that shares no memory with poly.
func (poly Polygon) Clone() Polygon {
	if poly == nil {
		return nil
	}
	out := make(Polygon, len(poly))
	copy(out, poly)
	return out
}

// Scale projects every vertex into a width x height raster. The receiver is
// left untouched. Scale(1, 1) returns the normalized values unchanged.
func (poly Polygon) Scale(width, height float64) []PixelPoint {
	out := make([]PixelPoint, len(poly))
	for i, p := range poly {
		out[i] = p.ToPixel(width, height)
	}
	return out
}

// Valid reports whether the polygon has enough vertices to be closed and every
// vertex is normalized.
func (poly Polygon) Valid() bool {
	if len(poly) < MinPolygonPoints {
		return false
	}
	for _, p := range poly {
		if !p.InUnitSquare() {
			return false
		}
	}
	return true
}

// MinPolygonPoints is the smallest vertex count of a closed polygon.
const MinPolygonPoints = 3

// Centroid is the arithmetic mean of the vertices. It returns the zero point
// for an empty slice.
func Centroid(points []PixelPoint) PixelPoint {
	if len(points) == 0 {
		return PixelPoint{}
	}
	var sx, sy float64
	for _, p := range points {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(points))
	return PixelPoint{X: sx / n, Y: sy / n}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
