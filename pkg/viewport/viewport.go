// Package viewport tracks zoom and pan for one image view and converts pointer
// positions between screen and normalized image space.
//
// The image box (the fitted, unscaled display size) is centred in the
// viewport and transformed as
//
//	translate(-50%, -50%) scale(s) translate(tx px, ty px)
//
// so on screen its centre sits at the viewport centre plus s*(tx, ty) and its
// size is s times the box.
package viewport

import (
	"fmt"
	"math"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

const (
	MinZoom = 1.0
	MaxZoom = 30.0

	// PanStep is the arrow key and arrow button step, in unscaled pixels.
	PanStep = 13.0

	ButtonZoomFactor = 1.1
	KeyZoomFactor    = 1.5
	WheelZoomFactor  = 1.05
)

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned rectangle in viewport screen pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

func (r Rect) Width() float64  { return r.Right - r.Left }
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// FitDisplaySize fits an image of the original aspect ratio into a box of at
// most maxW x maxH.
func FitDisplaySize(originalW, originalH, maxW, maxH float64) Size {
	if originalW <= 0 || originalH <= 0 {
		return Size{Width: maxW, Height: maxH}
	}
	aspect := originalW / originalH
	h := maxH
	w := h * aspect
	if w > maxW {
		w = maxW
		h = w / aspect
	}
	return Size{Width: w, Height: h}
}

type Controller struct {
	viewport Size
	image    Size
	scale    float64
	tx, ty   float64

	pointer    geometry.ScreenPoint
	hasPointer bool
}

// New returns a controller for an image box of the given size shown in a
// viewport of the given size.
func New(viewport, image Size) *Controller {
	return &Controller{viewport: viewport, image: image, scale: 1}
}

func (c *Controller) Scale() float64 {
	return c.scale
}

// Translation is in unscaled display pixels.
func (c *Controller) Translation() (float64, float64) {
	return c.tx, c.ty
}

func (c *Controller) Viewport() Size {
	return c.viewport
}

func (c *Controller) ImageSize() Size {
	return c.image
}

// Resize changes the viewport and image box sizes, keeping zoom and pan.
func (c *Controller) Resize(viewport, image Size) {
	c.viewport = viewport
	c.image = image
}

// SetPointer records the pointer position used by zooms toward the pointer.
func (c *Controller) SetPointer(p geometry.ScreenPoint) {
	c.pointer = p
	c.hasPointer = true
}

func (c *Controller) Pointer() (geometry.ScreenPoint, bool) {
	return c.pointer, c.hasPointer
}

// ImageRect is the transformed image's bounding box.
func (c *Controller) ImageRect() Rect {
	return c.rectAt(c.scale, c.tx, c.ty)
}

func (c *Controller) rectAt(scale, tx, ty float64) Rect {
	cx := c.viewport.Width/2 + scale*tx
	cy := c.viewport.Height/2 + scale*ty
	hw := scale * c.image.Width / 2
	hh := scale * c.image.Height / 2
	return Rect{Left: cx - hw, Top: cy - hh, Right: cx + hw, Bottom: cy + hh}
}

// Zoom multiplies the scale by factor, clamped to [MinZoom, MaxZoom]. Zooming
// in at MaxZoom or out at MinZoom does nothing. With towardPointer the image
// point under the pointer, clamped to the image, stays under it. It reports
// whether anything changed.
func (c *Controller) Zoom(factor float64, towardPointer bool) bool {
	if factor <= 0 || factor == 1 {
		return false
	}
	if factor > 1 && c.scale == MaxZoom {
		return false
	}
	if factor < 1 && c.scale == MinZoom {
		return false
	}
	newScale := math.Min(MaxZoom, math.Max(MinZoom, c.scale*factor))

	if towardPointer {
		rect := c.ImageRect()
		p := c.pointer
		if !c.hasPointer {
			p = geometry.ScreenPoint{X: c.viewport.Width / 2, Y: c.viewport.Height / 2}
		}
		mx := clamp(p.X, rect.Left, rect.Right)
		my := clamp(p.Y, rect.Top, rect.Bottom)

		var ux, uy float64
		if rect.Width() > 0 {
			ux = (mx - rect.Left) / rect.Width()
		}
		if rect.Height() > 0 {
			uy = (my - rect.Top) / rect.Height()
		}

		// Pointer relative to the viewport centre, and the point u of the
		// image rescaled but not translated.
		relX := mx - c.viewport.Width/2
		relY := my - c.viewport.Height/2
		c.tx = (relX + c.image.Width*newScale/2 - ux*c.image.Width*newScale) / newScale
		c.ty = (relY + c.image.Height*newScale/2 - uy*c.image.Height*newScale) / newScale
	}
	c.scale = newScale
	return true
}

// Pan moves the image by (dx, dy) unscaled pixels. An axis whose move would
// widen the gap between the image and the viewport edge is dropped. It
// returns the movement applied.
func (c *Controller) Pan(dx, dy float64) (float64, float64) {
	before := c.ImageRect()
	after := c.rectAt(c.scale, c.tx+dx, c.ty+dy)

	if gap(after.Left, after.Right, c.viewport.Width) > gap(before.Left, before.Right, c.viewport.Width) {
		dx = 0
	}
	if gap(after.Top, after.Bottom, c.viewport.Height) > gap(before.Top, before.Bottom, c.viewport.Height) {
		dy = 0
	}
	c.tx += dx
	c.ty += dy
	return dx, dy
}

// gap is the largest empty band between an image edge and the viewport edge
// on one axis.
func gap(lo, hi, extent float64) float64 {
	return math.Max(math.Max(lo, 0), math.Max(extent-hi, 0))
}

func (c *Controller) Reset() {
	c.scale = 1
	c.tx, c.ty = 0, 0
}

// ScreenToNormalized maps a viewport screen position to normalized image
// coordinates. The result is clamped to [0,1]; inside reports whether the
// position was over the image.
func (c *Controller) ScreenToNormalized(p geometry.ScreenPoint) (geometry.Point, bool) {
	rect := c.ImageRect()
	if rect.Width() <= 0 || rect.Height() <= 0 {
		return geometry.Point{}, false
	}
	n := geometry.Point{
		X: (p.X - rect.Left) / rect.Width(),
		Y: (p.Y - rect.Top) / rect.Height(),
	}
	return n.Clamp01(), n.InUnitSquare()
}

func (c *Controller) NormalizedToScreen(p geometry.Point) geometry.ScreenPoint {
	rect := c.ImageRect()
	return geometry.ScreenPoint{
		X: rect.Left + p.X*rect.Width(),
		Y: rect.Top + p.Y*rect.Height(),
	}
}

// Transform is the CSS transform applied to the image and its canvas.
func (c *Controller) Transform() string {
	return fmt.Sprintf("translate(-50%%, -50%%) scale(%g) translate(%gpx, %gpx)", c.scale, c.tx, c.ty)
}

// Key applies a keyboard shortcut and reports whether it was recognised.
func (c *Controller) Key(name string) bool {
	switch name {
	case "+", "=":
		c.Zoom(KeyZoomFactor, true)
	case "-":
		c.Zoom(1/KeyZoomFactor, true)
	case "0":
		c.Reset()
	case "ArrowUp":
		c.Pan(0, PanStep)
	case "ArrowDown":
		c.Pan(0, -PanStep)
	case "ArrowLeft":
		c.Pan(PanStep, 0)
	case "ArrowRight":
		c.Pan(-PanStep, 0)
	default:
		return false
	}
	return true
}

// Wheel zooms toward the pointer: in for negative deltaY, out for positive.
func (c *Controller) Wheel(deltaY float64) {
	switch {
	case deltaY < 0:
		c.Zoom(WheelZoomFactor, true)
	case deltaY > 0:
		c.Zoom(1/WheelZoomFactor, true)
	}
}

// State is a serialisable view of the controller.
type State struct {
	Scale        float64 `json:"scale"`
	TranslationX float64 `json:"translation_x"`
	TranslationY float64 `json:"translation_y"`
	Transform    string  `json:"transform"`
	ImageRect    Rect    `json:"image_rect"`
}

func (c *Controller) State() State {
	return State{
		Scale:        c.scale,
		TranslationX: c.tx,
		TranslationY: c.ty,
		Transform:    c.Transform(),
		ImageRect:    c.ImageRect(),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
