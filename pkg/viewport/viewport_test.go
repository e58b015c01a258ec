package viewport

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

const eps = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func TestPanGuardAtUnitScale(t *testing.T) {
	c := New(Size{400, 500}, Size{400, 500})
	moves := [][2]float64{{13, 0}, {0, -13}, {-1, 1}, {0.5, 0}}
	for _, m := range moves {
		dx, dy := c.Pan(m[0], m[1])
		if dx != 0 || dy != 0 {
			t.Errorf("Pan(%v) applied (%v, %v)", m, dx, dy)
		}
		if x, y := c.Translation(); x != 0 || y != 0 {
			t.Fatalf("translation moved to (%v, %v)", x, y)
		}
	}
}

func TestPanWithinOverflow(t *testing.T) {
	c := New(Size{400, 400}, Size{400, 400})
	c.Zoom(2, false)

	dx, _ := c.Pan(50, 0)
	if dx != 50 {
		t.Fatalf("pan inside the overflow was rejected")
	}
	// The scaled image is 800 wide, 200 px of overflow on each side at
	// rest. Another 100 unscaled px (200 screen px) would open a gap.
	dx, _ = c.Pan(100, 0)
	if dx != 0 {
		t.Errorf("pan opening a gap should be rejected, applied %v", dx)
	}
	dx, _ = c.Pan(-30, 0)
	if dx != -30 {
		t.Errorf("pan back toward centre should be allowed, applied %v", dx)
	}
}

func TestPanReducesExistingGap(t *testing.T) {
	c := New(Size{400, 400}, Size{200, 200})
	// Image is smaller than the viewport: the gap can only grow or shrink.
	if dx, _ := c.Pan(10, 0); dx != 0 {
		t.Errorf("moving a centred small image widens the gap on one side")
	}
}

func TestZoomClamp(t *testing.T) {
	c := New(Size{100, 100}, Size{100, 100})
	if c.Zoom(0.5, false) {
		t.Error("zooming out at minimum should do nothing")
	}
	for i := 0; i < 100; i++ {
		c.Zoom(ButtonZoomFactor, false)
	}
	if c.Scale() != MaxZoom {
		t.Errorf("scale = %v, want %v", c.Scale(), MaxZoom)
	}
	if c.Zoom(2, false) {
		t.Error("zooming in at maximum should do nothing")
	}
	c.Zoom(1/1000.0, false)
	if c.Scale() != MinZoom {
		t.Errorf("scale = %v, want %v", c.Scale(), MinZoom)
	}
}

func TestZoomTowardPointerKeepsPointFixed(t *testing.T) {
	tests := []struct {
		name    string
		pointer geometry.ScreenPoint
		factors []float64
	}{
		{"centre", geometry.ScreenPoint{X: 300, Y: 200}, []float64{1.5}},
		{"corner", geometry.ScreenPoint{X: 120, Y: 90}, []float64{1.5, 1.5, 1.1}},
		{"zoom out", geometry.ScreenPoint{X: 400, Y: 300}, []float64{3, 1 / 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Size{600, 400}, Size{500, 400})
			c.SetPointer(tt.pointer)
			for _, f := range tt.factors {
				before, _ := c.ScreenToNormalized(tt.pointer)
				c.Zoom(f, true)
				after := c.NormalizedToScreen(before)
				if !near(after.X, tt.pointer.X) || !near(after.Y, tt.pointer.Y) {
					t.Fatalf("after zoom %v the point moved from %v to %v", f, tt.pointer, after)
				}
			}
		})
	}
}

func TestZoomTowardPointerClampsToImage(t *testing.T) {
	c := New(Size{600, 400}, Size{400, 400})
	// Pointer over the left margin, 100 px outside the image.
	c.SetPointer(geometry.ScreenPoint{X: 0, Y: 200})
	c.Zoom(2, true)
	rect := c.ImageRect()
	if !near(rect.Left, 100) {
		t.Errorf("image left edge should stay under the clamped pointer, got %v", rect.Left)
	}
}

func TestScreenNormalizedRoundTrip(t *testing.T) {
	c := New(Size{640, 480}, Size{480, 480})
	c.SetPointer(geometry.ScreenPoint{X: 250, Y: 260})
	c.Zoom(3.7, true)
	c.Pan(-20, 15)

	p := geometry.Point{X: 0.37, Y: 0.81}
	back, inside := c.ScreenToNormalized(c.NormalizedToScreen(p))
	if !inside || !near(back.X, p.X) || !near(back.Y, p.Y) {
		t.Errorf("round trip = %v (inside %v), want %v", back, inside, p)
	}

	out, inside := c.ScreenToNormalized(geometry.ScreenPoint{X: -1e6, Y: 1e6})
	if inside {
		t.Error("far away point reported inside the image")
	}
	if !out.InUnitSquare() {
		t.Errorf("outside point not clamped: %v", out)
	}
}

func TestResetAndKeys(t *testing.T) {
	c := New(Size{400, 400}, Size{400, 400})
	c.SetPointer(geometry.ScreenPoint{X: 200, Y: 200})
	if !c.Key("+") || c.Scale() != 1.5 {
		t.Errorf("'+' should zoom by 1.5, scale %v", c.Scale())
	}
	c.Key("=")
	c.Key("ArrowUp")
	_, ty := c.Translation()
	if ty != PanStep {
		t.Errorf("ArrowUp should pan down by %v, got %v", PanStep, ty)
	}
	if !c.Key("0") || c.Scale() != 1 {
		t.Error("'0' should reset")
	}
	if x, y := c.Translation(); x != 0 || y != 0 {
		t.Error("reset should clear translation")
	}
	if c.Key("q") {
		t.Error("unknown key should not be handled")
	}

	c.Wheel(-1)
	if !near(c.Scale(), WheelZoomFactor) {
		t.Errorf("wheel up scale = %v", c.Scale())
	}
}

func TestTransform(t *testing.T) {
	c := New(Size{400, 400}, Size{400, 400})
	c.Zoom(2, false)
	c.Pan(10, -5)
	want := "translate(-50%, -50%) scale(2) translate(10px, -5px)"
	if got := c.Transform(); got != want {
		t.Errorf("Transform() = %q, want %q", got, want)
	}
}

func TestFitDisplaySize(t *testing.T) {
	tests := []struct {
		name           string
		ow, oh, mw, mh float64
		wantW, wantH   float64
	}{
		{"portrait height bound", 2000, 2500, 800, 600, 480, 600},
		{"landscape width bound", 3000, 1000, 600, 600, 600, 200},
		{"unknown size", 0, 0, 300, 200, 300, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitDisplaySize(tt.ow, tt.oh, tt.mw, tt.mh)
			if !near(got.Width, tt.wantW) || !near(got.Height, tt.wantH) {
				t.Errorf("FitDisplaySize = %+v, want %vx%v", got, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestRepeaterStopsOnRelease(t *testing.T) {
	r := NewRepeater(5 * time.Millisecond)
	var calls atomic.Int32
	r.Press(func() { calls.Add(1) })
	if calls.Load() < 1 {
		t.Fatal("Press should run the action immediately")
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if calls.Load() < 3 {
		t.Fatalf("action repeated only %d times", calls.Load())
	}

	r.Release()
	if r.Active() {
		t.Error("repeater still active after release")
	}
	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != stopped {
		t.Errorf("action ran %d more times after release", calls.Load()-stopped)
	}

	r.Release()
}

func TestRepeaterPressReplaces(t *testing.T) {
	r := NewRepeater(time.Hour)
	var a, b int
	r.Press(func() { a++ })
	r.Press(func() { b++ })
	r.Release()
	if a != 1 || b != 1 {
		t.Errorf("a=%d b=%d, want one immediate call each", a, b)
	}
}
