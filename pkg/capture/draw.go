package capture

import (
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

// DrawFrame clears dst and draws frame onto it: committed polygons closed and
// numbered in insertion order in col, then the in-progress polygon open in
// geometry.InProgressColor. Points are de-normalized by dst's size.
func DrawFrame(dst draw.Image, frame Frame, col color.Color) {
	b := dst.Bounds()
	draw.Draw(dst, b, image.Transparent, image.Point{}, draw.Src)

	w, h := float64(b.Dx()), float64(b.Dy())
	for i, poly := range frame.Committed {
		geometry.RenderPolygon(dst, poly.Scale(w, h), geometry.Style{
			Color:  col,
			Closed: true,
			Number: strconv.Itoa(i + 1),
		})
	}
	if len(frame.InProgress) > 0 {
		geometry.RenderPolygon(dst, frame.InProgress.Scale(w, h), geometry.Style{
			Color: geometry.InProgressColor,
		})
	}
}
