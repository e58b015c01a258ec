package geometry

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// DefaultLineWidth is the stroke width, in destination pixels, used when a
// Style leaves LineWidth unset.
const DefaultLineWidth = 2

var paletteHex = []string{
	"#1abc9c", // turquoise
	"#2ecc71", // emerald
	"#3498db", // peter river
	"#9b59b6", // amethyst
	"#34495e", // wet asphalt
	"#16a085", // green sea
	"#27ae60", // nephritis
	"#2980b9", // belize hole
	"#8e44ad", // wisteria
	"#2c3e50", // midnight blue
	"#f1c40f", // sun flower
	"#e67e22", // carrot
	"#e74c3c", // alizarin
	"#ecf0f1", // clouds
	"#95a5a6", // concrete
	"#f39c12", // orange
	"#d35400", // pumpkin
	"#c0392b", // pomegranate
	"#bdc3c7", // silver
	"#7f8c8d", // asbestos
}

// Palette is the label colour cycle used for combined overlays.
var Palette = mustParsePalette(paletteHex)

// Colours used by the capture view.
var (
	CommittedColor  color.Color = mustParseHex("#e74c3c")
	InProgressColor color.Color = mustParseHex("#2980b9")
)

// Style controls how RenderPolygon draws one polyline.
type Style struct {
	Color     color.Color
	Closed    bool
	LineWidth float64
	// Number and Text are drawn centred on the centroid when non-empty.
	Number string
	Text   string
}

// PaletteColor returns the palette entry for the i-th label group.
func PaletteColor(palette []color.Color, i int) color.Color {
	if len(palette) == 0 {
		return color.Black
	}
	if i < 0 {
		i = -i
	}
	return palette[i%len(palette)]
}

// RenderPolygon strokes points onto dst and optionally annotates the centroid.
// Points are in dst's pixel space relative to dst.Bounds().Min. It never
// modifies points and draws nothing for an empty slice.
func RenderPolygon(dst draw.Image, points []PixelPoint, style Style) {
	if len(points) == 0 {
		return
	}
	col := style.Color
	if col == nil {
		col = CommittedColor
	}
	width := style.LineWidth
	if width <= 0 {
		width = DefaultLineWidth
	}

	b := dst.Bounds()
	r := vector.NewRasterizer(b.Dx(), b.Dy())
	r.DrawOp = draw.Over

	for i := 0; i+1 < len(points); i++ {
		addSegment(r, points[i], points[i+1], width)
	}
	if style.Closed && len(points) > 2 {
		addSegment(r, points[len(points)-1], points[0], width)
	}
	for _, p := range points {
		addSquare(r, p, width)
	}
	r.Draw(dst, b, image.NewUniform(col), image.Point{})

	if style.Number == "" && style.Text == "" {
		return
	}
	c := Centroid(points)
	if style.Number != "" {
		drawCentredText(dst, style.Number, c, col)
	}
	if style.Text != "" {
		drawCentredText(dst, style.Text, c, col)
	}
}

// RenderAll draws every polygon of every label group, colouring group i with
// PaletteColor(palette, i). When names is non-nil each polygon is annotated
// with its group's name.
func RenderAll(dst draw.Image, groups [][][]PixelPoint, names []string, palette []color.Color) {
	for i, group := range groups {
		style := Style{Color: PaletteColor(palette, i), Closed: true}
		if names != nil && i < len(names) {
			style.Text = names[i]
		}
		for _, poly := range group {
			RenderPolygon(dst, poly, style)
		}
	}
}

// addSegment appends the outline of a width-thick quad covering a-b.
func addSegment(r *vector.Rasterizer, a, b PixelPoint, width float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	nx, ny := -dy/length*width/2, dx/length*width/2
	r.MoveTo(float32(a.X+nx), float32(a.Y+ny))
	r.LineTo(float32(b.X+nx), float32(b.Y+ny))
	r.LineTo(float32(b.X-nx), float32(b.Y-ny))
	r.LineTo(float32(a.X-nx), float32(a.Y-ny))
	r.ClosePath()
}

// addSquare fills the joint at a vertex so corners do not show notches.
func addSquare(r *vector.Rasterizer, p PixelPoint, width float64) {
	h := width / 2
	r.MoveTo(float32(p.X-h), float32(p.Y-h))
	r.LineTo(float32(p.X+h), float32(p.Y-h))
	r.LineTo(float32(p.X+h), float32(p.Y+h))
	r.LineTo(float32(p.X-h), float32(p.Y+h))
	r.ClosePath()
}

func drawCentredText(dst draw.Image, text string, at PixelPoint, col color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(col), Face: face}
	w := d.MeasureString(text).Round()
	ascent := face.Metrics().Ascent.Round()
	origin := dst.Bounds().Min
	x := origin.X + int(math.Round(at.X)) - w/2
	y := origin.Y + int(math.Round(at.Y)) + ascent/2
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

func mustParsePalette(hexes []string) []color.Color {
	out := make([]color.Color, 0, len(hexes))
	for _, h := range hexes {
		out = append(out, mustParseHex(h))
	}
	return out
}

func mustParseHex(h string) color.Color {
	c, err := colorful.Hex(h)
	if err != nil {
		panic(err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}
