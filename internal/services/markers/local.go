package markers

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/lehigh-university-libraries/cxr-annotate/internal/models"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

// markerThreshold is the 8-bit gray level above which a pixel counts as
// burned-in marker ink. Markers are drawn near white on radiographs.
const markerThreshold = 235

// localMaxDim bounds the raster the local detector scans.
const localMaxDim = 1024

type box struct {
	X, Y, Width, Height int
}

// Locate finds burned-in marker glyph groups without a text recognizer. It
// works whether or not Vision detection is enabled; regions carry no text.
func (s *Service) Locate(ctx context.Context, size models.ImageSize, m models.ImageMetadata) (models.MarkerResponse, error) {
	key := "local/" + string(size) + "/" + m.DicomID

	s.mu.RLock()
	resp, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return resp, nil
	}

	img, err := s.source.Load(size, m, localMaxDim)
	if err != nil {
		return models.MarkerResponse{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.MarkerResponse{}, err
	}

	resp = locateMarkers(img)
	resp.DicomID = m.DicomID
	resp.Size = size

	s.mu.Lock()
	s.cache[key] = resp
	s.mu.Unlock()
	slog.Info("Located image markers", "dicom_id", m.DicomID, "size", size, "regions", len(resp.Regions))
	return resp, nil
}

func locateMarkers(img image.Image) models.MarkerResponse {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	width, height := b.Dx(), b.Dy()

	boxes := groupComponents(findComponents(gray))
	resp := models.MarkerResponse{Width: width, Height: height, Regions: make([]models.MarkerRegion, 0, len(boxes))}
	for _, bx := range boxes {
		resp.Regions = append(resp.Regions, models.MarkerRegion{Box: bx.polygon(width, height)})
	}
	return resp
}

func (b box) polygon(width, height int) geometry.Polygon {
	w, h := float64(width), float64(height)
	corners := []geometry.PixelPoint{
		{X: float64(b.X), Y: float64(b.Y)},
		{X: float64(b.X + b.Width), Y: float64(b.Y)},
		{X: float64(b.X + b.Width), Y: float64(b.Y + b.Height)},
		{X: float64(b.X), Y: float64(b.Y + b.Height)},
	}
	poly := make(geometry.Polygon, len(corners))
	for i, c := range corners {
		poly[i] = c.Normalize(w, h)
	}
	return poly
}

func isMarkerPixel(c color.Color) bool {
	r, _, _, _ := c.RGBA()
	return r>>8 >= markerThreshold
}

// findComponents returns the bounding boxes of 8-connected bright
// components of glyph size.
func findComponents(img *image.NRGBA) []box {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	visited := make([]bool, width*height)
	bright := func(x, y int) bool {
		return isMarkerPixel(img.NRGBAAt(b.Min.X+x, b.Min.Y+y))
	}

	var components []box
	var stack [][2]int
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if visited[y*width+x] || !bright(x, y) {
				continue
			}
			minX, minY, maxX, maxY := x, y, x, y
			visited[y*width+x] = true
			stack = append(stack[:0], [2]int{x, y})
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				minX, maxX = min(minX, p[0]), max(maxX, p[0])
				minY, maxY = min(minY, p[1]), max(maxY, p[1])
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := p[0]+dx, p[1]+dy
						if nx < 0 || nx >= width || ny < 0 || ny >= height || visited[ny*width+nx] {
							continue
						}
						if bright(nx, ny) {
							visited[ny*width+nx] = true
							stack = append(stack, [2]int{nx, ny})
						}
					}
				}
			}

			// Glyph sized only: drop specks and large bright anatomy.
			w := maxX - minX + 1
			h := maxY - minY + 1
			if w >= 2 && h >= 5 && w <= width/8 && h <= height/8 {
				components = append(components, box{X: minX, Y: minY, Width: w, Height: h})
			}
		}
	}
	return components
}

// groupComponents merges glyphs on one line that sit close together.
func groupComponents(components []box) []box {
	if len(components) == 0 {
		return nil
	}
	sort.Slice(components, func(i, j int) bool {
		if components[i].Y == components[j].Y {
			return components[i].X < components[j].X
		}
		return components[i].Y < components[j].Y
	})

	var groups []box
	var current []box
	for _, c := range components {
		if len(current) == 0 {
			current = append(current, c)
			continue
		}
		avgHeight := 0
		for _, comp := range current {
			avgHeight += comp.Height
		}
		avgHeight /= len(current)

		last := current[len(current)-1]
		yDiff := abs(c.Y - last.Y)
		xGap := c.X - (last.X + last.Width)
		heightDiff := abs(c.Height - avgHeight)
		if yDiff <= avgHeight/2 && xGap <= avgHeight*2 && heightDiff <= avgHeight {
			current = append(current, c)
			continue
		}
		groups = append(groups, merge(current))
		current = []box{c}
	}
	return append(groups, merge(current))
}

func merge(components []box) box {
	minX, minY := components[0].X, components[0].Y
	maxX, maxY := components[0].X+components[0].Width, components[0].Y+components[0].Height
	for _, c := range components[1:] {
		minX, minY = min(minX, c.X), min(minY, c.Y)
		maxX, maxY = max(maxX, c.X+c.Width), max(maxY, c.Y+c.Height)
	}
	return box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
