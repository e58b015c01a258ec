package markers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	vision "cloud.google.com/go/vision/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/lehigh-university-libraries/cxr-annotate/internal/models"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/services/images"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

var ErrDisabled = errors.New("marker detection is disabled")

// DetectFunc runs document text detection on an encoded image.
type DetectFunc func(ctx context.Context, r io.Reader) (*visionpb.TextAnnotation, error)

// Service finds text burned into radiographs (side markers, positioning
// notes) with Google Cloud Vision, or locates it locally with Locate.
// Results are cached per image and tier.
type Service struct {
	enabled bool
	source  *images.Source
	detect  DetectFunc

	mu    sync.RWMutex
	cache map[string]models.MarkerResponse
}

func New(enabled bool, source *images.Source) *Service {
	if enabled {
		slog.Info("Initializing Google Cloud Vision marker detection")
	}
	return &Service{
		enabled: enabled,
		source:  source,
		detect:  detectDocumentText,
		cache:   make(map[string]models.MarkerResponse),
	}
}

// WithDetector replaces the Vision call. Used in tests.
func (s *Service) WithDetector(fn DetectFunc) *Service {
	s.detect = fn
	return s
}

func (s *Service) Enabled() bool {
	return s.enabled
}

func (s *Service) Detect(ctx context.Context, size models.ImageSize, m models.ImageMetadata) (models.MarkerResponse, error) {
	if !s.enabled {
		return models.MarkerResponse{}, ErrDisabled
	}
	key := string(size) + "/" + m.DicomID

	s.mu.RLock()
	resp, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return resp, nil
	}

	path, err := s.source.Path(size, m)
	if err != nil {
		return models.MarkerResponse{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return models.MarkerResponse{}, err
	}
	defer f.Close()

	annotation, err := s.detect(ctx, f)
	if err != nil {
		return models.MarkerResponse{}, fmt.Errorf("detect text in %s: %w", m.DicomID, err)
	}

	resp = convertAnnotation(annotation)
	resp.DicomID = m.DicomID
	resp.Size = size

	s.mu.Lock()
	s.cache[key] = resp
	s.mu.Unlock()
	slog.Info("Detected image markers", "dicom_id", m.DicomID, "size", size, "regions", len(resp.Regions))
	return resp, nil
}

func detectDocumentText(ctx context.Context, r io.Reader) (*visionpb.TextAnnotation, error) {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	image, err := vision.NewImageFromReader(r)
	if err != nil {
		return nil, err
	}
	return client.DetectDocumentText(ctx, image, nil)
}

// convertAnnotation turns every text block into a region whose box is
// normalized by its page size.
func convertAnnotation(annotation *visionpb.TextAnnotation) models.MarkerResponse {
	resp := models.MarkerResponse{Regions: []models.MarkerRegion{}}
	if annotation == nil {
		return resp
	}

	for _, page := range annotation.Pages {
		if resp.Width == 0 {
			resp.Width = int(page.Width)
			resp.Height = int(page.Height)
		}
		for _, block := range page.Blocks {
			text := blockText(block)
			if text == "" {
				continue
			}
			resp.Regions = append(resp.Regions, models.MarkerRegion{
				Text:       text,
				Box:        convertBoundingPoly(block.BoundingBox, float64(page.Width), float64(page.Height)),
				Confidence: block.Confidence,
			})
		}
	}
	return resp
}

func blockText(block *visionpb.Block) string {
	var sb strings.Builder
	for _, paragraph := range block.Paragraphs {
		for _, word := range paragraph.Words {
			for _, symbol := range word.Symbols {
				sb.WriteString(symbol.Text)
				if symbol.Property != nil && symbol.Property.DetectedBreak != nil {
					switch symbol.Property.DetectedBreak.Type.String() {
					case "SPACE", "SURE_SPACE", "EOL_SURE_SPACE", "LINE_BREAK":
						sb.WriteString(" ")
					}
				}
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func convertBoundingPoly(poly *visionpb.BoundingPoly, width, height float64) geometry.Polygon {
	if poly == nil {
		return geometry.Polygon{}
	}

	out := geometry.Polygon{}
	if len(poly.Vertices) > 0 && width > 0 && height > 0 {
		for _, vertex := range poly.Vertices {
			p := geometry.PixelPoint{X: float64(vertex.X), Y: float64(vertex.Y)}
			out = append(out, p.Normalize(width, height).Clamp01())
		}
		return out
	}
	for _, vertex := range poly.NormalizedVertices {
		p := geometry.Point{X: float64(vertex.X), Y: float64(vertex.Y)}
		out = append(out, p.Clamp01())
	}
	return out
}
