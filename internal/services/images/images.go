package images

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/lehigh-university-libraries/cxr-annotate/internal/models"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

var (
	ErrNotConfigured = errors.New("image size not configured")
	ErrInvalidPath   = errors.New("invalid image path component")
)

const DefaultQuality = 90

type Format string

const (
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("unsupported image format %q", s)
}

func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

var pathComponent = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)

// Source resolves images in MIMIC-CXR-JPG directory trees, one per size
// tier.
type Source struct {
	dirs map[models.ImageSize]string
}

func NewSource(dirs map[models.ImageSize]string) *Source {
	s := &Source{dirs: make(map[models.ImageSize]string, len(dirs))}
	for size, dir := range dirs {
		if dir != "" {
			s.dirs[size] = dir
		}
	}
	return s
}

// Path returns <dir>/p<part>/p<subject>/s<study>/<dicom>.jpg for the tier.
func (s *Source) Path(size models.ImageSize, m models.ImageMetadata) (string, error) {
	dir, ok := s.dirs[size]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, size)
	}
	for _, part := range []string{m.PartID, m.SubjectID, m.StudyID, m.DicomID} {
		if !pathComponent.MatchString(part) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, part)
		}
	}
	return filepath.Join(dir, "p"+m.PartID, "p"+m.SubjectID, "s"+m.StudyID, m.DicomID+".jpg"), nil
}

// Dimensions reads the pixel size of an image from the largest configured
// tier, which is the closest to the original.
func (s *Source) Dimensions(m models.ImageMetadata) (int, int, error) {
	for _, size := range []models.ImageSize{models.SizeLarge, models.SizeMedium, models.SizeSmall} {
		if _, ok := s.dirs[size]; !ok {
			continue
		}
		path, err := s.Path(size, m)
		if err != nil {
			return 0, 0, err
		}
		return decodeDimensions(path)
	}
	return 0, 0, ErrNotConfigured
}

func decodeDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// Load decodes an image, fitted within maxDim on its longer side when maxDim
// is positive.
func (s *Source) Load(size models.ImageSize, m models.ImageMetadata, maxDim int) (image.Image, error) {
	path, err := s.Path(size, m)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	if maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		}
	}
	return img, nil
}

// RenderOverlay draws label polygon groups, already in the image's pixel
// space, over a copy of img.
func RenderOverlay(img image.Image, groups [][][]geometry.PixelPoint, names []string) *image.NRGBA {
	dst := imaging.Clone(img)
	geometry.RenderAll(dst, groups, names, geometry.Palette)
	return dst
}

func Encode(w io.Writer, img image.Image, format Format, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	switch format {
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		return enc.Encode(w, img)
	default:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
}
