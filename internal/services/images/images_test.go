package images

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"

	"github.com/lehigh-university-libraries/cxr-annotate/internal/models"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

var meta = models.ImageMetadata{PartID: "10", SubjectID: "10000032", StudyID: "50414267", DicomID: "02aa804e"}

func writeJPEG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, "p10", "p10000032", "s50414267", "02aa804e.jpg")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 40
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPath(t *testing.T) {
	s := NewSource(map[models.ImageSize]string{models.SizeSmall: "/data/small", models.SizeLarge: ""})

	got, err := s.Path(models.SizeSmall, meta)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join("/data/small", "p10", "p10000032", "s50414267", "02aa804e.jpg")
	if got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}

	if _, err := s.Path(models.SizeLarge, meta); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("empty dir should not be configured, err = %v", err)
	}

	tests := []string{"..", "../etc", "a/b", ""}
	for _, bad := range tests {
		m := meta
		m.DicomID = bad
		if _, err := s.Path(models.SizeSmall, m); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("dicom id %q: err = %v", bad, err)
		}
	}
}

func TestDimensionsAndLoad(t *testing.T) {
	small, large := t.TempDir(), t.TempDir()
	writeJPEG(t, small, 40, 50)
	writeJPEG(t, large, 400, 500)
	s := NewSource(map[models.ImageSize]string{models.SizeSmall: small, models.SizeLarge: large})

	w, h, err := s.Dimensions(meta)
	if err != nil {
		t.Fatal(err)
	}
	if w != 400 || h != 500 {
		t.Errorf("Dimensions = %dx%d, want the large tier 400x500", w, h)
	}

	img, err := s.Load(models.SizeLarge, meta, 100)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 80 || b.Dy() != 100 {
		t.Errorf("fitted size = %dx%d, want 80x100", b.Dx(), b.Dy())
	}

	img, err = s.Load(models.SizeSmall, meta, 100)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 40 {
		t.Errorf("images smaller than max should not be resized, width %d", b.Dx())
	}

	if _, _, err := NewSource(nil).Dimensions(meta); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("no tiers: err = %v", err)
	}
}

func TestRenderOverlay(t *testing.T) {
	base := image.NewGray(image.Rect(0, 0, 100, 100))
	poly := geometry.Polygon{{X: 0.2, Y: 0.2}, {X: 0.8, Y: 0.2}, {X: 0.8, Y: 0.8}}
	groups := [][][]geometry.PixelPoint{{poly.Scale(100, 100)}}

	out := RenderOverlay(base, groups, nil)
	edge := out.NRGBAAt(50, 20)
	if edge.R == 0 && edge.G == 0 && edge.B == 0 {
		t.Error("expected the top edge of the polygon to be drawn")
	}
	if base.GrayAt(50, 20).Y != 0 {
		t.Error("RenderOverlay must not draw on its input")
	}
}

func TestEncode(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})

	tests := []struct {
		format Format
		decode func(*bytes.Reader) (image.Image, error)
	}{
		{FormatJPEG, func(r *bytes.Reader) (image.Image, error) { return jpeg.Decode(r) }},
		{FormatPNG, func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) }},
		{FormatWebP, func(r *bytes.Reader) (image.Image, error) { return webp.Decode(r) }},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, img, tt.format, 0); err != nil {
				t.Fatal(err)
			}
			got, err := tt.decode(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Bounds().Dx() != 8 || got.Bounds().Dy() != 6 {
				t.Errorf("decoded size %v", got.Bounds())
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJPEG, "JPEG": FormatJPEG, "png": FormatPNG, "webp": FormatWebP} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Error("gif should be rejected")
	}
	if FormatWebP.ContentType() != "image/webp" {
		t.Error("webp content type")
	}
}
