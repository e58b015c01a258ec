package annotation

import (
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/events"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

func (s *Store) polygonsOf(key LabelKey, dicomID string) ([]geometry.Polygon, error) {
	l, err := s.label(key, false)
	if err != nil || l == nil {
		return nil, err
	}
	img := l.image(dicomID, false)
	if img == nil {
		return nil, nil
	}
	return img.polygons, nil
}

// Polygons returns copies of the normalized polygons of one label on one
// image, in insertion order. The result is never nil for a known label.
func (s *Store) Polygons(key LabelKey, dicomID string) ([]geometry.Polygon, error) {
	polys, err := s.polygonsOf(key, dicomID)
	if err != nil {
		return nil, err
	}
	out := make([]geometry.Polygon, len(polys))
	for i, p := range polys {
		out[i] = p.Clone()
	}
	return out, nil
}

// PolygonsForLabel projects the polygons of one label on one image into a
// width x height raster. PolygonsForLabel(k, d, 1, 1) returns the normalized
// coordinates unchanged.
func (s *Store) PolygonsForLabel(key LabelKey, dicomID string, width, height float64) ([][]geometry.PixelPoint, error) {
	polys, err := s.polygonsOf(key, dicomID)
	if err != nil {
		return nil, err
	}
	out := make([][]geometry.PixelPoint, len(polys))
	for i, p := range polys {
		out[i] = p.Scale(width, height)
	}
	return out, nil
}

func (s *Store) PolygonCount(key LabelKey, dicomID string) int {
	polys, _ := s.polygonsOf(key, dicomID)
	return len(polys)
}

// AddPolygon appends a normalized polygon and publishes PolygonsUpdated.
func (s *Store) AddPolygon(key LabelKey, dicomID string, poly geometry.Polygon) error {
	if !poly.Valid() {
		return ErrInvalidPolygon
	}
	l, err := s.label(key, true)
	if err != nil {
		return err
	}
	img := l.image(dicomID, true)
	img.polygons = append(img.polygons, poly.Clone())
	s.touch()
	s.polygonsChanged(key, dicomID, len(img.polygons))
	return nil
}

// DeletePolygon removes the polygon at index. A stale index is a no-op.
func (s *Store) DeletePolygon(key LabelKey, dicomID string, index int) error {
	l, err := s.label(key, false)
	if err != nil {
		return err
	}
	var img *imageAnnotation
	if l != nil {
		img = l.image(dicomID, false)
	}
	if img == nil || index < 0 || index >= len(img.polygons) {
		n := 0
		if img != nil {
			n = len(img.polygons)
		}
		s.staleIndex("delete_polygon", index, n, "label", key.String(), "dicom_id", dicomID)
		return nil
	}
	img.polygons = append(img.polygons[:index], img.polygons[index+1:]...)
	s.touch()
	s.polygonsChanged(key, dicomID, len(img.polygons))
	return nil
}

// PopLastPolygon removes and returns the most recently added polygon, or nil
// when there is none.
func (s *Store) PopLastPolygon(key LabelKey, dicomID string) (geometry.Polygon, error) {
	l, err := s.label(key, false)
	if err != nil || l == nil {
		return nil, err
	}
	img := l.image(dicomID, false)
	if img == nil || len(img.polygons) == 0 {
		return nil, nil
	}
	last := img.polygons[len(img.polygons)-1]
	img.polygons = img.polygons[:len(img.polygons)-1]
	s.touch()
	s.polygonsChanged(key, dicomID, len(img.polygons))
	return last, nil
}

func (s *Store) polygonsChanged(key LabelKey, dicomID string, count int) {
	s.hub.PolygonsUpdated.Publish(events.PolygonsUpdated{Label: key, DicomID: dicomID, Count: count})
}

// AllPolygonsForImage groups every label's polygons on one image for a
// combined overlay: ground-truth labels in display order, then custom labels
// in list order. Labels without polygons on the image are skipped. Names are
// returned only when withNames is set.
func (s *Store) AllPolygonsForImage(dicomID string, width, height float64, withNames bool) ([][][]geometry.PixelPoint, []string) {
	var groups [][][]geometry.PixelPoint
	var names []string
	add := func(name string, l *labelAnnotation) {
		if l == nil {
			return
		}
		img := l.image(dicomID, false)
		if img == nil || len(img.polygons) == 0 {
			return
		}
		group := make([][]geometry.PixelPoint, len(img.polygons))
		for i, p := range img.polygons {
			group[i] = p.Scale(width, height)
		}
		groups = append(groups, group)
		if withNames {
			names = append(names, name)
		}
	}

	for _, name := range s.gtNames {
		add(name, s.gt[name])
	}
	for i, c := range s.custom {
		add(DisplayName(c.name, i), c.annotation)
	}
	return groups, names
}

// Target binds the store to one label on one image. It is the sink the
// polygon capture machine commits to.
func (s *Store) Target(key LabelKey, dicomID string) *Target {
	return &Target{store: s, key: key, dicomID: dicomID}
}

type Target struct {
	store   *Store
	key     LabelKey
	dicomID string
}

func (t *Target) Key() LabelKey {
	return t.key
}

func (t *Target) DicomID() string {
	return t.dicomID
}

func (t *Target) AddPolygon(poly geometry.Polygon) error {
	return t.store.AddPolygon(t.key, t.dicomID, poly)
}

func (t *Target) PopLastPolygon() (geometry.Polygon, error) {
	return t.store.PopLastPolygon(t.key, t.dicomID)
}

func (t *Target) Polygons() []geometry.Polygon {
	polys, err := t.store.Polygons(t.key, t.dicomID)
	if err != nil {
		return nil
	}
	return polys
}
