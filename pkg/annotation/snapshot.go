package annotation

import (
	"reflect"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

// Snapshot is a JSON-serialisable copy of a Store. It shares no memory with
// the store.
type Snapshot struct {
	Report       map[string]string        `json:"report" jsonschema:"required"`
	GroundTruth  map[string]LabelSnapshot `json:"ground_truth_labels" jsonschema:"required"`
	CustomLabels []CustomLabelSnapshot    `json:"custom_labels" jsonschema:"required"`
	NextCustomID int                      `json:"next_custom_id" jsonschema:"required,minimum=0"`
	LastEdit     time.Time                `json:"last_edit" jsonschema:"required"`
}

type LabelSnapshot struct {
	TextAgreement *string                  `json:"text_agreement,omitempty"`
	Agreement     *string                  `json:"agreement,omitempty"`
	LabelSource   *string                  `json:"label_source,omitempty" jsonschema:"enum=1,enum=2,enum=3,enum=4"`
	Images        map[string]ImageSnapshot `json:"images,omitempty"`
}

type ImageSnapshot struct {
	HasGrounding *string            `json:"has_grounding,omitempty" jsonschema:"enum=Yes,enum=No"`
	Polygons     []geometry.Polygon `json:"polygons"`
}

type CustomLabelSnapshot struct {
	ID            int     `json:"id" jsonschema:"required,minimum=0"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	FoundInReport *string `json:"found_in_report,omitempty" jsonschema:"enum=Yes,enum=No"`
	LabelSnapshot
}

func copyPtr(p *string) *string {
	if p == nil {
		return nil
	}
	return ptr(*p)
}

func snapshotLabel(l *labelAnnotation) LabelSnapshot {
	out := LabelSnapshot{
		TextAgreement: copyPtr(l.textAgreement),
		Agreement:     copyPtr(l.agreement),
		LabelSource:   copyPtr(l.labelSource),
	}
	if len(l.images) > 0 {
		out.Images = make(map[string]ImageSnapshot, len(l.images))
		for id, img := range l.images {
			polys := make([]geometry.Polygon, len(img.polygons))
			for i, p := range img.polygons {
				polys[i] = p.Clone()
			}
			out.Images[id] = ImageSnapshot{HasGrounding: copyPtr(img.hasGrounding), Polygons: polys}
		}
	}
	return out
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Report:       make(map[string]string, len(s.report)),
		GroundTruth:  make(map[string]LabelSnapshot, len(s.gt)),
		CustomLabels: make([]CustomLabelSnapshot, 0, len(s.custom)),
		NextCustomID: s.nextID,
		LastEdit:     s.lastEdit,
	}
	for f, v := range s.report {
		snap.Report[f.String()] = v
	}
	for name, l := range s.gt {
		snap.GroundTruth[name] = snapshotLabel(l)
	}
	for _, c := range s.custom {
		snap.CustomLabels = append(snap.CustomLabels, CustomLabelSnapshot{
			ID:            c.id,
			Name:          c.name,
			Description:   c.description,
			FoundInReport: copyPtr(c.foundInReport),
			LabelSnapshot: snapshotLabel(c.annotation),
		})
	}
	return snap
}

// SnapshotSchema describes the JSON form of Snapshot.
func SnapshotSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		Mapper:                     mapGeometry,
	}
	return reflector.Reflect(&Snapshot{})
}

var pointType = reflect.TypeOf(geometry.Point{})

// mapGeometry describes points by their [x, y] wire form.
func mapGeometry(t reflect.Type) *jsonschema.Schema {
	if t != pointType {
		return nil
	}
	return &jsonschema.Schema{
		Type:        "array",
		Description: "normalized [x, y] in [0, 1]",
		Items:       &jsonschema.Schema{Type: "number"},
	}
}
