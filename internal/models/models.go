package models

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/clustering"
)

// Label categories in display order.
const (
	SourceChexpert       = "chexpert_labels"
	SourceChestImagenome = "chest_imagenome_labels"
	SourceCommon         = "common_labels"
)

// ID accepts either a JSON string or a JSON number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// ImagePair is one (dicomId, viewPosition) entry, encoded as a two element
// array.
type ImagePair struct {
	DicomID      string
	ViewPosition string
}

func (p *ImagePair) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("image pair must be [dicom_id, view_position]: %w", err)
	}
	if len(pair) > 0 {
		p.DicomID = pair[0]
	}
	if len(pair) > 1 {
		p.ViewPosition = pair[1]
	}
	return nil
}

func (p ImagePair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.DicomID, p.ViewPosition})
}

// Range is a half-open [start, end) rune offset into the report text.
type Range [2]int

// LabelRanges maps a label name to its evidence ranges.
type LabelRanges map[string][]Range

// ReportRecord is the read-only metadata for one study.
type ReportRecord struct {
	ReportFilepath       string            `json:"report_filepath"`
	OriginalReport       string            `json:"original_report"`
	PartID               ID                `json:"part_id"`
	SubjectID            ID                `json:"subject_id"`
	StudyID              ID                `json:"study_id"`
	DicomIDViewPosPairs  []ImagePair       `json:"dicom_id_view_pos_pairs"`
	OriginalImageSizes   map[string][2]int `json:"original_image_sizes"`
	ChexpertLabels       LabelRanges       `json:"chexpert_labels"`
	ChestImagenomeLabels LabelRanges       `json:"chest_imagenome_labels"`
	CommonLabels         LabelRanges       `json:"common_labels"`
}

// ParseReportRecord decodes a metadata document. Missing fields are left
// empty and ranges that fall outside the report text are dropped.
func ParseReportRecord(r io.Reader) (*ReportRecord, error) {
	var rec ReportRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode report metadata: %w", err)
	}
	rec.dropInvalidRanges()
	return &rec, nil
}

func (rec *ReportRecord) dropInvalidRanges() {
	textLen := utf8.RuneCountInString(rec.OriginalReport)
	for _, labels := range []LabelRanges{rec.ChexpertLabels, rec.ChestImagenomeLabels, rec.CommonLabels} {
		for name, ranges := range labels {
			kept := ranges[:0]
			for _, r := range ranges {
				if r[0] < 0 || r[1] < r[0] || r[1] > textLen {
					slog.Warn("Dropping label range outside report text", "label", name, "start", r[0], "end", r[1], "text_len", textLen)
					continue
				}
				kept = append(kept, r)
			}
			labels[name] = kept
		}
	}
}

// Categories returns the three label maps in display order.
func (rec *ReportRecord) Categories() []clustering.Category {
	return []clustering.Category{
		{Source: SourceChexpert, Labels: toClusterRanges(rec.ChexpertLabels)},
		{Source: SourceChestImagenome, Labels: toClusterRanges(rec.ChestImagenomeLabels)},
		{Source: SourceCommon, Labels: toClusterRanges(rec.CommonLabels)},
	}
}

// GroundTruthLabels lists every label name of every category, duplicates
// included, in display order.
func (rec *ReportRecord) GroundTruthLabels() []string {
	var names []string
	for _, l := range clustering.Flatten(rec.Categories()...) {
		names = append(names, l.Name)
	}
	return names
}

// HasLabel reports whether name appears in any category.
func (rec *ReportRecord) HasLabel(name string) bool {
	for _, labels := range []LabelRanges{rec.ChexpertLabels, rec.ChestImagenomeLabels, rec.CommonLabels} {
		if _, ok := labels[name]; ok {
			return true
		}
	}
	return false
}

// LabelRangesFor returns the ranges of the first category that has name.
func (rec *ReportRecord) LabelRangesFor(name string) []clustering.Range {
	for _, labels := range []LabelRanges{rec.ChexpertLabels, rec.ChestImagenomeLabels, rec.CommonLabels} {
		if ranges, ok := labels[name]; ok {
			return toRanges(ranges)
		}
	}
	return nil
}

// AllRanges returns every label range of the report.
func (rec *ReportRecord) AllRanges() []clustering.Range {
	var out []clustering.Range
	for _, labels := range []LabelRanges{rec.ChexpertLabels, rec.ChestImagenomeLabels, rec.CommonLabels} {
		for _, ranges := range labels {
			out = append(out, toRanges(ranges)...)
		}
	}
	return out
}

// Images returns the metadata of every image of the study in record order.
func (rec *ReportRecord) Images() []ImageMetadata {
	out := make([]ImageMetadata, 0, len(rec.DicomIDViewPosPairs))
	for i := range rec.DicomIDViewPosPairs {
		m, _ := rec.ImageMetadata(i)
		out = append(out, m)
	}
	return out
}

// ImageMetadata returns the i-th image, or false when i is out of range.
func (rec *ReportRecord) ImageMetadata(i int) (ImageMetadata, bool) {
	if i < 0 || i >= len(rec.DicomIDViewPosPairs) {
		return ImageMetadata{}, false
	}
	pair := rec.DicomIDViewPosPairs[i]
	size := rec.OriginalImageSizes[pair.DicomID]
	return ImageMetadata{
		PartID:    string(rec.PartID),
		SubjectID: string(rec.SubjectID),
		StudyID:   string(rec.StudyID),
		DicomID:   pair.DicomID,
		ViewPos:   pair.ViewPosition,
		Width:     size[0],
		Height:    size[1],
	}, true
}

// Image looks an image up by dicom id.
func (rec *ReportRecord) Image(dicomID string) (ImageMetadata, bool) {
	for i, pair := range rec.DicomIDViewPosPairs {
		if pair.DicomID == dicomID {
			return rec.ImageMetadata(i)
		}
	}
	return ImageMetadata{}, false
}

func (rec *ReportRecord) DicomIDs() []string {
	ids := make([]string, len(rec.DicomIDViewPosPairs))
	for i, pair := range rec.DicomIDViewPosPairs {
		ids[i] = pair.DicomID
	}
	return ids
}

func toRanges(ranges []Range) []clustering.Range {
	out := make([]clustering.Range, len(ranges))
	for i, r := range ranges {
		out[i] = clustering.Range{Start: r[0], End: r[1]}
	}
	return out
}

func toClusterRanges(labels LabelRanges) map[string][]clustering.Range {
	out := make(map[string][]clustering.Range, len(labels))
	for name, ranges := range labels {
		out[name] = toRanges(ranges)
	}
	return out
}

// ImageMetadata identifies one image and its original pixel size.
type ImageMetadata struct {
	PartID    string `json:"part_id"`
	SubjectID string `json:"subject_id"`
	StudyID   string `json:"study_id"`
	DicomID   string `json:"dicom_id"`
	ViewPos   string `json:"view_pos"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// HasSize reports whether the original dimensions are known.
func (m ImageMetadata) HasSize() bool {
	return m.Width > 0 && m.Height > 0
}

// ImageSize is a resolution tier of the image store.
type ImageSize string

const (
	SizeSmall  ImageSize = "small"
	SizeMedium ImageSize = "medium"
	SizeLarge  ImageSize = "large"
)

var ImageSizes = []ImageSize{SizeSmall, SizeMedium, SizeLarge}

func ParseImageSize(s string) (ImageSize, error) {
	switch ImageSize(s) {
	case SizeSmall, SizeMedium, SizeLarge:
		return ImageSize(s), nil
	}
	return "", fmt.Errorf("unknown image size %q", s)
}

// ImageURL is the API path serving m at the given tier.
func ImageURL(size ImageSize, m ImageMetadata) string {
	return fmt.Sprintf("/api/images-%s/%s/%s/%s/%s", size, m.PartID, m.SubjectID, m.StudyID, m.DicomID)
}
