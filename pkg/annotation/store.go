// Package annotation holds every judgment an annotator records for one report:
// report-level answers, per-label answers for automatically extracted
// (ground-truth) labels, annotator-added custom labels and the polygons drawn
// on each image.
//
// Getters are total. An unset answer is reported as ("", false), which is
// distinct from an answer set to the empty string. Setters addressed by a
// ground-truth label name never fail. Operations addressed by a custom label id
// fail with ErrUnknownCustomLabel when the id does not resolve, and operations
// addressed by a list position are no-ops when the position is stale; those
// no-ops are logged and counted by StaleIndexCount.
//
// A Store is not safe for concurrent use; callers serialise access.
package annotation

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/events"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

var (
	ErrUnknownCustomLabel = errors.New("unknown custom label")
	ErrInvalidTarget      = errors.New("feedback target must name exactly one of label, custom label or report field")
	ErrInvalidPolygon     = errors.New("polygon needs at least 3 normalized points")
	ErrUnknownReportField = errors.New("unknown report field")
)

// Grounding answers.
const (
	GroundingYes = "Yes"
	GroundingNo  = "No"
)

// Label source sufficiency codes.
const (
	LabelSourceImagesSufficient = "1"
	LabelSourceImagesPartial    = "2"
	LabelSourceNeedsHistory     = "3"
	LabelSourceNotInferable     = "4"
)

// LabelKey addresses a ground-truth label by name or a custom label by id.
type LabelKey = events.LabelRef

func GroundTruth(name string) LabelKey {
	return LabelKey{Name: name}
}

func Custom(id int) LabelKey {
	return LabelKey{CustomID: id, Custom: true}
}

// ReportField is a report-level question.
type ReportField int

const (
	ReportAccuracy ReportField = iota
	ReportCompleteness
	ImpressionAccuracy
	ReportComment
)

var reportFields = []ReportField{ReportAccuracy, ReportCompleteness, ImpressionAccuracy, ReportComment}

// ReportFields lists the report-level questions in display order.
func ReportFields() []ReportField {
	return append([]ReportField(nil), reportFields...)
}

func (f ReportField) String() string {
	switch f {
	case ReportAccuracy:
		return "report_accuracy"
	case ReportCompleteness:
		return "report_completeness"
	case ImpressionAccuracy:
		return "impression_accuracy"
	case ReportComment:
		return "report_comment"
	}
	return fmt.Sprintf("report_field(%d)", int(f))
}

func ParseReportField(s string) (ReportField, error) {
	for _, f := range reportFields {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownReportField, s)
}

type imageAnnotation struct {
	hasGrounding *string
	polygons     []geometry.Polygon
}

type labelAnnotation struct {
	textAgreement *string
	agreement     *string
	labelSource   *string
	images        map[string]*imageAnnotation
}

func newLabelAnnotation() *labelAnnotation {
	return &labelAnnotation{images: make(map[string]*imageAnnotation)}
}

func (l *labelAnnotation) image(dicomID string, create bool) *imageAnnotation {
	img, ok := l.images[dicomID]
	if !ok && create {
		img = &imageAnnotation{}
		l.images[dicomID] = img
	}
	return img
}

// Config describes the report a Store annotates.
type Config struct {
	// DicomIDs lists the report's images in display order.
	DicomIDs []string
	// GroundTruthLabels lists the automatically extracted label names in
	// display order. A name listed under several categories is one label.
	GroundTruthLabels []string
	Hub               *events.Hub
	// Now defaults to time.Now.
	Now func() time.Time
}

type Store struct {
	dicomIDs []string
	gtNames  []string

	report map[ReportField]string
	gt     map[string]*labelAnnotation
	custom []*customLabel
	nextID int

	hub      *events.Hub
	now      func() time.Time
	lastEdit time.Time
	stale    int
}

func New(cfg Config) *Store {
	hub := cfg.Hub
	if hub == nil {
		hub = events.NewHub()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		dicomIDs: append([]string(nil), cfg.DicomIDs...),
		gtNames:  uniqueNames(cfg.GroundTruthLabels),
		report:   make(map[ReportField]string),
		gt:       make(map[string]*labelAnnotation),
		hub:      hub,
		now:      now,
	}
	s.lastEdit = now()
	return s
}

func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (s *Store) Hub() *events.Hub {
	return s.hub
}

func (s *Store) DicomIDs() []string {
	return append([]string(nil), s.dicomIDs...)
}

func (s *Store) GroundTruthLabels() []string {
	return append([]string(nil), s.gtNames...)
}

// LastEdit is the time of the most recent mutation, or of creation.
func (s *Store) LastEdit() time.Time {
	return s.lastEdit
}

// StaleIndexCount is the number of position-addressed mutations that were
// ignored because the position no longer existed.
func (s *Store) StaleIndexCount() int {
	return s.stale
}

func (s *Store) touch() {
	s.lastEdit = s.now()
}

func (s *Store) staleIndex(op string, index, length int, attrs ...any) {
	s.stale++
	args := append([]any{"op", op, "index", index, "len", length, "stale_total", s.stale}, attrs...)
	slog.Debug("Ignoring stale index", args...)
}

func (s *Store) ReportAnswer(f ReportField) (string, bool) {
	v, ok := s.report[f]
	return v, ok
}

func (s *Store) SetReportAnswer(f ReportField, value string) {
	s.report[f] = value
	s.touch()
}

// label resolves key to its annotation record. Ground-truth records are
// created on demand; custom keys must resolve to an existing label.
func (s *Store) label(key LabelKey, create bool) (*labelAnnotation, error) {
	if key.Custom {
		c, _, err := s.customByID(key.CustomID)
		if err != nil {
			return nil, err
		}
		return c.annotation, nil
	}
	l, ok := s.gt[key.Name]
	if !ok && create {
		l = newLabelAnnotation()
		s.gt[key.Name] = l
	}
	return l, nil
}

func get(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}

func ptr(v string) *string {
	return &v
}

// TextAgreement is whether a ground-truth label was correctly extracted from
// the report text.
func (s *Store) TextAgreement(name string) (string, bool) {
	l := s.gt[name]
	if l == nil {
		return "", false
	}
	return get(l.textAgreement)
}

func (s *Store) SetTextAgreement(name, value string) {
	l, _ := s.label(GroundTruth(name), true)
	l.textAgreement = ptr(value)
	s.touch()
}

// Agreement is whether the label is clinically accurate given the images.
func (s *Store) Agreement(key LabelKey) (string, bool, error) {
	l, err := s.label(key, false)
	if err != nil || l == nil {
		return "", false, err
	}
	v, ok := get(l.agreement)
	return v, ok, nil
}

func (s *Store) SetAgreement(key LabelKey, value string) error {
	l, err := s.label(key, true)
	if err != nil {
		return err
	}
	l.agreement = ptr(value)
	s.touch()
	return nil
}

func (s *Store) LabelSource(key LabelKey) (string, bool, error) {
	l, err := s.label(key, false)
	if err != nil || l == nil {
		return "", false, err
	}
	v, ok := get(l.labelSource)
	return v, ok, nil
}

func (s *Store) SetLabelSource(key LabelKey, value string) error {
	l, err := s.label(key, true)
	if err != nil {
		return err
	}
	l.labelSource = ptr(value)
	s.touch()
	return nil
}

func (s *Store) HasGrounding(key LabelKey, dicomID string) (string, bool, error) {
	l, err := s.label(key, false)
	if err != nil || l == nil {
		return "", false, err
	}
	img := l.image(dicomID, false)
	if img == nil {
		return "", false, nil
	}
	v, ok := get(img.hasGrounding)
	return v, ok, nil
}

// SetHasGrounding records whether the label is visible in an image. A "Yes"
// without polygons is accepted here and reported by feedback.
func (s *Store) SetHasGrounding(key LabelKey, dicomID, value string) error {
	l, err := s.label(key, true)
	if err != nil {
		return err
	}
	l.image(dicomID, true).hasGrounding = ptr(value)
	s.touch()
	return nil
}
