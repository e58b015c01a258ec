// Package session binds one opened report to its annotation store and to the
// interactive state around it: one capture machine per label and image, one
// viewport per image, press-and-hold repeaters and the report text highlight.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/cxr-annotate/internal/models"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/annotation"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/capture"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/clustering"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/events"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/highlight"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/metrics"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/viewport"
)

var (
	ErrUnknownLabel = errors.New("unknown label")
	ErrUnknownImage = errors.New("unknown image")
	ErrClosed       = errors.New("session closed")
)

// FallbackImageSize is used as the original pixel size of an image whose
// dimensions are neither in the record nor probeable.
const FallbackImageSize = 1000

// DefaultViewport is the viewport assumed until a client reports its own.
var DefaultViewport = viewport.Size{Width: 800, Height: 800}

type Options struct {
	// MinPointDistance is the capture machines' minimum separation.
	MinPointDistance float64
	RepeatInterval   time.Duration
	// ProbeSize looks up the original size of an image missing from the
	// record. Optional.
	ProbeSize func(models.ImageMetadata) (int, int, error)
	Now       func() time.Time
}

type Session struct {
	ID        string
	CreatedAt time.Time

	mu     sync.RWMutex
	state  *State
	closed bool

	repeatMu  sync.Mutex
	interval  time.Duration
	repeaters map[string]*viewport.Repeater
}

type machineKey struct {
	label   string
	dicomID string
}

// State is everything a session serialises access to. It is only reachable
// through View and Update.
type State struct {
	Record   *models.ReportRecord
	Store    *annotation.Store
	Hub      *events.Hub
	Clusters []clustering.Entry
	Text     *highlight.View

	opts       Options
	sizes      map[string][2]float64
	machines   map[machineKey]*capture.Machine
	frames     map[machineKey]int
	viewports  map[string]*viewport.Controller
	overlayRev map[string]int
	annotating *events.AnnotateImage

	subs []func() error
}

// New opens a session on rec. Clusters are computed once here.
func New(rec *models.ReportRecord, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	hub := events.NewHub()
	st := &State{
		Record: rec,
		Hub:    hub,
		Store: annotation.New(annotation.Config{
			DicomIDs:          rec.DicomIDs(),
			GroundTruthLabels: rec.GroundTruthLabels(),
			Hub:               hub,
			Now:               opts.Now,
		}),
		Clusters:   clustering.Cluster(clustering.Flatten(rec.Categories()...)),
		Text:       highlight.NewView(rec.OriginalReport),
		opts:       opts,
		sizes:      make(map[string][2]float64),
		machines:   make(map[machineKey]*capture.Machine),
		frames:     make(map[machineKey]int),
		viewports:  make(map[string]*viewport.Controller),
		overlayRev: make(map[string]int),
	}
	st.attach()

	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: opts.Now(),
		state:     st,
		interval:  opts.RepeatInterval,
		repeaters: make(map[string]*viewport.Repeater),
	}
	slog.Info("Session created", "session_id", s.ID, "study_id", rec.StudyID, "images", len(rec.DicomIDViewPosPairs), "clusters", len(clustering.Clusters(st.Clusters)))
	return s
}

func (st *State) attach() {
	st.Text.Attach(st.Hub)
	st.subs = append(st.subs, st.Text.Detach)

	polys := st.Hub.PolygonsUpdated.Subscribe(func(e events.PolygonsUpdated) {
		st.overlayRev[e.DicomID]++
	})
	renamed := st.Hub.CustomLabelRenamed.Subscribe(func(e events.CustomLabelRenamed) {
		slog.Debug("Custom label renamed", "id", e.ID, "name", e.Name)
	})
	annotate := st.Hub.AnnotateImage.Subscribe(func(e events.AnnotateImage) {
		if prev := st.annotating; prev != nil && (prev.Label != e.Label || prev.DicomID != e.DicomID) {
			if m, ok := st.machines[machineKey{prev.Label.String(), prev.DicomID}]; ok {
				m.Cancel()
			}
		}
		target := e
		st.annotating = &target
	})
	st.subs = append(st.subs,
		func() error { return st.Hub.PolygonsUpdated.Unsubscribe(polys) },
		func() error { return st.Hub.CustomLabelRenamed.Unsubscribe(renamed) },
		func() error { return st.Hub.AnnotateImage.Unsubscribe(annotate) },
	)
}

// View runs fn with shared access. fn must not mutate the state.
func (s *Session) View(fn func(*State) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.state)
}

// Update runs fn with exclusive access.
func (s *Session) Update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.state)
}

// Press starts repeating action on the viewport of dicomID until Release.
// It must not be called from inside View or Update.
func (s *Session) Press(dicomID string, action func(*viewport.Controller)) error {
	if err := s.View(func(st *State) error { return st.checkImage(dicomID) }); err != nil {
		return err
	}
	s.repeatMu.Lock()
	r, ok := s.repeaters[dicomID]
	if !ok {
		r = viewport.NewRepeater(s.interval)
		s.repeaters[dicomID] = r
	}
	s.repeatMu.Unlock()

	r.Press(func() {
		err := s.Update(func(st *State) error {
			vp, err := st.Viewport(dicomID)
			if err != nil {
				return err
			}
			action(vp)
			return nil
		})
		if err != nil {
			slog.Debug("Repeat tick skipped", "session_id", s.ID, "dicom_id", dicomID, "err", err)
		}
	})
	return nil
}

// Release stops the repeat running on dicomID, if any. It must not be called
// from inside View or Update.
func (s *Session) Release(dicomID string) {
	s.repeatMu.Lock()
	r := s.repeaters[dicomID]
	s.repeatMu.Unlock()
	if r != nil {
		r.Release()
	}
}

func (s *Session) Repeating(dicomID string) bool {
	s.repeatMu.Lock()
	defer s.repeatMu.Unlock()
	r := s.repeaters[dicomID]
	return r != nil && r.Active()
}

// Close releases every repeater and detaches the session's listeners.
// Further View and Update calls fail with ErrClosed.
func (s *Session) Close() error {
	s.repeatMu.Lock()
	repeaters := s.repeaters
	s.repeaters = make(map[string]*viewport.Repeater)
	s.repeatMu.Unlock()
	for _, r := range repeaters {
		r.Release()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, unsub := range s.state.subs {
		errs = append(errs, unsub())
	}
	slog.Info("Session closed", "session_id", s.ID)
	return errors.Join(errs...)
}

func (st *State) checkImage(dicomID string) error {
	if _, ok := st.Record.Image(dicomID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownImage, dicomID)
	}
	return nil
}

// CheckLabel reports whether key names a ground-truth label of the record or
// an existing custom label.
func (st *State) CheckLabel(key annotation.LabelKey) error {
	if key.Custom {
		_, err := st.Store.CustomLabel(key.CustomID)
		return err
	}
	if !st.Record.HasLabel(key.Name) {
		return fmt.Errorf("%w: %s", ErrUnknownLabel, key.Name)
	}
	return nil
}

// OriginalSize returns the original pixel size of an image, from the record,
// the probe, or FallbackImageSize.
func (st *State) OriginalSize(dicomID string) (float64, float64, error) {
	if size, ok := st.sizes[dicomID]; ok {
		return size[0], size[1], nil
	}
	m, ok := st.Record.Image(dicomID)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownImage, dicomID)
	}
	w, h := m.Width, m.Height
	if !m.HasSize() && st.opts.ProbeSize != nil {
		var err error
		w, h, err = st.opts.ProbeSize(m)
		if err != nil {
			slog.Warn("Unable to probe image size", "dicom_id", dicomID, "err", err)
		}
	}
	if w <= 0 || h <= 0 {
		w, h = FallbackImageSize, FallbackImageSize
	}
	st.sizes[dicomID] = [2]float64{float64(w), float64(h)}
	return float64(w), float64(h), nil
}

// Machine returns the capture machine drawing key on dicomID, creating it on
// first use.
func (st *State) Machine(key annotation.LabelKey, dicomID string) (*capture.Machine, error) {
	if err := st.CheckLabel(key); err != nil {
		return nil, err
	}
	mk := machineKey{key.String(), dicomID}
	if m, ok := st.machines[mk]; ok {
		return m, nil
	}
	w, h, err := st.OriginalSize(dicomID)
	if err != nil {
		return nil, err
	}
	m := capture.New(capture.Config{
		OriginalWidth:  w,
		OriginalHeight: h,
		MinSeparation:  st.opts.MinPointDistance,
	}, st.Store.Target(key, dicomID))
	m.OnRedraw(func(capture.Frame) {
		st.frames[mk]++
	})
	st.machines[mk] = m
	return m, nil
}

// FrameRevision counts the redraws of one capture machine.
func (st *State) FrameRevision(key annotation.LabelKey, dicomID string) int {
	return st.frames[machineKey{key.String(), dicomID}]
}

// Viewport returns the viewport of dicomID, creating one sized for
// DefaultViewport on first use.
func (st *State) Viewport(dicomID string) (*viewport.Controller, error) {
	if vp, ok := st.viewports[dicomID]; ok {
		return vp, nil
	}
	w, h, err := st.OriginalSize(dicomID)
	if err != nil {
		return nil, err
	}
	vp := viewport.New(DefaultViewport, viewport.FitDisplaySize(w, h, DefaultViewport.Width, DefaultViewport.Height))
	st.viewports[dicomID] = vp
	return vp, nil
}

// ResizeViewport records the client's viewport size for dicomID and fits the
// image box into it, keeping zoom and pan.
func (st *State) ResizeViewport(dicomID string, size viewport.Size) (*viewport.Controller, error) {
	vp, err := st.Viewport(dicomID)
	if err != nil {
		return nil, err
	}
	w, h, _ := st.OriginalSize(dicomID)
	vp.Resize(size, viewport.FitDisplaySize(w, h, size.Width, size.Height))
	return vp, nil
}

// OverlayRevision counts polygon changes on dicomID.
func (st *State) OverlayRevision(dicomID string) int {
	return st.overlayRev[dicomID]
}

// Hover publishes a hover change for key. Custom labels have no report
// ranges.
func (st *State) Hover(key annotation.LabelKey, enter bool) error {
	if err := st.CheckLabel(key); err != nil {
		return err
	}
	var ranges []clustering.Range
	if !key.Custom {
		ranges = st.Record.LabelRangesFor(key.Name)
	}
	st.Hub.LabelHover.Publish(events.LabelHover{Label: key.String(), Ranges: ranges, Enter: enter})
	return nil
}

// HighlightUnused toggles highlighting of report text no label covers.
func (st *State) HighlightUnused(on bool) {
	var ranges []clustering.Range
	if on {
		ranges = highlight.Uncovered(st.Record.OriginalReport, st.Record.AllRanges())
	}
	st.Hub.UnusedTextHighlight.Publish(events.UnusedTextHighlight{Ranges: ranges, On: on})
}

// Annotate makes key on dicomID the active drawing target. Switching target
// discards the previous target's unfinished polygon.
func (st *State) Annotate(key annotation.LabelKey, dicomID string) error {
	if err := st.CheckLabel(key); err != nil {
		return err
	}
	if err := st.checkImage(dicomID); err != nil {
		return err
	}
	st.Hub.AnnotateImage.Publish(events.AnnotateImage{Label: key, DicomID: dicomID})
	return nil
}

// Annotating returns the active drawing target.
func (st *State) Annotating() (events.AnnotateImage, bool) {
	if st.annotating == nil {
		return events.AnnotateImage{}, false
	}
	return *st.annotating, true
}

// DeleteCustomLabel removes the custom label at index along with its capture
// machines. A stale index is a no-op.
func (st *State) DeleteCustomLabel(index int) bool {
	key, ok := st.Store.CustomKeyAt(index)
	if !ok {
		return false
	}
	if !st.Store.DeleteCustomLabel(index) {
		return false
	}
	st.forget(key)
	return true
}

func (st *State) DeleteCustomLabelByID(id int) error {
	if err := st.Store.DeleteCustomLabelByID(id); err != nil {
		return err
	}
	st.forget(annotation.Custom(id))
	return nil
}

func (st *State) forget(key annotation.LabelKey) {
	name := key.String()
	for mk := range st.machines {
		if mk.label == name {
			delete(st.machines, mk)
			delete(st.frames, mk)
		}
	}
	if st.annotating != nil && st.annotating.Label == key {
		st.annotating = nil
	}
}

func (st *State) Progress() metrics.Progress {
	return metrics.CalculateProgress(st.Store, st.Record.OriginalReport, st.Record.AllRanges())
}

// Summary is the listing view of a session.
type Summary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastEdit       time.Time `json:"last_edit"`
	ReportFilepath string    `json:"report_filepath"`
	SubjectID      string    `json:"subject_id"`
	StudyID        string    `json:"study_id"`
	Images         int       `json:"images"`
	Complete       bool      `json:"complete"`
}

func (s *Session) Summary() (Summary, error) {
	var sum Summary
	err := s.View(func(st *State) error {
		sum = s.SummaryFrom(st)
		return nil
	})
	return sum, err
}

// SummaryFrom builds the summary from state the caller already holds.
func (s *Session) SummaryFrom(st *State) Summary {
	return Summary{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		LastEdit:       st.Store.LastEdit(),
		ReportFilepath: st.Record.ReportFilepath,
		SubjectID:      string(st.Record.SubjectID),
		StudyID:        string(st.Record.StudyID),
		Images:         len(st.Record.DicomIDViewPosPairs),
		Complete:       st.Progress().Complete,
	}
}
