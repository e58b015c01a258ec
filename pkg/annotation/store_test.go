package annotation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/events"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T, dicomIDs ...string) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(Config{
		DicomIDs:          dicomIDs,
		GroundTruthLabels: []string{"Cardiomegaly", "Edema", "Pleural Effusion"},
		Now:               clock.Now,
	})
	return s, clock
}

var triangle = geometry.Polygon{{X: 0.1, Y: 0.1}, {X: 0.5, Y: 0.1}, {X: 0.3, Y: 0.6}}

func TestUnsetIsDistinctFromEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	if _, ok := s.ReportAnswer(ReportComment); ok {
		t.Error("comment should start unset")
	}
	s.SetReportAnswer(ReportComment, "")
	if v, ok := s.ReportAnswer(ReportComment); !ok || v != "" {
		t.Errorf("empty comment should be set, got %q %v", v, ok)
	}

	if _, ok := s.TextAgreement("Edema"); ok {
		t.Error("text agreement should start unset")
	}
	if _, ok, err := s.Agreement(GroundTruth("Unknown label")); ok || err != nil {
		t.Errorf("unknown ground-truth label should read as unset, got ok=%v err=%v", ok, err)
	}
}

func TestFeedbackScenario(t *testing.T) {
	s, _ := newTestStore(t, "dicom-1")
	key := GroundTruth("Cardiomegaly")

	if err := s.SetAgreement(key, "100%"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetHasGrounding(key, "dicom-1", GroundingYes); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLabelSource(key, LabelSourceImagesSufficient); err != nil {
		t.Fatal(err)
	}

	fb, err := s.FeedbackForLabel(key)
	if err != nil {
		t.Fatalf("FeedbackForLabel: %v", err)
	}
	if fb.Done {
		t.Fatal("feedback should not be done")
	}
	if len(fb.Messages) != 2 {
		t.Fatalf("got %d messages, want 2: %v", len(fb.Messages), fb.Messages)
	}
	if !strings.Contains(fb.Messages[0], "extracted from the report") {
		t.Errorf("first message should be about text agreement: %q", fb.Messages[0])
	}
	if !strings.Contains(fb.Messages[1], "no region has been drawn") {
		t.Errorf("second message should be about missing polygons: %q", fb.Messages[1])
	}

	s.SetTextAgreement("Cardiomegaly", "Yes")
	if err := s.AddPolygon(key, "dicom-1", triangle); err != nil {
		t.Fatal(err)
	}
	fb, _ = s.FeedbackForLabel(key)
	if !fb.Done || len(fb.Messages) != 0 {
		t.Errorf("feedback should be done, got %+v", fb)
	}
}

func TestFeedbackCustomLabelOrder(t *testing.T) {
	s, _ := newTestStore(t, "a", "b")
	c := s.AddCustomLabel()

	fb, err := s.FeedbackForLabel(c.Key())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"name", "accurate", "mentions", "image 1", "image 2", "sufficient"}
	if len(fb.Messages) != len(want) {
		t.Fatalf("messages = %v", fb.Messages)
	}
	for i, w := range want {
		if !strings.Contains(fb.Messages[i], w) {
			t.Errorf("message %d = %q, want it to mention %q", i, fb.Messages[i], w)
		}
	}
}

func TestFeedbackFor(t *testing.T) {
	s, _ := newTestStore(t)
	name := "Edema"
	field := ReportAccuracy

	if _, err := s.FeedbackFor(FeedbackTarget{}); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("empty target err = %v", err)
	}
	if _, err := s.FeedbackFor(FeedbackTarget{Label: &name, ReportField: &field}); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("double target err = %v", err)
	}

	fb, err := s.FeedbackFor(FeedbackTarget{ReportField: &field})
	if err != nil || fb.Done {
		t.Errorf("unanswered report field: %+v %v", fb, err)
	}
	s.SetReportAnswer(ReportAccuracy, "4")
	fb, _ = s.FeedbackFor(FeedbackTarget{ReportField: &field})
	if !fb.Done {
		t.Error("answered report field should be done")
	}

	missing := 99
	if _, err := s.FeedbackFor(FeedbackTarget{CustomID: &missing}); !errors.Is(err, ErrUnknownCustomLabel) {
		t.Errorf("unknown custom id err = %v", err)
	}
}

func TestCustomLabelIDStability(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 3; i++ {
		if got := s.AddCustomLabel().ID; got != i {
			t.Fatalf("label %d got id %d", i, got)
		}
	}
	if err := s.SetCustomLabelName(2, "Nodule"); err != nil {
		t.Fatal(err)
	}

	if !s.DeleteCustomLabel(1) {
		t.Fatal("delete at index 1 failed")
	}
	labels := s.CustomLabels()
	if len(labels) != 2 || labels[0].ID != 0 || labels[1].ID != 2 {
		t.Fatalf("labels after delete = %+v", labels)
	}
	idx, err := s.CustomLabelIndex(2)
	if err != nil || idx != 1 {
		t.Errorf("CustomLabelIndex(2) = %d, %v; want 1", idx, err)
	}
	c, err := s.CustomLabel(2)
	if err != nil || c.Name != "Nodule" {
		t.Errorf("label 2 = %+v, %v", c, err)
	}
	if labels[0].DisplayName != "Custom Label 1" {
		t.Errorf("unnamed label display name = %q", labels[0].DisplayName)
	}

	if _, err := s.CustomLabelIndex(1); !errors.Is(err, ErrUnknownCustomLabel) {
		t.Errorf("deleted id should not resolve, err = %v", err)
	}
	if err := s.SetAgreement(Custom(1), "Yes"); !errors.Is(err, ErrUnknownCustomLabel) {
		t.Errorf("setter on deleted id err = %v", err)
	}

	if got := s.AddCustomLabel().ID; got != 3 {
		t.Errorf("ids must never be reused, got %d", got)
	}
}

func TestStaleIndexIsCountedNoOp(t *testing.T) {
	s, _ := newTestStore(t, "d")
	s.AddCustomLabel()
	before := s.LastEdit()

	if s.DeleteCustomLabel(5) {
		t.Error("delete at stale index should report false")
	}
	if err := s.DeletePolygon(GroundTruth("Edema"), "d", 0); err != nil {
		t.Errorf("stale polygon delete should not error: %v", err)
	}
	if s.SetCustomLabelNameAt(-1, "x") {
		t.Error("rename at stale index should report false")
	}
	if s.StaleIndexCount() != 3 {
		t.Errorf("StaleIndexCount = %d, want 3", s.StaleIndexCount())
	}
	if !s.LastEdit().Equal(before) {
		t.Error("no-ops must not advance the edit timestamp")
	}
	if s.CustomLabelCount() != 1 {
		t.Error("stale delete removed a label")
	}
}

func TestPolygonRescale(t *testing.T) {
	s, _ := newTestStore(t, "d")
	key := GroundTruth("Edema")
	if err := s.AddPolygon(key, "d", triangle); err != nil {
		t.Fatal(err)
	}

	scaled, err := s.PolygonsForLabel(key, "d", 2000, 1000)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range triangle {
		want := p.ToPixel(2000, 1000)
		if scaled[0][i] != want {
			t.Errorf("vertex %d = %v, want %v", i, scaled[0][i], want)
		}
	}

	unit, _ := s.PolygonsForLabel(key, "d", 1, 1)
	for i, p := range triangle {
		if unit[0][i].X != p.X || unit[0][i].Y != p.Y {
			t.Errorf("unit scale changed vertex %d", i)
		}
	}

	none, err := s.PolygonsForLabel(GroundTruth("Cardiomegaly"), "d", 10, 10)
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("missing polygons should be an empty list, got %v %v", none, err)
	}

	scaled[0][0].X = -1
	again, _ := s.Polygons(key, "d")
	if again[0][0].X != 0.1 {
		t.Error("caller mutation leaked into the store")
	}
}

func TestPolygonEventsOnlyOnChange(t *testing.T) {
	hub := events.NewHub()
	s := New(Config{DicomIDs: []string{"d"}, Hub: hub})
	var updates []events.PolygonsUpdated
	hub.PolygonsUpdated.Subscribe(func(e events.PolygonsUpdated) { updates = append(updates, e) })

	key := GroundTruth("Edema")
	if err := s.AddPolygon(key, "d", geometry.Polygon{{X: 0, Y: 0}, {X: 1, Y: 1}}); !errors.Is(err, ErrInvalidPolygon) {
		t.Errorf("two-point polygon err = %v", err)
	}
	if err := s.AddPolygon(key, "d", triangle); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPolygon(key, "d", triangle); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePolygon(key, "d", 7); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePolygon(key, "d", 0); err != nil {
		t.Fatal(err)
	}
	p, err := s.PopLastPolygon(key, "d")
	if err != nil || p == nil {
		t.Fatalf("PopLastPolygon = %v, %v", p, err)
	}
	p, err = s.PopLastPolygon(key, "d")
	if err != nil || p != nil {
		t.Errorf("pop on empty = %v, %v; want nil", p, err)
	}

	if len(updates) != 4 {
		t.Fatalf("got %d notifications, want 4", len(updates))
	}
	counts := []int{1, 2, 1, 0}
	for i, u := range updates {
		if u.Count != counts[i] || u.DicomID != "d" || u.Label != key {
			t.Errorf("update %d = %+v", i, u)
		}
	}
}

func TestRenamePublishes(t *testing.T) {
	s, _ := newTestStore(t)
	var got []events.CustomLabelRenamed
	s.Hub().CustomLabelRenamed.Subscribe(func(e events.CustomLabelRenamed) { got = append(got, e) })

	c := s.AddCustomLabel()
	if err := s.SetCustomLabelName(c.ID, "Edema"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Edema" {
		t.Errorf("renamed events = %v", got)
	}
	if err := s.SetCustomLabelName(42, "x"); !errors.Is(err, ErrUnknownCustomLabel) {
		t.Errorf("rename unknown err = %v", err)
	}
}

func TestAllPolygonsForImage(t *testing.T) {
	s, _ := newTestStore(t, "d", "e")
	_ = s.AddPolygon(GroundTruth("Pleural Effusion"), "d", triangle)
	_ = s.AddPolygon(GroundTruth("Cardiomegaly"), "d", triangle)
	_ = s.AddPolygon(GroundTruth("Cardiomegaly"), "e", triangle)
	c := s.AddCustomLabel()
	_ = s.AddPolygon(c.Key(), "d", triangle)

	groups, names := s.AllPolygonsForImage("d", 100, 100, true)
	want := []string{"Cardiomegaly", "Pleural Effusion", "Custom Label 1"}
	if strings.Join(names, "|") != strings.Join(want, "|") {
		t.Errorf("names = %v, want %v", names, want)
	}
	if len(groups) != 3 || len(groups[0]) != 1 {
		t.Fatalf("groups = %v", groups)
	}
	if groups[0][0][0] != (geometry.PixelPoint{X: 10, Y: 10}) {
		t.Errorf("first vertex = %v", groups[0][0][0])
	}

	_, names = s.AllPolygonsForImage("d", 1, 1, false)
	if names != nil {
		t.Errorf("names should be nil without withNames, got %v", names)
	}
}

func TestCustomLabelOptions(t *testing.T) {
	s, _ := newTestStore(t)
	c := s.AddCustomLabel()
	_ = s.SetCustomLabelName(c.ID, "Atelectasis")
	c2 := s.AddCustomLabel()
	_ = s.SetCustomLabelName(c2.ID, "Edema")

	got := s.CustomLabelOptions()
	want := []string{"Atelectasis", "Cardiomegaly", "Edema", "Pleural Effusion"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("options = %v, want %v", got, want)
	}
}

func TestLastEditAdvances(t *testing.T) {
	s, _ := newTestStore(t)
	t0 := s.LastEdit()
	s.SetReportAnswer(ReportAccuracy, "3")
	t1 := s.LastEdit()
	if !t1.After(t0) {
		t.Error("setter did not advance the edit timestamp")
	}
	_ = s.SetLabelSource(GroundTruth("Edema"), "2")
	if !s.LastEdit().After(t1) {
		t.Error("label setter did not advance the edit timestamp")
	}
}

func TestTargetSink(t *testing.T) {
	s, _ := newTestStore(t, "d")
	target := s.Target(GroundTruth("Edema"), "d")
	if err := target.AddPolygon(triangle); err != nil {
		t.Fatal(err)
	}
	if len(target.Polygons()) != 1 {
		t.Errorf("target sees %d polygons", len(target.Polygons()))
	}
	if p, _ := target.PopLastPolygon(); len(p) != 3 {
		t.Errorf("popped %v", p)
	}
	if s.PolygonCount(GroundTruth("Edema"), "d") != 0 {
		t.Error("pop through target did not reach the store")
	}
}

func TestSnapshotAndSchema(t *testing.T) {
	s, _ := newTestStore(t, "d")
	_ = s.SetHasGrounding(GroundTruth("Edema"), "d", GroundingYes)
	_ = s.AddPolygon(GroundTruth("Edema"), "d", triangle)
	c := s.AddCustomLabel()
	_ = s.SetFoundInReport(c.ID, GroundingNo)

	snap := s.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"polygons":[[[0.1,0.1],[0.5,0.1],[0.3,0.6]]]`) {
		t.Errorf("snapshot polygons not encoded as point arrays: %s", data)
	}
	if snap.NextCustomID != 1 || len(snap.CustomLabels) != 1 || *snap.CustomLabels[0].FoundInReport != "No" {
		t.Errorf("unexpected custom labels in snapshot: %+v", snap.CustomLabels)
	}

	snap.GroundTruth["Edema"].Images["d"].Polygons[0][0] = geometry.Point{X: 9, Y: 9}
	polys, _ := s.Polygons(GroundTruth("Edema"), "d")
	if polys[0][0].X != 0.1 {
		t.Error("snapshot shares memory with the store")
	}

	schema, err := json.Marshal(SnapshotSchema())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"ground_truth_labels"`, `"custom_labels"`, `"array"`} {
		if !strings.Contains(string(schema), want) {
			t.Errorf("schema missing %s", want)
		}
	}
}

func TestParseReportField(t *testing.T) {
	for _, f := range reportFields {
		got, err := ParseReportField(f.String())
		if err != nil || got != f {
			t.Errorf("ParseReportField(%q) = %v, %v", f, got, err)
		}
	}
	if _, err := ParseReportField("nope"); !errors.Is(err, ErrUnknownReportField) {
		t.Errorf("err = %v", err)
	}
}
