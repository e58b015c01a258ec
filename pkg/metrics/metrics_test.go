package metrics

import (
	"math"
	"testing"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/annotation"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/clustering"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/geometry"
)

const report = "Mild cardiomegaly. No effusion."

var reportRanges = []clustering.Range{{Start: 5, End: 17}, {Start: 22, End: 30}}

func TestCalculateProgressEmpty(t *testing.T) {
	store := annotation.New(annotation.Config{
		DicomIDs:          []string{"d1", "d2"},
		GroundTruthLabels: []string{"Cardiomegaly", "Pleural Effusion"},
	})
	p := CalculateProgress(store, report, reportRanges)

	if p.LabelsTotal != 2 || p.LabelsDone != 0 {
		t.Errorf("labels %d/%d, want 0/2", p.LabelsDone, p.LabelsTotal)
	}
	if p.ReportFieldsTotal != 4 || p.ReportFieldsAnswered != 0 {
		t.Errorf("report fields %d/%d, want 0/4", p.ReportFieldsAnswered, p.ReportFieldsTotal)
	}
	if len(p.PendingLabels) != 2 || p.PendingLabels[0] != "Cardiomegaly" {
		t.Errorf("pending = %v", p.PendingLabels)
	}
	if p.Complete {
		t.Error("an empty annotation is not complete")
	}
	if p.WordsTotal != 4 || p.WordsCovered != 2 || math.Abs(p.ReportCoverage-0.5) > 1e-9 {
		t.Errorf("coverage %d/%d = %v", p.WordsCovered, p.WordsTotal, p.ReportCoverage)
	}
}

func TestCalculateProgressComplete(t *testing.T) {
	store := annotation.New(annotation.Config{
		DicomIDs:          []string{"d1"},
		GroundTruthLabels: []string{"Cardiomegaly"},
	})
	for _, f := range []annotation.ReportField{annotation.ReportAccuracy, annotation.ReportCompleteness, annotation.ImpressionAccuracy} {
		store.SetReportAnswer(f, "5")
	}

	gt := annotation.GroundTruth("Cardiomegaly")
	store.SetTextAgreement("Cardiomegaly", "Yes")
	mustNil(t, store.SetAgreement(gt, "Yes"))
	mustNil(t, store.SetLabelSource(gt, annotation.LabelSourceImagesSufficient))
	mustNil(t, store.SetHasGrounding(gt, "d1", annotation.GroundingYes))
	mustNil(t, store.AddPolygon(gt, "d1", geometry.Polygon{{X: 0.1, Y: 0.1}, {X: 0.5, Y: 0.1}, {X: 0.3, Y: 0.4}}))

	c := store.AddCustomLabel()
	mustNil(t, store.SetCustomLabelName(c.ID, "cardiomegally"))
	mustNil(t, store.SetAgreement(c.Key(), "Yes"))
	mustNil(t, store.SetFoundInReport(c.ID, "No"))
	mustNil(t, store.SetHasGrounding(c.Key(), "d1", annotation.GroundingNo))
	mustNil(t, store.SetLabelSource(c.Key(), annotation.LabelSourceNotInferable))

	p := CalculateProgress(store, report, reportRanges)
	if !p.Complete {
		t.Fatalf("expected complete, pending %v", p.PendingLabels)
	}
	if p.LabelsDone != 2 || p.CustomLabels != 1 {
		t.Errorf("labels done %d custom %d", p.LabelsDone, p.CustomLabels)
	}
	if p.Polygons != 1 || p.GroundedImages != 1 {
		t.Errorf("polygons %d grounded %d, want 1 and 1", p.Polygons, p.GroundedImages)
	}
	if p.ReportFieldsAnswered != 3 {
		t.Errorf("answered %d report fields, want 3", p.ReportFieldsAnswered)
	}
	if len(p.NearDuplicates) != 1 || p.NearDuplicates[0].Match != "Cardiomegaly" {
		t.Errorf("near duplicates = %+v", p.NearDuplicates)
	}
}

func TestCalculateProgressSharedLabelName(t *testing.T) {
	// Cardiomegaly listed under both chexpert and common labels.
	store := annotation.New(annotation.Config{
		DicomIDs:          []string{"d1"},
		GroundTruthLabels: []string{"Cardiomegaly", "Cardiomegaly", "Edema"},
	})
	gt := annotation.GroundTruth("Cardiomegaly")
	mustNil(t, store.SetHasGrounding(gt, "d1", annotation.GroundingYes))
	mustNil(t, store.AddPolygon(gt, "d1", geometry.Polygon{{X: 0.1, Y: 0.1}, {X: 0.5, Y: 0.1}, {X: 0.3, Y: 0.4}}))

	p := CalculateProgress(store, report, reportRanges)
	if p.LabelsTotal != 2 {
		t.Errorf("labels total = %d, want 2", p.LabelsTotal)
	}
	if p.Polygons != 1 || p.GroundedImages != 1 {
		t.Errorf("polygons %d grounded %d, want 1 and 1", p.Polygons, p.GroundedImages)
	}
	if len(p.PendingLabels) != 2 || p.PendingLabels[0] != "Cardiomegaly" || p.PendingLabels[1] != "Edema" {
		t.Errorf("pending = %v", p.PendingLabels)
	}
	groups, _ := store.AllPolygonsForImage("d1", 100, 100, false)
	if len(groups) != p.Polygons {
		t.Errorf("overlay draws %d polygons, progress counts %d", len(groups), p.Polygons)
	}
}

func TestMostSimilar(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantMatch string
		minSim    float64
		maxSim    float64
	}{
		{"exact ignoring case", "  pleural   EFFUSION ", "Pleural Effusion", 1, 1},
		{"one typo", "Atelectassis", "Atelectasis", 0.9, 0.95},
		{"unrelated", "Fracture", "Atelectasis", 0, 0.5},
	}
	candidates := []string{"Pleural Effusion", "Atelectasis", "Cardiomegaly"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, sim := MostSimilar(tt.input, candidates)
			if sim < tt.minSim || sim > tt.maxSim {
				t.Errorf("similarity = %v, want in [%v, %v]", sim, tt.minSim, tt.maxSim)
			}
			if tt.minSim > 0 && match != tt.wantMatch {
				t.Errorf("match = %q, want %q", match, tt.wantMatch)
			}
		})
	}
}

func TestLevenshteinRunes(t *testing.T) {
	if d := levenshteinDistance([]rune("cœur"), []rune("coeur")); d != 2 {
		t.Errorf("distance = %d, want 2", d)
	}
	if s := calculateSimilarity("", ""); s != 1 {
		t.Errorf("similarity of empty strings = %v", s)
	}
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
