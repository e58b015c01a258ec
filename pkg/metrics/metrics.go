package metrics

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/annotation"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/clustering"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/highlight"
)

// NameSimilarityThreshold is the similarity at which a custom label name is
// reported as a likely duplicate of a ground-truth label.
const NameSimilarityThreshold = 0.8

type Progress struct {
	ReportFieldsAnswered int             `json:"report_fields_answered"`
	ReportFieldsTotal    int             `json:"report_fields_total"`
	LabelsDone           int             `json:"labels_done"`
	LabelsTotal          int             `json:"labels_total"`
	CustomLabels         int             `json:"custom_labels"`
	Polygons             int             `json:"polygons"`
	GroundedImages       int             `json:"grounded_images"`
	PendingLabels        []string        `json:"pending_labels"`
	WordsTotal           int             `json:"words_total"`
	WordsCovered         int             `json:"words_covered"`
	ReportCoverage       float64         `json:"report_coverage"`
	NearDuplicates       []NearDuplicate `json:"near_duplicates"`
	StaleIndexCount      int             `json:"stale_index_count"`
	LastEdit             time.Time       `json:"last_edit"`
	Complete             bool            `json:"complete"`
}

// NearDuplicate is a custom label whose name closely matches a ground-truth
// label.
type NearDuplicate struct {
	CustomID   int     `json:"custom_id"`
	Name       string  `json:"name"`
	Match      string  `json:"match"`
	Similarity float64 `json:"similarity"`
}

// CalculateProgress summarises how far the annotation of one report has got.
// ranges are the label ranges found in reportText.
func CalculateProgress(store *annotation.Store, reportText string, ranges []clustering.Range) Progress {
	p := Progress{
		PendingLabels:   []string{},
		NearDuplicates:  []NearDuplicate{},
		StaleIndexCount: store.StaleIndexCount(),
		LastEdit:        store.LastEdit(),
	}

	reportDone := true
	for _, f := range annotation.ReportFields() {
		p.ReportFieldsTotal++
		if _, ok := store.ReportAnswer(f); ok {
			p.ReportFieldsAnswered++
		}
		if !store.FeedbackForReportField(f).Done {
			reportDone = false
		}
	}

	gtNames := store.GroundTruthLabels()
	keys := make([]annotation.LabelKey, 0, len(gtNames))
	for _, name := range gtNames {
		keys = append(keys, annotation.GroundTruth(name))
	}
	custom := store.CustomLabels()
	for _, c := range custom {
		keys = append(keys, c.Key())
	}
	p.CustomLabels = len(custom)

	for _, key := range keys {
		p.LabelsTotal++
		fb, err := store.FeedbackForLabel(key)
		if err == nil && fb.Done {
			p.LabelsDone++
		} else {
			p.PendingLabels = append(p.PendingLabels, labelName(key, custom))
		}
		for _, dicomID := range store.DicomIDs() {
			p.Polygons += store.PolygonCount(key, dicomID)
			if v, ok, _ := store.HasGrounding(key, dicomID); ok && v == annotation.GroundingYes {
				p.GroundedImages++
			}
		}
	}

	p.WordsTotal, p.WordsCovered = wordCoverage(reportText, ranges)
	if p.WordsTotal > 0 {
		p.ReportCoverage = float64(p.WordsCovered) / float64(p.WordsTotal)
	}

	for _, c := range custom {
		if c.Name == "" {
			continue
		}
		match, sim := MostSimilar(c.Name, gtNames)
		if sim >= NameSimilarityThreshold {
			p.NearDuplicates = append(p.NearDuplicates, NearDuplicate{
				CustomID:   c.ID,
				Name:       c.Name,
				Match:      match,
				Similarity: sim,
			})
		}
	}

	p.Complete = reportDone && p.LabelsDone == p.LabelsTotal
	return p
}

func labelName(key annotation.LabelKey, custom []annotation.CustomLabel) string {
	if !key.Custom {
		return key.Name
	}
	for _, c := range custom {
		if c.ID == key.CustomID {
			return c.DisplayName
		}
	}
	return key.String()
}

// wordCoverage counts the words of text and how many of them overlap one of
// ranges. Offsets are rune indices.
func wordCoverage(text string, ranges []clustering.Range) (int, int) {
	runes := []rune(text)
	merged := highlight.Merge(ranges, len(runes))

	total, covered := 0, 0
	next := 0
	for i := 0; i < len(runes); {
		if !isWordRune(runes[i]) {
			i++
			continue
		}
		start := i
		for i < len(runes) && isWordRune(runes[i]) {
			i++
		}
		total++
		word := clustering.Range{Start: start, End: i}
		for next < len(merged) && merged[next].End <= start {
			next++
		}
		if next < len(merged) && word.Overlap(merged[next]) > 0 {
			covered++
		}
	}
	return total, covered
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// MostSimilar returns the candidate closest to name by normalized edit
// distance, and its similarity in [0,1].
func MostSimilar(name string, candidates []string) (string, float64) {
	best, bestSim := "", 0.0
	norm := normalizeText(name)
	for _, c := range candidates {
		if sim := calculateSimilarity(norm, normalizeText(c)); sim > bestSim {
			best, bestSim = c, sim
		}
	}
	return best, bestSim
}

var whitespace = regexp.MustCompile(`\s+`)

func normalizeText(text string) string {
	text = whitespace.ReplaceAllString(strings.TrimSpace(text), " ")
	return strings.ToLower(text)
}

func levenshteinDistance(s1, s2 []rune) int {
	len1, len2 := len(s1), len(s2)
	if len1 == 0 {
		return len2
	}
	if len2 == 0 {
		return len1
	}

	prev := make([]int, len2+1)
	curr := make([]int, len2+1)
	for j := 0; j <= len2; j++ {
		prev[j] = j
	}

	for i := 1; i <= len1; i++ {
		curr[0] = i
		for j := 1; j <= len2; j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			curr[j] = min(
				min(prev[j]+1, curr[j-1]+1),
				prev[j-1]+cost,
			)
		}
		prev, curr = curr, prev
	}

	return prev[len2]
}

func calculateSimilarity(s1, s2 string) float64 {
	r1, r2 := []rune(s1), []rune(s2)
	maxLen := max(len(r1), len(r2))
	if maxLen == 0 {
		return 1.0
	}
	distance := levenshteinDistance(r1, r2)
	return 1.0 - float64(distance)/float64(maxLen)
}
