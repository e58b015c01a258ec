package annotation

import (
	"fmt"
)

// Feedback is the advisory completeness check for one annotation target.
type Feedback struct {
	Done     bool     `json:"done"`
	Messages []string `json:"messages"`
}

func feedback(messages []string) Feedback {
	if messages == nil {
		messages = []string{}
	}
	return Feedback{Done: len(messages) == 0, Messages: messages}
}

// FeedbackTarget names what to check. Exactly one field must be set.
type FeedbackTarget struct {
	Label       *string
	CustomID    *int
	ReportField *ReportField
}

// FeedbackFor dispatches on the single target kind set in t.
func (s *Store) FeedbackFor(t FeedbackTarget) (Feedback, error) {
	n := 0
	for _, set := range []bool{t.Label != nil, t.CustomID != nil, t.ReportField != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return Feedback{}, ErrInvalidTarget
	}
	switch {
	case t.Label != nil:
		return s.FeedbackForLabel(GroundTruth(*t.Label))
	case t.CustomID != nil:
		return s.FeedbackForLabel(Custom(*t.CustomID))
	default:
		return s.FeedbackForReportField(*t.ReportField), nil
	}
}

// FeedbackForLabel lists what is still missing for a label, checking in a
// fixed order: text agreement (or name), agreement, found in report (custom
// labels only), grounding on every image, label source.
func (s *Store) FeedbackForLabel(key LabelKey) (Feedback, error) {
	var l *labelAnnotation
	var messages []string

	if key.Custom {
		c, _, err := s.customByID(key.CustomID)
		if err != nil {
			return Feedback{}, err
		}
		l = c.annotation
		if c.name == "" {
			messages = append(messages, "Please select a name for this label.")
		}
	} else {
		l = s.gt[key.Name]
		if l == nil {
			l = newLabelAnnotation()
		}
		if l.textAgreement == nil {
			messages = append(messages, "Please indicate whether this label was correctly extracted from the report.")
		}
	}

	if l.agreement == nil {
		messages = append(messages, "Please indicate whether this label is accurate.")
	}

	if key.Custom {
		c, _, _ := s.customByID(key.CustomID)
		if c.foundInReport == nil {
			messages = append(messages, "Please indicate whether the report mentions this label.")
		}
	}

	for i, dicomID := range s.dicomIDs {
		img := l.image(dicomID, false)
		if img == nil || img.hasGrounding == nil {
			messages = append(messages, fmt.Sprintf("Please indicate whether this label can be observed in image %d.", i+1))
			continue
		}
		if *img.hasGrounding == GroundingYes && len(img.polygons) == 0 {
			messages = append(messages, fmt.Sprintf("You answered \"Yes\" for image %d, but no region has been drawn.", i+1))
		}
	}

	if l.labelSource == nil {
		messages = append(messages, "Please indicate whether the images are sufficient to infer this label.")
	}

	return feedback(messages), nil
}

// FeedbackForReportField checks a report-level answer. The comment is
// optional and always complete.
func (s *Store) FeedbackForReportField(f ReportField) Feedback {
	if f == ReportComment {
		return feedback(nil)
	}
	if _, ok := s.report[f]; ok {
		return feedback(nil)
	}
	var msg string
	switch f {
	case ReportAccuracy:
		msg = "Please rate the accuracy of this report."
	case ReportCompleteness:
		msg = "Please rate the completeness of this report."
	case ImpressionAccuracy:
		msg = "Please rate the accuracy of the impression."
	default:
		msg = fmt.Sprintf("Please answer %s.", f)
	}
	return feedback([]string{msg})
}
