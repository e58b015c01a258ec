// Package highlight splits report text into plain and highlighted segments.
// Offsets are rune indices.
package highlight

import (
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/clustering"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/events"
)

type Segment struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Text        string `json:"text"`
	Highlighted bool   `json:"highlighted"`
}

// Merge sorts ranges, clips them to [0, n) and joins overlapping or touching
// ones. Empty ranges are dropped.
func Merge(ranges []clustering.Range, n int) []clustering.Range {
	clipped := make([]clustering.Range, 0, len(ranges))
	for _, r := range ranges {
		r.Start = max(r.Start, 0)
		r.End = min(r.End, n)
		if r.End > r.Start {
			clipped = append(clipped, r)
		}
	}
	sort.Slice(clipped, func(i, j int) bool {
		return clipped[i].Start < clipped[j].Start
	})

	var out []clustering.Range
	for _, r := range clipped {
		if len(out) > 0 && r.Start <= out[len(out)-1].End {
			out[len(out)-1].End = max(out[len(out)-1].End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Segments covers text with alternating plain and highlighted segments.
func Segments(text string, ranges []clustering.Range) []Segment {
	runes := []rune(text)
	var out []Segment
	last := 0
	for _, r := range Merge(ranges, len(runes)) {
		if r.Start > last {
			out = append(out, Segment{Start: last, End: r.Start, Text: string(runes[last:r.Start])})
		}
		out = append(out, Segment{Start: r.Start, End: r.End, Text: string(runes[r.Start:r.End]), Highlighted: true})
		last = r.End
	}
	if last < len(runes) {
		out = append(out, Segment{Start: last, End: len(runes), Text: string(runes[last:])})
	}
	return out
}

// Uncovered returns the spans of text no range covers, ignoring spans that
// hold only whitespace and punctuation.
func Uncovered(text string, ranges []clustering.Range) []clustering.Range {
	var out []clustering.Range
	for _, s := range Segments(text, ranges) {
		if s.Highlighted || !hasContent(s.Text) {
			continue
		}
		out = append(out, clustering.Range{Start: s.Start, End: s.End})
	}
	return out
}

func hasContent(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

// View tracks what the report text panel highlights: the ranges of the
// hovered label, or the unused text while that toggle is on.
type View struct {
	text   string
	hover  []clustering.Range
	unused []clustering.Range

	hub       *events.Hub
	hoverSub  events.Subscription
	unusedSub events.Subscription
}

func NewView(text string) *View {
	return &View{text: text}
}

// Attach subscribes the view to the hover and unused-text buses of hub.
func (v *View) Attach(hub *events.Hub) {
	v.hub = hub
	v.hoverSub = hub.LabelHover.Subscribe(func(e events.LabelHover) {
		if e.Enter {
			v.hover = append([]clustering.Range(nil), e.Ranges...)
		} else {
			v.hover = nil
		}
	})
	v.unusedSub = hub.UnusedTextHighlight.Subscribe(func(e events.UnusedTextHighlight) {
		if e.On {
			v.unused = append([]clustering.Range(nil), e.Ranges...)
		} else {
			v.unused = nil
		}
	})
}

// Detach removes the view's subscriptions.
func (v *View) Detach() error {
	if v.hub == nil {
		return nil
	}
	err := errors.Join(
		v.hub.LabelHover.Unsubscribe(v.hoverSub),
		v.hub.UnusedTextHighlight.Unsubscribe(v.unusedSub),
	)
	v.hub = nil
	return err
}

// Active returns the ranges currently highlighted. Hover wins over the
// unused-text toggle.
func (v *View) Active() []clustering.Range {
	if len(v.hover) > 0 {
		return v.hover
	}
	return v.unused
}

func (v *View) Segments() []Segment {
	return Segments(v.text, v.Active())
}
