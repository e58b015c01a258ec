// Package clustering groups automatically extracted labels whose report-text
// evidence overlaps, so near-duplicate findings produced by different labelers
// are listed next to each other.
package clustering

import (
	"math"
	"sort"
)

const (
	// RangeOverlapThreshold is the fraction of each range's length a range pair
	// must share to count as overlapping.
	RangeOverlapThreshold = 0.8
	// LabelOverlapThreshold is the fraction of the larger label's range count
	// that must overlap for two labels to be merged.
	LabelOverlapThreshold = 0.7
)

// Range is a half-open [Start, End) span of report text.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) Len() int {
	return r.End - r.Start
}

// Overlap returns the length shared by r and o, zero when disjoint.
func (r Range) Overlap(o Range) int {
	return max(0, min(r.End, o.End)-max(r.Start, o.Start))
}

// Label is one flattened label with its evidence ranges.
type Label struct {
	Name   string
	Source string
	Ranges []Range
}

// Category is one labeler's output: label name to evidence ranges.
type Category struct {
	Source string
	Labels map[string][]Range
}

// Flatten lists every label of every category, keeping category order and
// sorting names within a category. Names repeated across categories stay
// separate entries.
func Flatten(categories ...Category) []Label {
	var out []Label
	for _, c := range categories {
		names := make([]string, 0, len(c.Labels))
		for name := range c.Labels {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, Label{Name: name, Source: c.Source, Ranges: c.Labels[name]})
		}
	}
	return out
}

// Entry is a label placed in display order. Cluster is the index of the
// cluster's root in the input slice; entries sharing it are in one cluster.
type Entry struct {
	Label
	Cluster int
}

// Cluster unions every pair of labels whose ranges overlap enough and returns
// the labels ordered by the first range start of their cluster root, then by
// name. Labels without ranges never merge and sort after all others.
func Cluster(labels []Label) []Entry {
	uf := NewUnionFind(len(labels))
	for i := 0; i < len(labels); i++ {
		for j := i + 1; j < len(labels); j++ {
			if shouldMerge(labels[i].Ranges, labels[j].Ranges) {
				uf.Union(i, j)
			}
		}
	}

	entries := make([]Entry, len(labels))
	keys := make([]int, len(labels))
	for i, l := range labels {
		root := uf.Find(i)
		entries[i] = Entry{Label: l, Cluster: root}
		keys[i] = firstStart(labels[root].Ranges)
	}

	order := make([]int, len(labels))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if keys[ia] != keys[ib] {
			return keys[ia] < keys[ib]
		}
		return entries[ia].Name < entries[ib].Name
	})

	out := make([]Entry, len(entries))
	for i, idx := range order {
		out[i] = entries[idx]
	}
	return out
}

// Clusters groups the output of Cluster into runs sharing a root, keeping
// display order.
func Clusters(entries []Entry) [][]Entry {
	var groups [][]Entry
	pos := make(map[int]int)
	for _, e := range entries {
		i, ok := pos[e.Cluster]
		if !ok {
			i = len(groups)
			pos[e.Cluster] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], e)
	}
	return groups
}

func shouldMerge(a, b []Range) bool {
	larger := max(len(a), len(b))
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	count := 0
	for _, ra := range a {
		for _, rb := range b {
			if rangesOverlap(ra, rb) {
				count++
			}
		}
	}
	return float64(count)/float64(larger) >= LabelOverlapThreshold
}

func rangesOverlap(a, b Range) bool {
	ov := a.Overlap(b)
	if ov <= 0 {
		return false
	}
	return float64(ov) >= RangeOverlapThreshold*float64(a.Len()) &&
		float64(ov) >= RangeOverlapThreshold*float64(b.Len())
}

func firstStart(ranges []Range) int {
	if len(ranges) == 0 {
		return math.MaxInt
	}
	return ranges[0].Start
}
