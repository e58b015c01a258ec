package clustering

import (
	"testing"
)

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestClusterThresholds(t *testing.T) {
	tests := []struct {
		name      string
		a, b      []Range
		wantMerge bool
	}{
		{"ninety percent overlap", []Range{{0, 100}}, []Range{{10, 100}}, true},
		{"ten percent overlap", []Range{{0, 100}}, []Range{{90, 200}}, false},
		{"identical", []Range{{5, 20}}, []Range{{5, 20}}, true},
		{"disjoint", []Range{{0, 10}}, []Range{{10, 20}}, false},
		{"contained but short", []Range{{0, 100}}, []Range{{40, 60}}, false},
		{"count below seventy percent", []Range{{0, 10}, {20, 30}, {40, 50}}, []Range{{0, 10}, {20, 30}, {60, 70}, {80, 90}}, false},
		{"every range shared", []Range{{0, 10}, {20, 30}, {40, 50}}, []Range{{0, 10}, {20, 30}, {40, 50}}, true},
		{"no ranges", nil, []Range{{0, 10}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := Cluster([]Label{
				{Name: "A", Ranges: tt.a},
				{Name: "B", Ranges: tt.b},
			})
			merged := entries[0].Cluster == entries[1].Cluster
			if merged != tt.wantMerge {
				t.Errorf("merged = %v, want %v", merged, tt.wantMerge)
			}

			reversed := Cluster([]Label{
				{Name: "B", Ranges: tt.b},
				{Name: "A", Ranges: tt.a},
			})
			if got := reversed[0].Cluster == reversed[1].Cluster; got != merged {
				t.Errorf("clustering is not symmetric: %v vs %v", merged, got)
			}
		})
	}
}

func TestClusterOrdering(t *testing.T) {
	labels := []Label{
		{Name: "Pleural Effusion", Source: "chexpert", Ranges: []Range{{50, 70}}},
		{Name: "Cardiomegaly", Source: "chexpert", Ranges: []Range{{10, 30}}},
		{Name: "enlarged cardiac silhouette", Source: "chest_imagenome", Ranges: []Range{{12, 30}}},
		{Name: "Support Devices", Source: "chexpert"},
		{Name: "pleural effusion", Source: "chest_imagenome", Ranges: []Range{{50, 70}}},
	}

	entries := Cluster(labels)
	want := []string{
		"Cardiomegaly",
		"enlarged cardiac silhouette",
		"Pleural Effusion",
		"pleural effusion",
		"Support Devices",
	}
	if got := names(entries); !equalStrings(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if entries[0].Cluster != entries[1].Cluster {
		t.Error("cardiomegaly labels should share a cluster")
	}
	if entries[2].Cluster != entries[3].Cluster {
		t.Error("effusion labels should share a cluster")
	}
	if entries[0].Cluster == entries[2].Cluster {
		t.Error("unrelated labels must not share a cluster")
	}

	groups := Clusters(entries)
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	if len(groups[0]) != 2 || len(groups[2]) != 1 {
		t.Errorf("unexpected group sizes: %d, %d, %d", len(groups[0]), len(groups[1]), len(groups[2]))
	}
}

func TestFlatten(t *testing.T) {
	labels := Flatten(
		Category{Source: "chexpert_labels", Labels: map[string][]Range{
			"Edema":        {{0, 5}},
			"Cardiomegaly": {{10, 20}},
		}},
		Category{Source: "chest_imagenome_labels"},
		Category{Source: "common_labels", Labels: map[string][]Range{
			"Atelectasis": {{30, 40}},
			"Edema":       {{0, 5}},
		}},
	)

	want := []string{"Cardiomegaly", "Edema", "Atelectasis", "Edema"}
	got := make([]string, len(labels))
	for i, l := range labels {
		got[i] = l.Name
	}
	if !equalStrings(got, want) {
		t.Fatalf("Flatten names = %v, want %v", got, want)
	}
	if labels[3].Source != "common_labels" {
		t.Errorf("duplicate name lost its source: %q", labels[3].Source)
	}
}

func TestUnionFind(t *testing.T) {
	uf := NewUnionFind(5)
	uf.Union(0, 1)
	uf.Union(3, 4)
	uf.Union(1, 4)

	if !uf.Connected(0, 3) {
		t.Error("0 and 3 should be connected through 1 and 4")
	}
	if uf.Connected(2, 0) {
		t.Error("2 was never unioned")
	}
	if uf.Find(4) != uf.Find(0) {
		t.Error("roots differ after union")
	}
}
