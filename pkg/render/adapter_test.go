package render

import (
	"testing"

	"github.com/lproko/powerbi-leaflet-sub000/pkg/boundaries"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/fieldextract"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/regionmatch"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/selection"
)

const oneRegion = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"gaul_code": 840, "name": "United States"},
      "geometry": {"type": "Polygon", "coordinates": [[[-80, 35], [-70, 35], [-70, 45], [-80, 45], [-80, 35]]]}
    },
    {
      "type": "Feature",
      "properties": {"gaul_code": 250, "name": "France"},
      "geometry": {"type": "Polygon", "coordinates": [[[-5, 42], [8, 42], [8, 51], [-5, 51], [-5, 42]]]}
    }
  ]
}`

func f(v float64) *float64 { return &v }

// TestBuildMarkersAndHighlight covers the end-to-end concrete scenario:
// one row at (40.7128,-74.0060) with admin "840" yields one marker and a
// highlighted "840" boundary, while "250" stays neutral and
// non-interactive.
func TestBuildMarkersAndHighlight(t *testing.T) {
	set, err := boundaries.Decode("test://one", []byte(oneRegion))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var matcher regionmatch.Matcher
	matcher.SetBoundaries(set)

	records := []fieldextract.Record{
		{RowIndex: 0, Latitude: f(40.7128), Longitude: f(-74.006), AdminCode: "840"},
		{RowIndex: 1, AdminCode: ""}, // unusable: no coords, no code
	}
	matcher.SetRecords(records)

	model := Build(Input{
		Records: records,
		Rows:    [][]any{{40.7128, -74.006, "840"}, {nil, nil, nil}},
		Keys:    []string{"k0", "k1"},
		Matcher: &matcher,
	})

	if len(model.Markers) != 1 {
		t.Fatalf("markers = %d, want 1", len(model.Markers))
	}
	m := model.Markers[0]
	if m.Lat != 40.7128 || m.Lng != -74.006 {
		t.Fatalf("marker at (%v,%v)", m.Lat, m.Lng)
	}
	if len(model.Boundaries) != 2 {
		t.Fatalf("boundaries = %d, want 2", len(model.Boundaries))
	}
	for _, b := range model.Boundaries {
		switch b.RegionCode {
		case "840":
			if !b.Highlighted || !b.Interactive {
				t.Errorf("840 = %+v, want highlighted and interactive", b)
			}
		case "250":
			if b.Highlighted || b.Interactive {
				t.Errorf("250 = %+v, want neutral and inert", b)
			}
		}
	}
}

func TestBuildAppliesDimming(t *testing.T) {
	records := []fieldextract.Record{
		{RowIndex: 0, Latitude: f(1), Longitude: f(1)},
		{RowIndex: 1, Latitude: f(2), Longitude: f(2)},
	}
	view := selection.View{Active: true, Current: map[string]struct{}{"k0": {}}}
	model := Build(Input{
		Records: records,
		Rows:    [][]any{{}, {}},
		Keys:    []string{"k0", "k1"},
		View:    view,
	})
	if model.Markers[0].Dimmed {
		t.Fatal("selected marker must not be dimmed")
	}
	if !model.Markers[1].Dimmed {
		t.Fatal("non-selected marker must be dimmed while a selection is active")
	}
}

// TestTooltipRows pins the assembly rules: empty values vanish rather
// than rendering blank lines, and with more than two rows a divider
// follows every second row but never the last.
func TestTooltipRows(t *testing.T) {
	rows := TooltipRows([]Pair{
		{Label: "Site", Value: "Alpha"},
		{Label: "Empty", Value: ""},
		{Label: "Country", Value: "France"},
		{Label: "Code", Value: "250"},
		{Label: "Ref", Value: "12"},
	})
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4 (empty value omitted)", len(rows))
	}
	wantDividers := []bool{false, true, false, false}
	for i, row := range rows {
		if row.DividerAfter != wantDividers[i] {
			t.Errorf("row %d (%s) divider = %v, want %v", i, row.Label, row.DividerAfter, wantDividers[i])
		}
	}

	// Two or fewer rows: no dividers at all.
	short := TooltipRows([]Pair{{Label: "A", Value: "1"}, {Label: "B", Value: "2"}})
	for _, row := range short {
		if row.DividerAfter {
			t.Fatal("short tooltip must have no dividers")
		}
	}
}

// TestClusterSummary: groups by country, literal observation id for a
// group of one, a count otherwise, sorted for stable rendering.
func TestClusterSummary(t *testing.T) {
	markers := []Marker{
		{Country: "France", ObservationID: "OB-1"},
		{Country: "Ghana", ObservationID: "OB-2"},
		{Country: "France", ObservationID: "OB-3"},
		{Country: "", ObservationID: "OB-4"},
	}
	rows := ClusterSummary(markers)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 groups", len(rows))
	}
	if rows[0].Label != "France" || rows[0].Value != "2 observations" {
		t.Errorf("France row = %+v", rows[0])
	}
	if rows[1].Label != "Ghana" || rows[1].Value != "OB-2" {
		t.Errorf("Ghana row = %+v", rows[1])
	}
	if rows[2].Label != "Unknown" || rows[2].Value != "OB-4" {
		t.Errorf("Unknown row = %+v", rows[2])
	}
}

func TestRegionTooltipUsesChoroplethColumns(t *testing.T) {
	set, err := boundaries.Decode("test://one", []byte(oneRegion))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var matcher regionmatch.Matcher
	matcher.SetBoundaries(set)
	records := []fieldextract.Record{{RowIndex: 0, AdminCode: "840"}}
	matcher.SetRecords(records)

	model := Build(Input{
		Records:          records,
		Rows:             [][]any{{"840", "Northeast region", 12.5}},
		Keys:             []string{"k0"},
		ChoroTooltipCols: []ColumnRef{{Label: "Region", Index: 1}, {Label: "Score", Index: 2}},
		Matcher:          &matcher,
	})
	var us *BoundaryStyle
	for i := range model.Boundaries {
		if model.Boundaries[i].RegionCode == "840" {
			us = &model.Boundaries[i]
		}
	}
	if us == nil || len(us.Tooltip) != 2 {
		t.Fatalf("840 tooltip = %+v, want 2 rows", us)
	}
	if us.Tooltip[1].Value != "12.5" {
		t.Errorf("score value = %q, want 12.5", us.Tooltip[1].Value)
	}
}
