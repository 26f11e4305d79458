// Package render translates normalized records, active regions and the
// selection view into the primitives the map surface draws: markers with
// cluster settings, a styled boundary layer and assembled tooltips.  The
// whole model is rebuilt from scratch on every update; no incremental
// diffing, which keeps ownership trivial.
package render

import (
	"sort"
	"strconv"

	"github.com/lproko/powerbi-leaflet-sub000/pkg/fieldextract"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/regionmatch"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/selection"
)

// Marker icon and cluster constants.  One flat style for every marker:
// no per-datum variance is part of the contract, so nothing is
// configurable here.
const (
	IconColor     = "#2e7dd1"
	IconColorDim  = "#9dbfe3"
	DimmedOpacity = 0.35

	ClusterRadius  = 48
	ClusterMaxZoom = 18
	SpiderfyOnMax  = true
)

// TooltipRow is one label/value line.  DividerAfter asks the surface to
// draw a separator under this row.
type TooltipRow struct {
	Label        string `json:"label"`
	Value        string `json:"value"`
	DividerAfter bool   `json:"dividerAfter,omitempty"`
}

// Marker is one renderable point, carrying everything the surface and
// the click handlers need.
type Marker struct {
	RowIndex      int          `json:"rowIndex"`
	Lat           float64      `json:"lat"`
	Lng           float64      `json:"lng"`
	Key           string       `json:"key"`
	Country       string       `json:"country"`
	ObservationID string       `json:"observationId,omitempty"`
	Tooltip       []TooltipRow `json:"tooltip"`
	Dimmed        bool         `json:"dimmed"`
}

// BoundaryStyle is the per-feature verdict for the choropleth layer.
// Highlighted features are interactive; neutral base-map features never
// are.
type BoundaryStyle struct {
	RegionCode  string       `json:"regionCode"`
	Name        string       `json:"name"`
	Highlighted bool         `json:"highlighted"`
	Interactive bool         `json:"interactive"`
	Tooltip     []TooltipRow `json:"tooltip,omitempty"`
}

// ClusterSettings is forwarded verbatim to the clustering layer.
type ClusterSettings struct {
	Radius        int  `json:"radius"`
	MaxZoom       int  `json:"maxZoom"`
	SpiderfyOnMax bool `json:"spiderfyOnMax"`
}

// Model is the complete renderable state for one update cycle.
type Model struct {
	Markers    []Marker        `json:"markers"`
	Boundaries []BoundaryStyle `json:"boundaries"`
	Cluster    ClusterSettings `json:"cluster"`
}

// ColumnRef names one tooltip-tagged column and where it sits in the
// row.
type ColumnRef struct {
	Label string
	Index int
}

// Input is everything Build consumes.  Keys carries the selection key
// for each row, aligned with Records by index.
type Input struct {
	Records          []fieldextract.Record
	Rows             [][]any
	Keys             []string
	TooltipCols      []ColumnRef
	ChoroTooltipCols []ColumnRef
	Matcher          *regionmatch.Matcher
	View             selection.View
}

// Build assembles the render model.  One marker per usable record with
// valid coordinates; boundary styling is two-valued off the matcher's
// active set; marker dimming follows the selection view.
func Build(in Input) Model {
	model := Model{
		Cluster: ClusterSettings{Radius: ClusterRadius, MaxZoom: ClusterMaxZoom, SpiderfyOnMax: SpiderfyOnMax},
	}

	for i, rec := range in.Records {
		if !rec.HasCoords() {
			continue
		}
		key := ""
		if i < len(in.Keys) {
			key = in.Keys[i]
		}
		m := Marker{
			RowIndex:      rec.RowIndex,
			Lat:           *rec.Latitude,
			Lng:           *rec.Longitude,
			Key:           key,
			Country:       rec.Country,
			ObservationID: rec.ObservationID,
			Dimmed:        in.View.Dimmed(key),
		}
		if rec.RowIndex < len(in.Rows) {
			m.Tooltip = TooltipRows(pairsFromColumns(in.Rows[rec.RowIndex], in.TooltipCols))
		}
		model.Markers = append(model.Markers, m)
	}

	if in.Matcher != nil {
		if set := in.Matcher.Boundaries(); set != nil {
			for _, f := range set.Features {
				style := BoundaryStyle{
					RegionCode:  f.RegionCode,
					Name:        f.Name,
					Highlighted: in.Matcher.Highlighted(f.RegionCode),
				}
				style.Interactive = style.Highlighted
				if style.Highlighted {
					style.Tooltip = regionTooltip(in, f.RegionCode)
				}
				model.Boundaries = append(model.Boundaries, style)
			}
		}
	}
	return model
}

// regionTooltip builds the highlighted feature's tooltip from the first
// record matching the region, using the choropleth-tagged columns.
func regionTooltip(in Input, regionCode string) []TooltipRow {
	want := regionmatch.NormalizeCode(regionCode)
	for _, rec := range in.Records {
		if rec.AdminCode == "" || regionmatch.NormalizeCode(rec.AdminCode) != want {
			continue
		}
		if rec.RowIndex < len(in.Rows) {
			if rows := TooltipRows(pairsFromColumns(in.Rows[rec.RowIndex], in.ChoroTooltipCols)); len(rows) > 0 {
				return rows
			}
		}
	}
	return nil
}

// Pair is an ordered tooltip candidate before empty-value filtering.
type Pair struct {
	Label string
	Value string
}

// pairsFromColumns pulls the tagged cells for one row, rendering each as
// text.  Absent cells simply produce empty values and are filtered in
// TooltipRows.
func pairsFromColumns(row []any, cols []ColumnRef) []Pair {
	out := make([]Pair, 0, len(cols))
	for _, c := range cols {
		if c.Index < 0 || c.Index >= len(row) {
			continue
		}
		out = append(out, Pair{Label: c.Label, Value: CellText(row[c.Index])})
	}
	return out
}

// TooltipRows filters and decorates the ordered pairs: empty values are
// omitted entirely (never rendered as blank lines), and when more than
// two rows survive, a divider follows every second row except the last.
func TooltipRows(pairs []Pair) []TooltipRow {
	rows := make([]TooltipRow, 0, len(pairs))
	for _, p := range pairs {
		if p.Value == "" {
			continue
		}
		rows = append(rows, TooltipRow{Label: p.Label, Value: p.Value})
	}
	if len(rows) > 2 {
		for i := 1; i < len(rows)-1; i += 2 {
			rows[i].DividerAfter = true
		}
	}
	return rows
}

// ClusterSummary synthesizes the tooltip shown when a cluster cannot
// zoom any further.  Constituents are grouped by country; a group of one
// shows its literal observation id, larger groups show a count.
func ClusterSummary(markers []Marker) []TooltipRow {
	type group struct {
		count int
		obsID string
	}
	groups := map[string]*group{}
	for _, m := range markers {
		country := m.Country
		if country == "" {
			country = "Unknown"
		}
		g := groups[country]
		if g == nil {
			g = &group{}
			groups[country] = g
		}
		g.count++
		g.obsID = m.ObservationID
	}

	countries := make([]string, 0, len(groups))
	for c := range groups {
		countries = append(countries, c)
	}
	sort.Strings(countries)

	pairs := make([]Pair, 0, len(countries))
	for _, c := range countries {
		g := groups[c]
		value := g.obsID
		if g.count != 1 || value == "" {
			value = countText(g.count)
		}
		pairs = append(pairs, Pair{Label: c, Value: value})
	}
	return TooltipRows(pairs)
}

func countText(n int) string {
	if n == 1 {
		return "1 observation"
	}
	return strconv.Itoa(n) + " observations"
}

// CellText renders a raw cell for tooltip display, reusing the same
// coercion the extractor applies so numbers show without float noise.
func CellText(v any) string {
	return fieldextract.CellText(v)
}
