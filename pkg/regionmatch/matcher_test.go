package regionmatch

import (
	"testing"

	"github.com/lproko/powerbi-leaflet-sub000/pkg/boundaries"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/fieldextract"
)

const twoRegions = `{
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

func TestNormalizeCode(t *testing.T) {
	tests := []struct{ in, want string }{
		{"250", "250"},
		{" 250 ", "250"},
		{"250.0", "250"},
		{"0840", "840"}, // numeric columns drop the leading zero anyway
		{"GHA", "GHA"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := NormalizeCode(tc.in); got != tc.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestActiveRegionsTypeDrift is the "250" vs 250 property: codes that
// differ only in numeric representation land in the same set entry.
func TestActiveRegionsTypeDrift(t *testing.T) {
	var m Matcher
	m.SetRecords([]fieldextract.Record{
		{AdminCode: "250"},
		{AdminCode: "250.0"},
		{AdminCode: "840"},
	})
	active := m.ActiveRegions()
	if len(active) != 2 {
		t.Fatalf("active = %v, want 2 entries", active)
	}
	if !m.Highlighted("250") || !m.Highlighted("840") {
		t.Fatal("expected 250 and 840 to be highlighted")
	}
	if m.Highlighted("276") {
		t.Fatal("276 should not be highlighted")
	}
}

// TestActiveRegionsNAFallback: a record with coordinates and an explicit
// "NA" code contributes the region containing its point.
func TestActiveRegionsNAFallback(t *testing.T) {
	set, err := boundaries.Decode("test://two", []byte(twoRegions))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var m Matcher
	m.SetBoundaries(set)
	m.SetRecords([]fieldextract.Record{
		{Latitude: f(40.7128), Longitude: f(-74.006), AdminCodeNA: true},
	})
	if !m.Highlighted("840") {
		t.Fatalf("active = %v, want 840 via containment fallback", m.ActiveRegions())
	}

	// A record merely missing its code (no explicit NA) must not
	// trigger the fallback.
	m.SetRecords([]fieldextract.Record{
		{Latitude: f(40.7128), Longitude: f(-74.006)},
	})
	if len(m.ActiveRegions()) != 0 {
		t.Fatalf("active = %v, want empty without explicit NA", m.ActiveRegions())
	}
}

// TestActiveRegionsMemoized checks the cache is reused within one cycle
// and dropped when the records are replaced.
func TestActiveRegionsMemoized(t *testing.T) {
	var m Matcher
	m.SetRecords([]fieldextract.Record{{AdminCode: "840"}})
	first := m.ActiveRegions()
	// Mutating the returned map proves the next call reuses it.
	first["sentinel"] = struct{}{}
	if _, ok := m.ActiveRegions()["sentinel"]; !ok {
		t.Fatal("ActiveRegions recomputed within one cycle")
	}
	m.SetRecords([]fieldextract.Record{{AdminCode: "840"}})
	if _, ok := m.ActiveRegions()["sentinel"]; ok {
		t.Fatal("cache survived SetRecords")
	}
}
