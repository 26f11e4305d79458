package visual

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lproko/powerbi-leaflet-sub000/pkg/selection"
)

const testBoundaries = `{
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

// echoManager confirms whatever the visual asks for, like a host with
// plain single-select semantics.
type echoManager struct{}

func (echoManager) Select(_ context.Context, ids []selection.Identifier) ([]selection.Identifier, error) {
	return ids, nil
}
func (echoManager) Clear(context.Context) error { return nil }

func testHost() Host {
	return Host{
		Selection:        echoManager{},
		Key:              func(id selection.Identifier) string { return fmt.Sprintf("%v", id) },
		IdentifierForRow: func(i int) selection.Identifier { return fmt.Sprintf("row-%d", i) },
	}
}

func coordView() DataView {
	return DataView{
		Columns: []Column{
			{Name: "Latitude", Roles: map[string]bool{RoleLatitude: true}},
			{Name: "Longitude", Roles: map[string]bool{RoleLongitude: true}},
			{Name: "Admin", Roles: map[string]bool{RoleAdminCode: true}},
			{Name: "Site", Roles: map[string]bool{RoleTooltip: true}},
		},
		Rows: [][]any{
			{40.7128, -74.006, "840", "New York office"},
			{48.85, 2.35, "250", "Paris office"},
		},
	}
}

func waitSnapshot(t *testing.T, v *Visual, desc string, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s := v.Snapshot()
		if ok(s) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last snapshot state=%s markers=%d", desc, v.Snapshot().State, len(v.Snapshot().Model.Markers))
	return Snapshot{}
}

func TestUpdateBuildsMarkersAndHighlights(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testBoundaries))
	}))
	defer srv.Close()

	v := New(testHost())
	defer v.Destroy()

	v.Update(coordView(), Settings{BaseMapURL: srv.URL})

	s := waitSnapshot(t, v, "markers and boundaries", func(s Snapshot) bool {
		return len(s.Model.Markers) == 2 && len(s.Model.Boundaries) == 2
	})
	for _, b := range s.Model.Boundaries {
		if !b.Highlighted {
			t.Errorf("boundary %s not highlighted; both regions have data", b.RegionCode)
		}
	}
	if s.Model.Markers[0].Tooltip[0].Value != "New York office" {
		t.Errorf("tooltip = %+v", s.Model.Markers[0].Tooltip)
	}
	waitSnapshot(t, v, "map state", func(s Snapshot) bool { return s.State == "map" })
}

func TestSetupRequiredWithoutBaseMap(t *testing.T) {
	v := New(testHost())
	defer v.Destroy()

	v.Update(coordView(), Settings{})
	waitSnapshot(t, v, "setup prompt", func(s Snapshot) bool { return s.State == "setupRequired" })
}

func TestFetchFailureSurfacesActionableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	v := New(testHost())
	defer v.Destroy()

	v.Update(coordView(), Settings{BaseMapURL: srv.URL + "/missing.geojson"})

	s := waitSnapshot(t, v, "load error", func(s Snapshot) bool { return s.LoadError != nil })
	if !strings.Contains(s.LoadError.URL, srv.URL) {
		t.Errorf("error URL = %q, want the requested URL", s.LoadError.URL)
	}
	if !strings.Contains(s.LoadError.Excerpt, "404") {
		t.Errorf("excerpt = %q, want it to mention 404", s.LoadError.Excerpt)
	}
	if len(s.LoadError.Hints) == 0 {
		t.Error("load error carries no remediation hints")
	}
	if len(s.Model.Boundaries) != 0 {
		t.Error("boundary layer must be cleared after a failed fetch")
	}
	// Markers built from the tabular data survive the boundary failure.
	if len(s.Model.Markers) != 2 {
		t.Errorf("markers = %d, want 2", len(s.Model.Markers))
	}
}

func TestOverlayFetchFailureIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/base.geojson") {
			w.Write([]byte(testBoundaries))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	v := New(testHost())
	defer v.Destroy()

	v.Update(coordView(), Settings{
		BaseMapURL: srv.URL + "/base.geojson",
		BordersURL: srv.URL + "/borders.geojson",
	})

	s := waitSnapshot(t, v, "overlay error", func(s Snapshot) bool { return s.OverlayError != nil })
	if !strings.Contains(s.OverlayError.URL, "/borders.geojson") {
		t.Errorf("overlay error URL = %q, want the borders URL", s.OverlayError.URL)
	}
	if !strings.Contains(s.OverlayError.Excerpt, "404") {
		t.Errorf("excerpt = %q, want it to mention 404", s.OverlayError.Excerpt)
	}
	if s.LoadError != nil {
		t.Errorf("base-map error = %+v, want nil when only the overlay failed", s.LoadError)
	}
	// The overlay is decorative; its failure leaves the base map and
	// the panel untouched.
	waitSnapshot(t, v, "map state despite overlay failure", func(s Snapshot) bool {
		return s.State == "map" && len(s.Model.Boundaries) == 2
	})

	// A fresh borders URL clears the recorded failure even when it
	// points at an empty setting.
	v.Update(coordView(), Settings{BaseMapURL: srv.URL + "/base.geojson"})
	waitSnapshot(t, v, "overlay error cleared", func(s Snapshot) bool { return s.OverlayError == nil })
}

func TestMarkerClickTogglesSelection(t *testing.T) {
	v := New(testHost())
	defer v.Destroy()

	v.Update(coordView(), Settings{BaseMapURL: ""})
	waitSnapshot(t, v, "initial markers", func(s Snapshot) bool { return len(s.Model.Markers) == 2 })

	v.MarkerClicked(0)
	s := waitSnapshot(t, v, "selection applied", func(s Snapshot) bool {
		return len(s.Model.Markers) == 2 && s.Model.Markers[1].Dimmed
	})
	if s.Model.Markers[0].Dimmed {
		t.Fatal("clicked marker must stay emphasized")
	}

	v.MarkerClicked(0)
	waitSnapshot(t, v, "toggle-off", func(s Snapshot) bool {
		return !s.Model.Markers[0].Dimmed && !s.Model.Markers[1].Dimmed
	})
}

func TestEmptyAreaClickRestoresAll(t *testing.T) {
	v := New(testHost())
	defer v.Destroy()

	v.Update(coordView(), Settings{})
	waitSnapshot(t, v, "markers", func(s Snapshot) bool { return len(s.Model.Markers) == 2 })

	v.MarkerClicked(1)
	waitSnapshot(t, v, "selection", func(s Snapshot) bool { return s.Model.Markers[0].Dimmed })

	v.EmptyAreaClicked()
	waitSnapshot(t, v, "all visible", func(s Snapshot) bool {
		return !s.Model.Markers[0].Dimmed && !s.Model.Markers[1].Dimmed
	})
}

func TestClusterClickAtMaxZoomSummarizes(t *testing.T) {
	v := New(testHost())
	defer v.Destroy()

	dv := DataView{
		Columns: []Column{
			{Name: "Location", Roles: map[string]bool{RoleCombinedLocation: true}},
		},
		Rows: [][]any{
			{`{"lat": 40.70, "lng": -74.00, "obsId": "OB-1", "country": "United States"}`},
			{`{"lat": 40.71, "lng": -74.01, "obsId": "OB-2", "country": "United States"}`},
			{`{"lat": 40.72, "lng": -74.02, "obsId": "OB-3", "country": "Canada"}`},
		},
	}
	v.Update(dv, Settings{})
	waitSnapshot(t, v, "three markers", func(s Snapshot) bool { return len(s.Model.Markers) == 3 })

	// Below max zoom the default behaviour stands.
	a := v.ClusterClicked([]int{0, 1, 2}, false)
	if !a.ZoomToBounds {
		t.Fatal("expected zoom-to-bounds below max zoom")
	}

	// At max zoom the click short-circuits into a summary grouped by
	// country: a count for the US pair, the literal id for Canada.
	a = v.ClusterClicked([]int{0, 1, 2}, true)
	if a.ZoomToBounds {
		t.Fatal("zoom must be short-circuited at max zoom")
	}
	if len(a.Tooltip) != 2 {
		t.Fatalf("summary rows = %d, want 2", len(a.Tooltip))
	}
	if a.Tooltip[0].Label != "Canada" || a.Tooltip[0].Value != "OB-3" {
		t.Errorf("Canada row = %+v", a.Tooltip[0])
	}
	if a.Tooltip[1].Label != "United States" || a.Tooltip[1].Value != "2 observations" {
		t.Errorf("US row = %+v", a.Tooltip[1])
	}
}

func TestEnumerateSettings(t *testing.T) {
	v := New(testHost())
	defer v.Destroy()

	want := Settings{BaseMapURL: "https://example.org/countries.geojson", BordersURL: "https://example.org/disputed.geojson"}
	v.Update(DataView{}, want)
	waitSnapshot(t, v, "settings stored", func(s Snapshot) bool { return s.BaseMapURL == want.BaseMapURL })
	if got := v.EnumerateSettings(); got != want {
		t.Fatalf("EnumerateSettings = %+v, want %+v", got, want)
	}
}

// TestSelectionSurvivesRecreation: destroy the instance, build a new one
// over the same Memory, and the previous click-selection is re-applied
// before any update.
func TestSelectionSurvivesRecreation(t *testing.T) {
	mem := selection.NewMemory()
	host := testHost()
	host.Memory = mem

	first := New(host)
	first.Update(coordView(), Settings{})
	waitSnapshot(t, first, "markers", func(s Snapshot) bool { return len(s.Model.Markers) == 2 })
	first.MarkerClicked(0)
	waitSnapshot(t, first, "selection", func(s Snapshot) bool { return s.Model.Markers[1].Dimmed })
	first.Destroy()

	second := New(host)
	defer second.Destroy()
	second.Update(coordView(), Settings{})
	waitSnapshot(t, second, "restored selection", func(s Snapshot) bool {
		return len(s.Model.Markers) == 2 && s.Model.Markers[1].Dimmed && !s.Model.Markers[0].Dimmed
	})
}
