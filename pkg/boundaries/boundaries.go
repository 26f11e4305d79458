// Package boundaries loads and queries the GeoJSON boundary datasets the
// choropleth layer is drawn from.  A Set is immutable once decoded; when
// the configured source URL changes the whole Set is replaced atomically
// so queries never observe a half-loaded dataset.
package boundaries

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/lproko/powerbi-leaflet-sub000/pkg/fieldextract"
)

// regionCodeKeys lists the property spellings different boundary
// publishers use for the administrative code, in lookup order.
var regionCodeKeys = []string{"gaul_code", "adm0_code", "regioncode", "code", "iso_a3", "id"}

// regionNameKeys does the same for the human-readable region name.
var regionNameKeys = []string{"name", "admin", "name_long", "country"}

// Feature is one boundary polygon set joined to tabular rows through its
// region code.  Only outer rings are kept: the matcher deliberately
// ignores holes, which is good enough for country-level joins.
type Feature struct {
	RegionCode string
	Name       string
	Rings      []orb.Ring
	Bound      orb.Bound
}

// Set is a decoded boundary dataset plus the URL it came from.  Raw
// keeps the original GeoJSON bytes because the map surface draws the
// shapes itself; retaining them avoids a second download.
type Set struct {
	SourceURL string
	Features  []Feature
	Raw       []byte
}

// Decode parses raw GeoJSON into a Set.  Anything that is not a
// FeatureCollection of Polygon/MultiPolygon features is reported as an
// error carrying enough detail for the setup panel to display.
func Decode(sourceURL string, data []byte) (*Set, error) {
	// Probe the outer shape first so a missing "type" or "features"
	// yields a message a map author can act on, not a decoder internal.
	var probe struct {
		Type     string          `json:"type"`
		Features json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("not valid JSON: %w", err)
	}
	if !strings.EqualFold(probe.Type, "FeatureCollection") {
		return nil, fmt.Errorf("expected a GeoJSON FeatureCollection, got type %q", probe.Type)
	}
	if len(probe.Features) == 0 {
		return nil, fmt.Errorf("FeatureCollection has no \"features\" member")
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decoding features: %w", err)
	}

	set := &Set{SourceURL: sourceURL, Raw: data}
	for _, f := range fc.Features {
		bf := Feature{
			RegionCode: propertyString(f.Properties, regionCodeKeys),
			Name:       propertyString(f.Properties, regionNameKeys),
		}
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			if len(g) > 0 {
				bf.Rings = append(bf.Rings, g[0])
			}
		case orb.MultiPolygon:
			for _, poly := range g {
				if len(poly) > 0 {
					bf.Rings = append(bf.Rings, poly[0])
				}
			}
		default:
			// Point/line features sometimes ride along in published
			// datasets; they cannot be a region so we skip them.
			continue
		}
		if len(bf.Rings) == 0 {
			continue
		}
		bf.Bound = ringsBound(bf.Rings)
		set.Features = append(set.Features, bf)
	}
	if len(set.Features) == 0 {
		return nil, fmt.Errorf("no Polygon or MultiPolygon features found")
	}
	return set, nil
}

// ContainingRegion returns the code of the first feature whose outer
// ring contains the point, or "" when nothing matches.  Ray casting
// against outer rings only: holes are not honoured, by the same
// country-level-accuracy tradeoff as the rest of this package.
func (s *Set) ContainingRegion(lat, lng float64) string {
	if s == nil {
		return ""
	}
	pt := orb.Point{lng, lat}
	for _, f := range s.Features {
		if !f.Bound.Contains(pt) {
			continue
		}
		for _, ring := range f.Rings {
			if pointInRing(pt, ring) {
				return f.RegionCode
			}
		}
	}
	return ""
}

// Codes returns every region code in the set, normalized the same way
// record codes are, for quick membership checks.
func (s *Set) Codes() map[string]struct{} {
	if s == nil {
		return nil
	}
	out := make(map[string]struct{}, len(s.Features))
	for _, f := range s.Features {
		if f.RegionCode != "" {
			out[f.RegionCode] = struct{}{}
		}
	}
	return out
}

// pointInRing is the classic even-odd ray cast.  The epsilon keeps a
// vertical edge from dividing by zero; points exactly on an edge may
// land either way, which is acceptable at this accuracy grade.
func pointInRing(pt orb.Point, ring orb.Ring) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt[0], pt[1]
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi+1e-12)+xi {
			inside = !inside
		}
	}
	return inside
}

func ringsBound(rings []orb.Ring) orb.Bound {
	b := rings[0].Bound()
	for _, r := range rings[1:] {
		b = b.Union(r.Bound())
	}
	return b
}

// propertyString walks candidate keys case-insensitively and renders the
// first present value as text.  Publishers disagree on both spelling and
// type (numeric GAUL codes vs string ISO codes), so both are accepted.
func propertyString(props geojson.Properties, keys []string) string {
	if props == nil {
		return ""
	}
	lowered := make(map[string]any, len(props))
	for k, v := range props {
		lowered[strings.ToLower(k)] = v
	}
	for _, key := range keys {
		v, ok := lowered[key]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				return s
			}
		case float64:
			return fieldextract.FormatNumber(x)
		case int:
			return fmt.Sprintf("%d", x)
		}
	}
	return ""
}
