// Package regionmatch joins normalized records to boundary features.  It
// answers two questions: which regions should the choropleth highlight,
// and which region does a bare coordinate pair fall into when the data
// producer wrote "NA" instead of a code.
package regionmatch

import (
	"math"
	"strconv"
	"strings"

	"github.com/lproko/powerbi-leaflet-sub000/pkg/boundaries"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/fieldextract"
)

// NormalizeCode folds the string/number drift between data sources: a
// column typed as number delivers 250 where another source writes "250"
// or even "250.0".  Everything integral collapses to the plain digits so
// set membership is a working equality.
func NormalizeCode(code string) string {
	s := strings.TrimSpace(code)
	if s == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

// Matcher owns the active-region computation for one visual instance.
// It caches the result until the record collection or boundary set is
// replaced, which happens wholesale on every host update, so the cache
// needs no finer-grained invalidation.
type Matcher struct {
	set     *boundaries.Set
	records []fieldextract.Record

	active map[string]struct{} // nil until computed for the current inputs
}

// SetBoundaries swaps in a freshly decoded boundary set.  Passing nil
// clears it, e.g. after a failed fetch.
func (m *Matcher) SetBoundaries(set *boundaries.Set) {
	m.set = set
	m.active = nil
}

// SetRecords replaces the record collection for the new update cycle and
// invalidates the memoized active set.
func (m *Matcher) SetRecords(records []fieldextract.Record) {
	m.records = records
	m.active = nil
}

// Boundaries exposes the current set for render-side styling.
func (m *Matcher) Boundaries() *boundaries.Set { return m.set }

// ActiveRegions returns the normalized codes present in the current
// record collection.  Records whose producer wrote "NA" but supplied
// coordinates contribute the region containing their point, so a feed
// does not have to carry both representations.
func (m *Matcher) ActiveRegions() map[string]struct{} {
	if m.active != nil {
		return m.active
	}
	active := make(map[string]struct{})
	for _, rec := range m.records {
		switch {
		case rec.AdminCode != "":
			active[NormalizeCode(rec.AdminCode)] = struct{}{}
		case rec.AdminCodeNA && rec.HasCoords():
			if code := m.RegionContaining(*rec.Latitude, *rec.Longitude); code != "" {
				active[code] = struct{}{}
			}
		}
	}
	m.active = active
	return active
}

// RegionContaining resolves a point to the normalized code of the first
// boundary feature containing it, or "" when no boundary set is loaded
// or nothing matches.
func (m *Matcher) RegionContaining(lat, lng float64) string {
	if m.set == nil {
		return ""
	}
	return NormalizeCode(m.set.ContainingRegion(lat, lng))
}

// Highlighted reports whether a boundary feature should render in the
// emphasized style.  Both sides are normalized so "840" matches 840.
func (m *Matcher) Highlighted(regionCode string) bool {
	_, ok := m.ActiveRegions()[NormalizeCode(regionCode)]
	return ok
}
