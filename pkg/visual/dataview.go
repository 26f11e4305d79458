// Package visual ties the reconciliation components into one host-facing
// instance: it consumes data views and settings from the host, owns the
// update cycle, and exposes the renderable model to the map surface.
package visual

import (
	"github.com/lproko/powerbi-leaflet-sub000/pkg/fieldextract"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/render"
)

// Role name strings as the host's column metadata spells them.
const (
	RoleLatitude          = "latitude"
	RoleLongitude         = "longitude"
	RoleAdminCode         = "adminCode"
	RoleCombinedLocation  = "combinedLocation"
	RoleTooltip           = "tooltip"
	RoleChoroplethTooltip = "choroplethTooltip"
	RoleReferenceID       = "referenceId"
)

// Column is one data-view column: a display name plus the semantic roles
// the host tagged it with.  A column may carry several roles at once.
type Column struct {
	Name  string          `json:"name"`
	Roles map[string]bool `json:"roles"`
}

// DataView is the tabular payload the host delivers on every refresh.
// Rows hold raw cell values in column order; nothing is typed beyond
// what JSON gives us, which is exactly the situation the extractor is
// built for.
type DataView struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Settings is the host-persisted configuration surface.
type Settings struct {
	BaseMapURL string `json:"baseMapUrl"`
	BordersURL string `json:"bordersUrl"`
}

// roleMap translates the host's column metadata into the extractor's
// positional role mapping.  Scalar roles keep every tagged position so
// the extractor can use the first; tooltip roles keep them all.
func (dv DataView) roleMap() fieldextract.RoleMap {
	m := fieldextract.RoleMap{}
	add := func(role fieldextract.Role, idx int) {
		m[role] = append(m[role], idx)
	}
	for i, col := range dv.Columns {
		if col.Roles[RoleLatitude] {
			add(fieldextract.RoleLatitude, i)
		}
		if col.Roles[RoleLongitude] {
			add(fieldextract.RoleLongitude, i)
		}
		if col.Roles[RoleAdminCode] {
			add(fieldextract.RoleAdminCode, i)
		}
		if col.Roles[RoleCombinedLocation] {
			add(fieldextract.RoleCombinedLocation, i)
		}
		if col.Roles[RoleTooltip] {
			add(fieldextract.RoleTooltip, i)
		}
		if col.Roles[RoleChoroplethTooltip] {
			add(fieldextract.RoleChoroplethTooltip, i)
		}
		if col.Roles[RoleReferenceID] {
			add(fieldextract.RoleReferenceID, i)
		}
	}
	return m
}

// tooltipColumns lists the columns tagged with the given role, paired
// with their display labels, in column order.
func (dv DataView) tooltipColumns(role string) []render.ColumnRef {
	var out []render.ColumnRef
	for i, col := range dv.Columns {
		if col.Roles[role] {
			out = append(out, render.ColumnRef{Label: col.Name, Index: i})
		}
	}
	return out
}

// extractRecords runs the extractor over every row.  Unusable records
// are kept in place (index-aligned with rows) but contribute nothing
// downstream; the render adapter and matcher skip them by their own
// rules.
func (dv DataView) extractRecords() []fieldextract.Record {
	roles := dv.roleMap()
	records := make([]fieldextract.Record, len(dv.Rows))
	for i, row := range dv.Rows {
		rec := fieldextract.Extract(row, roles)
		rec.RowIndex = i
		records[i] = rec
	}
	return records
}
