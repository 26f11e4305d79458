// Package fieldextract turns loosely typed tabular rows into normalized
// observation records.  Data producers feed this visual from wildly
// different pipelines: some publish separate latitude/longitude/admin
// columns, others cram everything into a single "location" cell as JSON
// or a delimited string.  The extractor accepts all of them through one
// ordered list of strategies so the rest of the system only ever sees a
// Record.
package fieldextract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Role identifies the semantic meaning of a column.  Roles come from the
// host's column metadata; this package never invents them.
type Role int

const (
	RoleLatitude Role = iota
	RoleLongitude
	RoleAdminCode
	RoleCombinedLocation
	RoleTooltip
	RoleChoroplethTooltip
	RoleReferenceID
)

// RoleMap points each role at the column positions carrying it.  Tooltip
// roles may span several columns; the scalar roles use the first entry.
type RoleMap map[Role][]int

// Record is one row normalized into the fields the reconciliation core
// works with.  Latitude/Longitude are pointers because "absent" and
// "zero" must never be confused: an unparsable latitude stays nil so the
// marker does not silently land at (0,0).
type Record struct {
	Latitude      *float64
	Longitude     *float64
	AdminCode     string
	AdminCodeNA   bool // the producer wrote the literal "NA" for the code
	ObservationID string
	Country       string
	ReferenceID   string
	RowIndex      int
}

// HasCoords reports whether both coordinates are present and inside
// [-90,90] / [-180,180].
func (r Record) HasCoords() bool {
	if r.Latitude == nil || r.Longitude == nil {
		return false
	}
	return validLat(*r.Latitude) && validLng(*r.Longitude)
}

// Usable reports whether the record can contribute anything to the map.
// A row with neither valid coordinates nor an admin code produces no
// marker and no region contribution.
func (r Record) Usable() bool {
	return r.HasCoords() || r.AdminCode != ""
}

// Extract normalizes one raw row.  Explicit typed columns win; any role
// still empty afterwards is filled from the combined location field when
// one is mapped.  Malformed input never causes an error: the caller gets
// the best-effort partial record, commonly admin-code-only.
func Extract(row []any, roles RoleMap) Record {
	var rec Record

	if v, ok := cellAt(row, roles, RoleLatitude); ok {
		if f, ok := cellFloat(v); ok && validLat(f) {
			rec.Latitude = &f
		}
	}
	if v, ok := cellAt(row, roles, RoleLongitude); ok {
		if f, ok := cellFloat(v); ok && validLng(f) {
			rec.Longitude = &f
		}
	}
	if v, ok := cellAt(row, roles, RoleAdminCode); ok {
		code, na := cellCode(v)
		rec.AdminCode = code
		rec.AdminCodeNA = na
	}
	if v, ok := cellAt(row, roles, RoleReferenceID); ok {
		if s, ok := cellString(v); ok {
			rec.ReferenceID = s
		}
	}

	// The combined field is always consulted, not only when location
	// fields are missing: it may carry the observation id and country
	// that no typed column provides, and mergeCombined never overwrites
	// a field an explicit column already filled.
	if v, ok := cellAt(row, roles, RoleCombinedLocation); ok {
		if s, ok := cellString(v); ok {
			mergeCombined(&rec, s)
		}
	}
	return rec
}

// mergeCombined fills only the fields the typed columns left empty so an
// explicit column always wins over the packed form.
func mergeCombined(rec *Record, raw string) {
	parsed := ParseCombined(raw)
	if rec.Latitude == nil {
		rec.Latitude = parsed.Latitude
	}
	if rec.Longitude == nil {
		rec.Longitude = parsed.Longitude
	}
	if rec.AdminCode == "" && !rec.AdminCodeNA {
		rec.AdminCode = parsed.AdminCode
		rec.AdminCodeNA = parsed.AdminCodeNA
	}
	if rec.ObservationID == "" {
		rec.ObservationID = parsed.ObservationID
	}
	if rec.Country == "" {
		rec.Country = parsed.Country
	}
	if rec.ReferenceID == "" {
		rec.ReferenceID = parsed.ReferenceID
	}
}

// ParseCombined decodes one packed location cell.  Strategies run in a
// fixed order and the first one that yields anything wins:
//
//  1. JSON object with loosely named keys
//  2. comma-delimited positional forms (6, 4, then 3 fields)
//  3. 4+-field form where slots 0-2 are empty (",,,admin,obs,country")
//  4. labeled "key: value" tokens
//  5. first two in-range numeric substrings when no delimiter exists
//  6. the whole string as a bare admin code
//
// Keeping the list flat and ordered makes every heuristic independently
// testable, which matters because real feeds exercise all of them.
func ParseCombined(raw string) Record {
	s := strings.TrimSpace(raw)
	if s == "" || isAbsent(s) {
		return Record{AdminCodeNA: strings.EqualFold(s, "NA")}
	}

	if rec, ok := parseJSONLocation(s); ok {
		return rec
	}
	if rec, ok := parsePositional(s); ok {
		return rec
	}
	if rec, ok := parseLabeled(s); ok {
		return rec
	}
	if rec, ok := parseBareNumbers(s); ok {
		return rec
	}
	// Nothing structured matched: treat the raw string as an admin code
	// so region-only feeds still light up the choropleth.
	return Record{AdminCode: s}
}

// jsonLocation mirrors the key spellings observed in the wild.  Values
// arrive as strings or numbers depending on the producer, so everything
// is json.RawMessage and coerced afterwards.
type jsonLocation map[string]json.RawMessage

func parseJSONLocation(s string) (Record, bool) {
	if !strings.HasPrefix(s, "{") {
		return Record{}, false
	}
	var obj jsonLocation
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return Record{}, false
	}
	var rec Record
	if f, ok := jsonFloat(obj, "lat", "latitude", "y"); ok && validLat(f) {
		rec.Latitude = &f
	}
	if f, ok := jsonFloat(obj, "lng", "long", "longitude", "x"); ok && validLng(f) {
		rec.Longitude = &f
	}
	if v, ok := jsonString(obj, "admin", "adminCode", "gaul_code", "code"); ok {
		rec.AdminCode, rec.AdminCodeNA = codeString(v)
	}
	if v, ok := jsonString(obj, "obsId", "obs_id", "obs"); ok && !isAbsent(v) {
		rec.ObservationID = v
	}
	if v, ok := jsonString(obj, "country", "countryName"); ok && !isAbsent(v) {
		rec.Country = v
	}
	// A string that unmarshals as an object is claimed by this strategy
	// even when no recognized field came out of it.  Letting it fall
	// through would hand raw JSON text to the bare-admin-code fallback.
	return rec, true
}

// jsonValue resolves the first candidate key present in the object.
// Key names match case-insensitively because producers disagree on
// casing.
func jsonValue(obj jsonLocation, keys ...string) (any, bool) {
	for _, want := range keys {
		for k, raw := range obj {
			if !strings.EqualFold(k, want) {
				continue
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

// jsonFloat coerces a value that may arrive as a JSON number or a
// numeric string.
func jsonFloat(obj jsonLocation, keys ...string) (float64, bool) {
	v, ok := jsonValue(obj, keys...)
	if !ok {
		return 0, false
	}
	return cellFloat(v)
}

// jsonString renders a value as raw text, keeping the "NA" sentinel
// intact so codeString can distinguish explicit absence downstream.
func jsonString(obj jsonLocation, keys ...string) (string, bool) {
	v, ok := jsonValue(obj, keys...)
	if !ok {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case float64:
		return FormatNumber(x), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// parsePositional handles the comma-delimited layouts.  The 6 and 4
// field forms start with a reference id; the 3 field form is bare
// lat,lng,admin.  A 4+-field row whose first three slots are empty is
// the admin-only layout some region feeds emit.
func parsePositional(s string) (Record, bool) {
	// Colons mean labeled tokens; let that strategy claim the string
	// even when it also contains commas.
	if !strings.Contains(s, ",") || strings.Contains(s, ":") {
		return Record{}, false
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if len(parts) >= 4 && parts[0] == "" && parts[1] == "" && parts[2] == "" {
		var rec Record
		rec.AdminCode, rec.AdminCodeNA = codeString(parts[3])
		if len(parts) > 4 && !isAbsent(parts[4]) {
			rec.ObservationID = parts[4]
		}
		if len(parts) > 5 && !isAbsent(parts[5]) {
			rec.Country = parts[5]
		}
		return rec, rec.AdminCode != "" || rec.AdminCodeNA
	}

	switch len(parts) {
	case 6:
		rec, ok := positionalCoords(parts[1], parts[2], parts[3])
		if !ok {
			return Record{}, false
		}
		if !isAbsent(parts[0]) {
			rec.ReferenceID = parts[0]
		}
		if !isAbsent(parts[4]) {
			rec.ObservationID = parts[4]
		}
		if !isAbsent(parts[5]) {
			rec.Country = parts[5]
		}
		return rec, true
	case 4:
		rec, ok := positionalCoords(parts[1], parts[2], parts[3])
		if !ok {
			return Record{}, false
		}
		if !isAbsent(parts[0]) {
			rec.ReferenceID = parts[0]
		}
		return rec, true
	case 3:
		return positionalCoords(parts[0], parts[1], parts[2])
	}
	return Record{}, false
}

// positionalCoords assembles the shared lat,lng,admin tail of the
// positional layouts.  Either a parsable coordinate pair or a non-empty
// admin code is enough; a row offering neither is rejected so the next
// strategy gets its turn.
func positionalCoords(latS, lngS, adminS string) (Record, bool) {
	var rec Record
	if f, ok := parseCell(latS); ok && validLat(f) {
		lat := f
		if g, ok := parseCell(lngS); ok && validLng(g) {
			lng := g
			rec.Latitude = &lat
			rec.Longitude = &lng
		}
	}
	rec.AdminCode, rec.AdminCodeNA = codeString(adminS)
	if rec.Latitude == nil && rec.AdminCode == "" && !rec.AdminCodeNA {
		return Record{}, false
	}
	return rec, true
}

// parseLabeled reads "lat: 40.7; admin: 250" style tokens.  Separators
// are comma, semicolon or pipe; each token must contain a colon.
func parseLabeled(s string) (Record, bool) {
	if !strings.Contains(s, ":") {
		return Record{}, false
	}
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	var rec Record
	matched := false
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		switch k {
		case "lat", "latitude", "y":
			if f, ok := parseCell(v); ok && validLat(f) {
				rec.Latitude = &f
				matched = true
			}
		case "lng", "long", "longitude", "x":
			if f, ok := parseCell(v); ok && validLng(f) {
				rec.Longitude = &f
				matched = true
			}
		case "admin", "admincode", "gaul_code", "code":
			rec.AdminCode, rec.AdminCodeNA = codeString(v)
			matched = matched || rec.AdminCode != "" || rec.AdminCodeNA
		case "obs", "obsid", "obs_id":
			if !isAbsent(v) {
				rec.ObservationID = v
				matched = true
			}
		case "country", "countryname":
			if !isAbsent(v) {
				rec.Country = v
				matched = true
			}
		case "ref", "refid", "ref_id":
			if !isAbsent(v) {
				rec.ReferenceID = v
				matched = true
			}
		}
	}
	return rec, matched
}

// parseBareNumbers is the last-resort coordinate sniff: when the cell
// has no delimiters at all, the first two numeric substrings become
// lat/lng, but only when both are in valid range.
func parseBareNumbers(s string) (Record, bool) {
	if strings.ContainsAny(s, ",;|:") {
		return Record{}, false
	}
	nums := numericSubstrings(s, 2)
	if len(nums) < 2 {
		return Record{}, false
	}
	lat, err1 := strconv.ParseFloat(nums[0], 64)
	lng, err2 := strconv.ParseFloat(nums[1], 64)
	if err1 != nil || err2 != nil || !validLat(lat) || !validLng(lng) {
		return Record{}, false
	}
	return Record{Latitude: &lat, Longitude: &lng}, true
}

// numericSubstrings scans for up to max decimal substrings, keeping
// signs and decimal points attached to their digits.
func numericSubstrings(s string, max int) []string {
	var out []string
	i := 0
	for i < len(s) && len(out) < max {
		c := s[i]
		if c >= '0' && c <= '9' || c == '-' && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9' {
			j := i + 1
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			tok := s[i:j]
			if tok != "-" && tok != "." {
				out = append(out, tok)
			}
			i = j
			continue
		}
		i++
	}
	return out
}

// --- cell coercion helpers --------------------------------------------------

// cellAt fetches the first mapped column for a role, reporting false
// when the role is unmapped or points outside the row.
func cellAt(row []any, roles RoleMap, role Role) (any, bool) {
	cols, ok := roles[role]
	if !ok || len(cols) == 0 {
		return nil, false
	}
	idx := cols[0]
	if idx < 0 || idx >= len(row) {
		return nil, false
	}
	return row[idx], true
}

// CellsAt returns every mapped cell for a role in column order.  Used by
// the tooltip assembly, which may span several columns.
func CellsAt(row []any, roles RoleMap, role Role) []any {
	cols := roles[role]
	out := make([]any, 0, len(cols))
	for _, idx := range cols {
		if idx >= 0 && idx < len(row) {
			out = append(out, row[idx])
		}
	}
	return out
}

// cellFloat coerces a raw cell into a float.  NaN and the absent
// sentinels report false so the field is omitted, never zeroed.
func cellFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(x) {
			return 0, false
		}
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		return parseCell(x)
	}
	return 0, false
}

// parseCell parses a numeric string, rejecting NaN and the "NA"
// sentinel.
func parseCell(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || isAbsent(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// cellString renders a raw cell as trimmed text; absent sentinels and
// nil report false.
func cellString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		if s == "" || isAbsent(s) {
			return "", false
		}
		return s, true
	case float64:
		return FormatNumber(x), true
	case float32:
		return FormatNumber(float64(x)), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	case json.Number:
		return x.String(), true
	}
	return "", false
}

// cellCode extracts an admin code from a raw cell, distinguishing the
// explicit "NA" marker from a merely missing value.
func cellCode(v any) (string, bool) {
	s, ok := cellString(v)
	if !ok {
		if raw, isStr := v.(string); isStr && strings.EqualFold(strings.TrimSpace(raw), "NA") {
			return "", true
		}
		return "", false
	}
	return codeString(s)
}

// codeString normalizes a textual admin code.  "NA" means the producer
// explicitly declared the code absent, which downstream uses to trigger
// the point-in-polygon fallback.
func codeString(s string) (code string, na bool) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "NA") {
		return "", true
	}
	if s == "" || isAbsent(s) {
		return "", false
	}
	return s, false
}

// CellText renders a raw cell for display purposes, or "" when the cell
// holds nothing a user should see.
func CellText(v any) string {
	s, _ := cellString(v)
	return s
}

// isAbsent reports the sentinel spellings meaning "no value here".
func isAbsent(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "null", "undefined":
		return true
	}
	return false
}

// FormatNumber renders a float the way admin codes are written: whole
// numbers lose the ".0" tail so "250" and 250 compare equal downstream.
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func validLat(f float64) bool { return f >= -90 && f <= 90 }
func validLng(f float64) bool { return f >= -180 && f <= 180 }
