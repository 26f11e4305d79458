package fieldextract

import (
	"fmt"
	"testing"
)

func f(v float64) *float64 { return &v }

// TestParseCombinedForms walks every supported packed-location encoding
// once.  Each strategy has to keep working independently because real
// feeds mix them within a single dataset.
func TestParseCombinedForms(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Record
	}{
		{
			name: "json object",
			raw:  `{"lat": 40.7, "lng": -74.0, "admin": "840", "obsId": "OB-1", "country": "United States"}`,
			want: Record{Latitude: f(40.7), Longitude: f(-74.0), AdminCode: "840", ObservationID: "OB-1", Country: "United States"},
		},
		{
			name: "json alternate keys",
			raw:  `{"latitude": 48.85, "longitude": 2.35, "gaul_code": 250}`,
			want: Record{Latitude: f(48.85), Longitude: f(2.35), AdminCode: "250"},
		},
		{
			name: "json string-encoded numbers",
			raw:  `{"lat": "40.7", "lng": "-74.0", "admin": 840}`,
			want: Record{Latitude: f(40.7), Longitude: f(-74.0), AdminCode: "840"},
		},
		{
			name: "json explicit NA admin",
			raw:  `{"lat": 40.7, "lng": -74.0, "admin": "NA"}`,
			want: Record{Latitude: f(40.7), Longitude: f(-74.0), AdminCodeNA: true},
		},
		{
			name: "six part",
			raw:  "12,40.7,-74.0,840,OB-9,United States",
			want: Record{ReferenceID: "12", Latitude: f(40.7), Longitude: f(-74.0), AdminCode: "840", ObservationID: "OB-9", Country: "United States"},
		},
		{
			name: "four part",
			raw:  "12,40.7,-74.0,840",
			want: Record{ReferenceID: "12", Latitude: f(40.7), Longitude: f(-74.0), AdminCode: "840"},
		},
		{
			name: "three part",
			raw:  "40.7,-74.0,840",
			want: Record{Latitude: f(40.7), Longitude: f(-74.0), AdminCode: "840"},
		},
		{
			name: "admin only with empty slots",
			raw:  ",,,250,OB-3,France",
			want: Record{AdminCode: "250", ObservationID: "OB-3", Country: "France"},
		},
		{
			name: "labeled tokens",
			raw:  "lat: 40.7, lng: -74.0, admin: 840",
			want: Record{Latitude: f(40.7), Longitude: f(-74.0), AdminCode: "840"},
		},
		{
			name: "bare numeric pair",
			raw:  "40.7 -74.0",
			want: Record{Latitude: f(40.7), Longitude: f(-74.0)},
		},
		{
			name: "bare admin fallback",
			raw:  "GHA",
			want: Record{AdminCode: "GHA"},
		},
		{
			name: "explicit NA admin",
			raw:  "40.7,-74.0,NA",
			want: Record{Latitude: f(40.7), Longitude: f(-74.0), AdminCodeNA: true},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseCombined(tc.raw)
			assertRecordEqual(t, got, tc.want)
		})
	}
}

// TestParseCombinedRoundTrip serializes one tuple into each encoding and
// extracts it back, which is the property the whole strategy list exists
// to uphold.
func TestParseCombinedRoundTrip(t *testing.T) {
	lat, lng := 40.7128, -74.006
	admin, obs, country, ref := "840", "OB-77", "United States", "12"

	encodings := map[string]string{
		"json":    fmt.Sprintf(`{"lat": %v, "lng": %v, "admin": %q, "obsId": %q, "country": %q}`, lat, lng, admin, obs, country),
		"6-part":  fmt.Sprintf("%s,%v,%v,%s,%s,%s", ref, lat, lng, admin, obs, country),
		"labeled": fmt.Sprintf("ref: %s; lat: %v; lng: %v; admin: %s; obs: %s; country: %s", ref, lat, lng, admin, obs, country),
	}
	for name, raw := range encodings {
		got := ParseCombined(raw)
		if got.Latitude == nil || *got.Latitude != lat {
			t.Errorf("%s: latitude = %v, want %v", name, got.Latitude, lat)
		}
		if got.Longitude == nil || *got.Longitude != lng {
			t.Errorf("%s: longitude = %v, want %v", name, got.Longitude, lng)
		}
		if got.AdminCode != admin {
			t.Errorf("%s: admin = %q, want %q", name, got.AdminCode, admin)
		}
		if got.ObservationID != obs {
			t.Errorf("%s: obs = %q, want %q", name, got.ObservationID, obs)
		}
		if got.Country != country {
			t.Errorf("%s: country = %q, want %q", name, got.Country, country)
		}
	}
}

// TestParseCombinedMalformed checks the no-panic guarantee: garbage in,
// best-effort partial record out.
func TestParseCombinedMalformed(t *testing.T) {
	tests := []struct {
		raw        string
		wantAdmin  string
		wantCoords bool
	}{
		{"", "", false},
		{"NA", "", false},
		{"null", "", false},
		{`{"lat": "not-a-number"}`, "", false},
		{`{"unrelated": [1, 2]}`, "", false},        // a JSON object never leaks into the admin fallback
		{"abc,def,ghi", "ghi", false},               // 3-part with unparsable coords keeps the admin slot
		{"999,999,840", "840", false},               // out-of-range pair must not become coordinates
		{"somewhere warm", "somewhere warm", false}, // no structure at all: bare admin fallback
		{"region-77", "region-77", false},
	}
	for _, tc := range tests {
		got := ParseCombined(tc.raw)
		if got.HasCoords() != tc.wantCoords {
			t.Errorf("ParseCombined(%q) coords = %v, want %v", tc.raw, got.HasCoords(), tc.wantCoords)
		}
		if got.AdminCode != tc.wantAdmin {
			t.Errorf("ParseCombined(%q) admin = %q, want %q", tc.raw, got.AdminCode, tc.wantAdmin)
		}
	}
}

// TestExtractPrecedence ensures explicit typed columns always beat the
// packed field, and that the packed field only fills the gaps.
func TestExtractPrecedence(t *testing.T) {
	roles := RoleMap{
		RoleLatitude:         {0},
		RoleLongitude:        {1},
		RoleAdminCode:        {2},
		RoleCombinedLocation: {3},
	}

	row := []any{51.5, -0.12, "826", "40.7,-74.0,840"}
	got := Extract(row, roles)
	if got.Latitude == nil || *got.Latitude != 51.5 {
		t.Fatalf("latitude = %v, want explicit 51.5", got.Latitude)
	}
	if got.AdminCode != "826" {
		t.Fatalf("admin = %q, want explicit 826", got.AdminCode)
	}

	// Explicit columns empty: the combined cell supplies everything.
	row = []any{nil, nil, nil, "40.7,-74.0,840"}
	got = Extract(row, roles)
	if !got.HasCoords() || got.AdminCode != "840" {
		t.Fatalf("combined fallback not applied: %+v", got)
	}
}

// TestExtractMergesDescriptiveFields covers the row whose location is
// fully explicit but whose observation id and country only exist in the
// packed cell; those feed the cluster summary and must survive.
func TestExtractMergesDescriptiveFields(t *testing.T) {
	roles := RoleMap{
		RoleLatitude:         {0},
		RoleLongitude:        {1},
		RoleAdminCode:        {2},
		RoleCombinedLocation: {3},
	}
	row := []any{51.5, -0.12, "826", `{"lat": 99, "admin": "999", "obsId": "OB-42", "country": "United Kingdom"}`}
	got := Extract(row, roles)

	if got.Latitude == nil || *got.Latitude != 51.5 || got.AdminCode != "826" {
		t.Fatalf("explicit location fields lost: %+v", got)
	}
	if got.ObservationID != "OB-42" {
		t.Errorf("obs = %q, want OB-42 from the combined cell", got.ObservationID)
	}
	if got.Country != "United Kingdom" {
		t.Errorf("country = %q, want United Kingdom from the combined cell", got.Country)
	}
}

// TestExtractNumericAdminColumn covers type drift: hosts deliver codes
// as numbers or strings depending on the source column type.
func TestExtractNumericAdminColumn(t *testing.T) {
	roles := RoleMap{RoleAdminCode: {0}}
	got := Extract([]any{float64(250)}, roles)
	if got.AdminCode != "250" {
		t.Fatalf("numeric admin cell = %q, want 250", got.AdminCode)
	}
}

// TestExtractUnparsableLatitude pins the (0,0) regression: a NaN or
// malformed latitude leaves the coordinate absent entirely.
func TestExtractUnparsableLatitude(t *testing.T) {
	roles := RoleMap{RoleLatitude: {0}, RoleLongitude: {1}}
	got := Extract([]any{"not-a-number", -74.0}, roles)
	if got.Latitude != nil {
		t.Fatalf("latitude = %v, want nil", *got.Latitude)
	}
	if got.HasCoords() {
		t.Fatal("record with unparsable latitude must not have coords")
	}
}

func assertRecordEqual(t *testing.T, got, want Record) {
	t.Helper()
	if !floatPtrEqual(got.Latitude, want.Latitude) {
		t.Errorf("latitude = %v, want %v", deref(got.Latitude), deref(want.Latitude))
	}
	if !floatPtrEqual(got.Longitude, want.Longitude) {
		t.Errorf("longitude = %v, want %v", deref(got.Longitude), deref(want.Longitude))
	}
	if got.AdminCode != want.AdminCode {
		t.Errorf("admin = %q, want %q", got.AdminCode, want.AdminCode)
	}
	if got.AdminCodeNA != want.AdminCodeNA {
		t.Errorf("adminNA = %v, want %v", got.AdminCodeNA, want.AdminCodeNA)
	}
	if got.ObservationID != want.ObservationID {
		t.Errorf("obs = %q, want %q", got.ObservationID, want.ObservationID)
	}
	if got.Country != want.Country {
		t.Errorf("country = %q, want %q", got.Country, want.Country)
	}
	if got.ReferenceID != want.ReferenceID {
		t.Errorf("ref = %q, want %q", got.ReferenceID, want.ReferenceID)
	}
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
