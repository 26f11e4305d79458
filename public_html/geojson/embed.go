package geojson

import _ "embed"

// SampleAdmin0 holds a simplified admin-0 boundary set so the harness
// can serve a working base map out of the box, without any external
// boundary URL configured.
//
//go:embed sample_admin0.geojson
var SampleAdmin0 []byte
