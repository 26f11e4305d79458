//go:build cgo && duckdb && linux && (amd64 || arm64)

// DuckDB is only enabled for Linux builds so cross compilation stays
// predictable and we avoid chasing platform-specific binary packages.
// Requires CGO and the duckdb build tag:
//
//	CGO_ENABLED=1 go build -tags duckdb
//
// Binaries that want columnar analytics over stored datasets can import
// this package with the tag; everyone else keeps a CGO-free build.
package drivers

import (
	_ "github.com/marcboeker/go-duckdb"
)
