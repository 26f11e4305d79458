package boundaries

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxGeoJSONBytes caps a boundary download.  Country-level datasets fit
// comfortably; the cap protects against a tile server URL pasted into
// the base-map field by mistake.
const maxGeoJSONBytes = 64 << 20

// FetchError is what the setup panel shows when a boundary source cannot
// be used.  It always carries the failing URL and a short excerpt of
// what went wrong, plus remediation hints, because "failed to load" on
// its own sends map authors straight to support.
type FetchError struct {
	URL     string
	Excerpt string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("boundary source %s: %s", e.URL, e.Excerpt)
}

// Hints returns the remediation advice shown under the error text.
func (e *FetchError) Hints() []string {
	return []string{
		"The URL must be publicly reachable without authentication.",
		"It must be a direct link to the file, not a download page.",
		"The file must be valid GeoJSON (a FeatureCollection of Polygon or MultiPolygon features).",
	}
}

// excerpt trims an error or body fragment to something that fits in the
// panel without flooding it.
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 160 {
		s = s[:160] + "…"
	}
	return s
}

// Loader fetches and decodes boundary datasets.  The HTTP client is a
// field so tests can point it at httptest servers or stub transports.
type Loader struct {
	Client *http.Client
}

// NewLoader builds a Loader with a client tuned for boundary files:
// generous total timeout because public GeoJSON mirrors can be slow, but
// still bounded so an abandoned fetch cannot pin the loading state
// forever.
func NewLoader() *Loader {
	return &Loader{Client: &http.Client{Timeout: 45 * time.Second}}
}

// Fetch downloads and decodes one boundary source.  All failure modes
// come back as *FetchError so the caller can render them uniformly; the
// update path itself never sees a panic or a raw transport error.
func (l *Loader) Fetch(ctx context.Context, url string) (*Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Excerpt: excerpt(err.Error())}
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Excerpt: excerpt(err.Error())}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		detail := resp.Status
		if len(body) > 0 {
			detail += ": " + string(body)
		}
		return nil, &FetchError{URL: url, Excerpt: excerpt(detail)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxGeoJSONBytes))
	if err != nil {
		return nil, &FetchError{URL: url, Excerpt: excerpt(err.Error())}
	}

	set, err := Decode(url, data)
	if err != nil {
		return nil, &FetchError{URL: url, Excerpt: excerpt(err.Error())}
	}
	return set, nil
}
