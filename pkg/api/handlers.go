// Package api exposes the harness host over HTTP: snapshot polling for
// the map surface, click event ingestion, dataset management and an SSE
// revision stream.  Routes stay small and declarative; the heavy lifting
// lives in the visual and the database.
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lproko/powerbi-leaflet-sub000/pkg/database"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/qrshare"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/viewstream"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/visual"
)

const datasetListCacheKey = "datasets"

// Handler wires the database, the visual instance and the revision bus
// together so HTTP routes only translate requests into calls.
type Handler struct {
	DB       *database.Database
	Visual   *visual.Visual
	Stream   *viewstream.Bus
	Cache    *ResponseCache
	ShareURL string
	Logf     func(string, ...any)

	session *session
}

// NewHandler constructs a Handler and starts its session goroutine.
// Logf is optional; pass nil if logging is not required.
func NewHandler(db *database.Database, vis *visual.Visual, stream *viewstream.Bus, cache *ResponseCache, shareURL string, initial visual.Settings, logf func(string, ...any)) *Handler {
	return &Handler{
		DB:       db,
		Visual:   vis,
		Stream:   stream,
		Cache:    cache,
		ShareURL: shareURL,
		Logf:     logf,
		session:  newSession(vis, initial),
	}
}

// Close stops the session goroutine.
func (h *Handler) Close() { h.session.close() }

// Register attaches all routes to the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/view", h.handleView)
	mux.HandleFunc("/api/basemap.geojson", h.handleBaseMap)
	mux.HandleFunc("/api/borders.geojson", h.handleBorders)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/datasets", h.handleDatasets)
	mux.HandleFunc("/api/datasets/activate", h.handleActivate)
	mux.HandleFunc("/api/stream", h.handleStream)
	mux.HandleFunc("/upload", h.handleUpload)
	mux.HandleFunc("/qr", h.handleQR)
}

// handleView returns the current snapshot: render model, panel state
// and any boundary load error, tagged with the revision so clients can
// poll cheaply.
func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	snap := h.Visual.Snapshot()
	h.respondJSON(w, snap)
}

func (h *Handler) handleBaseMap(w http.ResponseWriter, r *http.Request) {
	h.serveGeoJSON(w, h.Visual.Snapshot().BaseMap)
}

func (h *Handler) handleBorders(w http.ResponseWriter, r *http.Request) {
	h.serveGeoJSON(w, h.Visual.Snapshot().Overlay)
}

func (h *Handler) serveGeoJSON(w http.ResponseWriter, raw []byte) {
	if len(raw) == 0 {
		http.Error(w, "no boundary data loaded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(raw)
}

// clickEvent is the browser-to-host shape for map interactions.
type clickEvent struct {
	Type       string `json:"type"` // marker, empty, region, cluster
	RowIndex   int    `json:"rowIndex"`
	RegionCode string `json:"regionCode"`
	RowIndexes []int  `json:"rowIndexes"`
	ZoomCapped bool   `json:"zoomCapped"`
}

// handleEvents routes click events into the visual.  Marker and empty
// clicks are fire-and-forget; region and cluster clicks return payloads
// the surface renders directly.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var ev clickEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&ev); err != nil {
		http.Error(w, "bad event payload", http.StatusBadRequest)
		return
	}

	switch ev.Type {
	case "marker":
		h.Visual.MarkerClicked(ev.RowIndex)
		h.respondJSON(w, map[string]string{"status": "ok"})
	case "empty":
		h.Visual.EmptyAreaClicked()
		h.respondJSON(w, map[string]string{"status": "ok"})
	case "region":
		rows := h.Visual.RegionClicked(ev.RegionCode)
		h.respondJSON(w, map[string]any{"tooltip": rows})
	case "cluster":
		action := h.Visual.ClusterClicked(ev.RowIndexes, ev.ZoomCapped)
		h.respondJSON(w, action)
	default:
		http.Error(w, fmt.Sprintf("unknown event type %q", ev.Type), http.StatusBadRequest)
	}
}

// handleSettings reads or replaces the persisted visual settings.
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.respondJSON(w, h.Visual.EnumerateSettings())
	case http.MethodPost:
		var settings visual.Settings
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&settings); err != nil {
			http.Error(w, "bad settings payload", http.StatusBadRequest)
			return
		}
		h.session.SetSettings(settings)
		h.respondJSON(w, settings)
	default:
		http.Error(w, "GET or POST required", http.StatusMethodNotAllowed)
	}
}

// handleDatasets lists stored datasets or stores a new one.
func (h *Handler) handleDatasets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listDatasets(w, r)
	case http.MethodPost:
		h.storeDataset(w, r)
	default:
		http.Error(w, "GET or POST required", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listDatasets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loader := func(ctx context.Context) ([]byte, error) {
		summaries, err := h.DB.ListDatasets(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(summaries)
	}
	data, err := h.Cache.Get(ctx, datasetListCacheKey, loader)
	if err != nil {
		// Cache disabled or stopped still has to serve the listing.
		data, err = loader(ctx)
	}
	if err != nil {
		http.Error(w, "dataset listing failed", http.StatusInternalServerError)
		h.logf("dataset listing: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// datasetPayload is the JSON upload shape: the same columns-and-rows
// layout the visual consumes, plus a display name.
type datasetPayload struct {
	Name    string          `json:"name"`
	Columns []visual.Column `json:"columns"`
	Rows    [][]any         `json:"rows"`
}

func (h *Handler) storeDataset(w http.ResponseWriter, r *http.Request) {
	var payload datasetPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<20)).Decode(&payload); err != nil {
		http.Error(w, "bad dataset payload", http.StatusBadRequest)
		return
	}
	if len(payload.Columns) == 0 {
		http.Error(w, "dataset needs at least one column", http.StatusBadRequest)
		return
	}

	ds := database.Dataset{
		ID:        uuid.NewString(),
		Name:      payload.Name,
		CreatedAt: time.Now(),
		Columns:   columnsToStored(payload.Columns),
		Rows:      payload.Rows,
	}
	if err := h.DB.SaveDataset(r.Context(), ds); err != nil {
		http.Error(w, "dataset save failed", http.StatusInternalServerError)
		h.logf("dataset save: %v", err)
		return
	}
	h.Cache.Invalidate(datasetListCacheKey)
	h.respondJSON(w, map[string]string{"id": ds.ID})
}

// handleActivate loads a stored dataset and replays it into the visual
// as the active data view.
func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	ds, err := h.DB.LoadDataset(r.Context(), id)
	if err != nil {
		http.Error(w, "dataset not found", http.StatusNotFound)
		h.logf("dataset activate: %v", err)
		return
	}
	h.session.SetView(visual.DataView{
		Columns: columnsFromStored(ds.Columns),
		Rows:    ds.Rows,
	})
	h.respondJSON(w, map[string]any{"id": ds.ID, "rows": len(ds.Rows)})
}

// handleStream pushes revision announcements over Server-Sent Events so
// the surface refetches the snapshot only when something changed.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	ctx := r.Context()
	revisions := h.Stream.Subscribe(ctx, 8)

	// Send the current revision immediately so a client that connects
	// between updates still renders.
	fmt.Fprintf(w, "data: {\"revision\":%d}\n\n", h.Visual.Snapshot().Revision)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case rev, ok := <-revisions:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: {\"revision\":%d}\n\n", rev)
			flusher.Flush()
		}
	}
}

// handleUpload ingests a CSV file, infers column roles from the header
// names, stores the dataset and activates it in one step.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	columns, rows, err := parseCSV(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("csv parse: %v", err), http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	ds := database.Dataset{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now(),
		Columns:   columnsToStored(columns),
		Rows:      rows,
	}
	if err := h.DB.SaveDataset(r.Context(), ds); err != nil {
		http.Error(w, "dataset save failed", http.StatusInternalServerError)
		h.logf("upload save: %v", err)
		return
	}
	h.Cache.Invalidate(datasetListCacheKey)
	h.session.SetView(visual.DataView{Columns: columns, Rows: rows})
	h.respondJSON(w, map[string]any{"id": ds.ID, "rows": len(rows)})
}

// handleQR renders the share link as a PNG QR code.
func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	if h.ShareURL == "" {
		http.Error(w, "no share URL configured", http.StatusNotFound)
		return
	}
	size := parseIntDefault(r.URL.Query().Get("size"), 256)
	w.Header().Set("Content-Type", "image/png")
	if err := qrshare.EncodePNG(w, h.ShareURL, size); err != nil {
		h.logf("qr render: %v", err)
	}
}

// =====================
// Utility helpers
// =====================

func (h *Handler) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func (h *Handler) logf(format string, args ...any) {
	if h.Logf != nil {
		h.Logf(format, args...)
	}
}

func parseIntDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func columnsToStored(cols []visual.Column) []database.DatasetColumn {
	out := make([]database.DatasetColumn, len(cols))
	for i, c := range cols {
		out[i] = database.DatasetColumn{Name: c.Name, Roles: c.Roles}
	}
	return out
}

func columnsFromStored(cols []database.DatasetColumn) []visual.Column {
	out := make([]visual.Column, len(cols))
	for i, c := range cols {
		out[i] = visual.Column{Name: c.Name, Roles: c.Roles}
	}
	return out
}

// parseCSV reads header plus data rows.  Numeric-looking cells become
// float64 so stored datasets reproduce the loosely typed cells a live
// host delivers; everything else stays a string.
func parseCSV(src io.Reader) ([]visual.Column, [][]any, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	columns := make([]visual.Column, len(header))
	for i, name := range header {
		columns[i] = visual.Column{Name: strings.TrimSpace(name), Roles: rolesForHeader(name)}
	}

	var rows [][]any
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading row %d: %w", len(rows)+2, err)
		}
		row := make([]any, len(columns))
		for i := range columns {
			if i >= len(record) {
				row[i] = nil
				continue
			}
			cell := strings.TrimSpace(record[i])
			if cell == "" {
				row[i] = nil
				continue
			}
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				row[i] = f
				continue
			}
			row[i] = cell
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// rolesForHeader maps common column names onto visual roles so a CSV
// works without a sidecar mapping file.  Unrecognized columns become
// tooltip fields, which is the harmless default.
func rolesForHeader(name string) map[string]bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lat", "latitude":
		return map[string]bool{visual.RoleLatitude: true}
	case "lon", "lng", "long", "longitude":
		return map[string]bool{visual.RoleLongitude: true}
	case "admin", "admincode", "admin_code", "adm0", "adm0_code", "gaul", "gaul_code":
		return map[string]bool{visual.RoleAdminCode: true}
	case "location", "combined", "combinedlocation", "combined_location":
		return map[string]bool{visual.RoleCombinedLocation: true}
	case "ref", "reference", "referenceid", "reference_id":
		return map[string]bool{visual.RoleReferenceID: true}
	default:
		if strings.HasPrefix(strings.ToLower(name), "choro") {
			return map[string]bool{visual.RoleChoroplethTooltip: true}
		}
		return map[string]bool{visual.RoleTooltip: true}
	}
}
