package visual

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lproko/powerbi-leaflet-sub000/pkg/boundaries"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/displaystate"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/fieldextract"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/logger"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/regionmatch"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/render"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/selection"
)

// Host bundles the services the embedding platform provides at
// construction time.  All of them are injected: the visual never builds
// identifiers or compares them with its own logic.
type Host struct {
	Selection        selection.Manager
	Key              selection.KeyFunc
	IdentifierForRow func(rowIndex int) selection.Identifier
	Memory           *selection.Memory
}

// LoadError is a boundary-source failure prepared for display: URL,
// excerpt and remediation hints, per the setup panel contract.
type LoadError struct {
	URL     string   `json:"url"`
	Excerpt string   `json:"excerpt"`
	Hints   []string `json:"hints"`
}

// Snapshot is the full observable state of the instance at one revision:
// what to draw and which panel to show.  Revisions only grow, so surface
// code can cheaply poll for "anything new?".
type Snapshot struct {
	Revision  uint64       `json:"revision"`
	State     string       `json:"state"`
	Model     render.Model `json:"model"`
	LoadError *LoadError   `json:"loadError,omitempty"`
	// OverlayError reports a failed borders-overlay fetch.  Unlike
	// LoadError it never drives the panel; the overlay is decorative
	// and the map keeps rendering without it.
	OverlayError *LoadError `json:"overlayError,omitempty"`
	BaseMapURL   string     `json:"baseMapUrl"`
	BordersURL   string     `json:"bordersUrl"`
	BaseMap      []byte     `json:"-"` // raw GeoJSON for the surface to draw
	Overlay      []byte     `json:"-"`
}

// ClusterAction tells the surface what a cluster click should do:
// either zoom to the cluster bounds as usual, or show the synthesized
// summary tooltip when the cluster is already at max zoom.
type ClusterAction struct {
	ZoomToBounds bool                `json:"zoomToBounds"`
	Tooltip      []render.TooltipRow `json:"tooltip,omitempty"`
}

type visCmdKind int

const (
	visUpdate visCmdKind = iota
	visMarkerClick
	visRegionClick
	visClusterClick
	visEmptyClick
	visFetchDone
	visSelectionChanged
	visSnapshot
	visEnumerate
	visResize
	visDestroy
)

type fetchResult struct {
	generation uint64
	overlay    bool
	raw        []byte
	set        *boundaries.Set
	err        error
}

type visCmd struct {
	kind     visCmdKind
	dv       DataView
	settings Settings

	rowIndex   int
	regionCode string
	rowIndexes []int
	zoomCapped bool

	fetch fetchResult

	snapReply    chan Snapshot
	settingsOut  chan Settings
	clusterReply chan ClusterAction
	regionReply  chan []render.TooltipRow
}

// Visual is one live instance.  A single goroutine owns every mutable
// field, fed through the command channel; the host-facing methods are
// thin senders, so it does not matter from which goroutine the embedding
// layer calls them.
type Visual struct {
	cmds chan visCmd
	quit chan struct{}

	notify chan struct{}

	host       Host
	machine    *selection.Machine
	controller *displaystate.Controller
	loader     *boundaries.Loader

	// inputs is read by the display-state controller's goroutine at
	// settle time, so it lives behind an atomic.
	inputs atomic.Value // displaystate.Inputs

	revision atomic.Uint64
}

// New constructs an instance over the provided host services.  If the
// host's Memory holds a previous selection it is re-applied before the
// first update, compensating for platforms that recreate the visual on
// transient errors.
func New(host Host) *Visual {
	v := &Visual{
		cmds:   make(chan visCmd, 32),
		quit:   make(chan struct{}),
		notify: make(chan struct{}, 1),
		host:   host,
		loader: boundaries.NewLoader(),
	}
	v.inputs.Store(displaystate.Inputs{})
	v.machine = selection.New(host.Selection, host.Key, host.Memory)
	v.controller = displaystate.New(0, func() displaystate.Inputs {
		return v.inputs.Load().(displaystate.Inputs)
	})
	go v.loop()
	go v.forwardSelectionChanges()
	return v
}

// Changed coalesces change notifications for surfaces that push rather
// than poll.
func (v *Visual) Changed() <-chan struct{} { return v.notify }

// Update delivers a fresh data view and settings.  Processing happens on
// the owner goroutine; any panic inside the cycle is recovered there and
// degrades to the empty-state panel instead of a half-rendered map.
func (v *Visual) Update(dv DataView, settings Settings) {
	v.send(visCmd{kind: visUpdate, dv: dv, settings: settings})
}

// MarkerClicked routes a marker click into the selection machine.  The
// surface stops event propagation, so this never coincides with
// EmptyAreaClicked for the same click.
func (v *Visual) MarkerClicked(rowIndex int) {
	v.send(visCmd{kind: visMarkerClick, rowIndex: rowIndex})
}

// RegionClicked returns the tooltip for a highlighted region, or nil
// when the region is not interactive.
func (v *Visual) RegionClicked(regionCode string) []render.TooltipRow {
	reply := make(chan []render.TooltipRow, 1)
	v.send(visCmd{kind: visRegionClick, regionCode: regionCode, regionReply: reply})
	select {
	case rows := <-reply:
		return rows
	case <-v.quit:
		return nil
	}
}

// ClusterClicked decides between the default zoom-to-bounds behaviour
// and the max-zoom summary tooltip.
func (v *Visual) ClusterClicked(rowIndexes []int, zoomCapped bool) ClusterAction {
	reply := make(chan ClusterAction, 1)
	v.send(visCmd{kind: visClusterClick, rowIndexes: rowIndexes, zoomCapped: zoomCapped, clusterReply: reply})
	select {
	case a := <-reply:
		return a
	case <-v.quit:
		return ClusterAction{}
	}
}

// EmptyAreaClicked clears the selection and shows everything in the
// current filtered view.
func (v *Visual) EmptyAreaClicked() {
	v.send(visCmd{kind: visEmptyClick})
}

// Snapshot returns the current renderable state.
func (v *Visual) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	v.send(visCmd{kind: visSnapshot, snapReply: reply})
	select {
	case s := <-reply:
		return s
	case <-v.quit:
		return Snapshot{}
	}
}

// EnumerateSettings reports the configured URLs so the host can persist
// them.
func (v *Visual) EnumerateSettings() Settings {
	reply := make(chan Settings, 1)
	v.send(visCmd{kind: visEnumerate, settingsOut: reply})
	select {
	case s := <-reply:
		return s
	case <-v.quit:
		return Settings{}
	}
}

// Resize signals a container size change.  The model itself is size
// independent; bumping the revision tells the surface to recompute map
// sizing.
func (v *Visual) Resize() { v.send(visCmd{kind: visResize}) }

// Destroy releases the instance: selection machine, display controller
// and the owner goroutine all stop, and internal collections are freed.
func (v *Visual) Destroy() {
	v.send(visCmd{kind: visDestroy})
}

func (v *Visual) send(c visCmd) {
	select {
	case v.cmds <- c:
	case <-v.quit:
	}
}

func (v *Visual) changed() {
	v.revision.Add(1)
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// forwardSelectionChanges folds the machine's notifications into the
// command stream so the model rebuild happens on the owner goroutine.
func (v *Visual) forwardSelectionChanges() {
	for {
		select {
		case <-v.quit:
			return
		case <-v.machine.Changed():
			v.send(visCmd{kind: visSelectionChanged})
		}
	}
}

// state owned exclusively by loop.
type visualState struct {
	dv       DataView
	settings Settings
	records  []fieldextract.Record
	keys     []string
	matcher  regionmatch.Matcher
	model    render.Model

	baseMapRaw []byte
	overlayRaw []byte
	loadErr    *LoadError
	overlayErr *LoadError

	// Separate generations per source implement last-writer-wins
	// independently for the base map and the overlay.
	baseGen    uint64
	overlayGen uint64
}

func (v *Visual) loop() {
	st := &visualState{}

	for {
		select {
		case <-v.quit:
			return
		case c := <-v.cmds:
			switch c.kind {
			case visUpdate:
				v.runUpdate(st, c.dv, c.settings)

			case visSelectionChanged:
				v.rebuild(st)

			case visMarkerClick:
				if id := v.identifierFor(c.rowIndex); id != nil {
					v.machine.MarkerClicked(id)
				}

			case visEmptyClick:
				v.machine.EmptyAreaClicked()

			case visRegionClick:
				c.regionReply <- v.regionTooltip(st, c.regionCode)

			case visClusterClick:
				c.clusterReply <- v.clusterAction(st, c.rowIndexes, c.zoomCapped)

			case visFetchDone:
				v.applyFetch(st, c.fetch)

			case visSnapshot:
				c.snapReply <- Snapshot{
					Revision:     v.revision.Load(),
					State:        v.controller.Current().String(),
					Model:        st.model,
					LoadError:    st.loadErr,
					OverlayError: st.overlayErr,
					BaseMapURL:   st.settings.BaseMapURL,
					BordersURL:   st.settings.BordersURL,
					BaseMap:      st.baseMapRaw,
					Overlay:      st.overlayRaw,
				}

			case visEnumerate:
				c.settingsOut <- st.settings

			case visResize:
				v.changed()
				v.controller.Poke()

			case visDestroy:
				v.machine.Close()
				v.controller.Close()
				*st = visualState{}
				select {
				case <-v.quit:
				default:
					close(v.quit)
				}
				return
			}
		}
	}
}

// runUpdate is the top of the update path.  The deferred recover is the
// crash boundary: whatever goes wrong below, the host sees an intact
// visual showing its empty-state panel, never an exception.
func (v *Visual) runUpdate(st *visualState, dv DataView, settings Settings) {
	cycleID := uuid.NewString()[:8]
	logger.Begin(cycleID)
	defer func() {
		if r := recover(); r != nil {
			logger.FlushError(cycleID, fmt.Errorf("update cycle panicked: %v", r))
			st.records = nil
			st.keys = nil
			st.model = render.Model{}
			st.matcher.SetRecords(nil)
			v.publishInputs(st)
			v.controller.Poke()
			v.changed()
		}
	}()

	urlChanged := settings.BaseMapURL != st.settings.BaseMapURL
	overlayChanged := settings.BordersURL != st.settings.BordersURL
	st.settings = settings
	st.dv = dv

	// Full replacement every cycle: previous records, keys and markers
	// are discarded wholesale, never patched.
	st.records = dv.extractRecords()
	st.keys = make([]string, len(st.records))
	ids := make([]selection.Identifier, 0, len(st.records))
	for i := range st.records {
		if id := v.identifierFor(i); id != nil {
			st.keys[i] = v.host.Key(id)
			ids = append(ids, id)
		}
	}
	st.matcher.SetRecords(st.records)
	logger.Append(cycleID, "extracted %d records from %d rows", countUsable(st.records), len(dv.Rows))

	v.machine.RowsUpdated(ids)

	if urlChanged {
		st.baseMapRaw = nil
		st.loadErr = nil
		st.matcher.SetBoundaries(nil)
		if settings.BaseMapURL != "" {
			v.startFetch(st, settings.BaseMapURL, false)
		}
	}
	if overlayChanged {
		st.overlayRaw = nil
		st.overlayErr = nil
		if settings.BordersURL != "" {
			v.startFetch(st, settings.BordersURL, true)
		}
	}

	v.rebuild(st)
	logger.Success(cycleID, fmt.Sprintf("%d markers, %d active regions", len(st.model.Markers), len(st.matcher.ActiveRegions())))
}

// startFetch launches one boundary download.  The generation token
// implements last-writer-wins: a late result from a superseded URL is
// dropped when it finally lands.
func (v *Visual) startFetch(st *visualState, url string, overlay bool) {
	var gen uint64
	name := "basemap"
	if overlay {
		st.overlayGen++
		gen = st.overlayGen
		name = "borders"
	} else {
		st.baseGen++
		gen = st.baseGen
	}
	v.controller.Begin(name)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		set, err := v.loader.Fetch(ctx, url)
		v.controller.End(name)
		res := fetchResult{generation: gen, overlay: overlay, set: set, err: err}
		if set != nil {
			res.raw = set.Raw
		}
		v.send(visCmd{kind: visFetchDone, fetch: res})
	}()
}

// applyFetch folds a completed download back into instance state,
// ignoring superseded generations.
func (v *Visual) applyFetch(st *visualState, res fetchResult) {
	if res.overlay {
		if res.generation != st.overlayGen {
			return
		}
		if res.err == nil {
			st.overlayRaw = res.raw
			st.overlayErr = nil
		} else {
			st.overlayErr = loadErrorFrom(res.err)
		}
		// Overlay failures are recorded but never drive the panel;
		// the base map decides it, so nothing else changes here.
		v.rebuild(st)
		return
	}
	if res.generation != st.baseGen {
		return // an older base map lost the race
	}
	if res.err != nil {
		st.loadErr = loadErrorFrom(res.err)
		st.baseMapRaw = nil
		st.matcher.SetBoundaries(nil)
		// Previously rendered markers stay; only the boundary layer
		// is cleared.
		v.rebuild(st)
		return
	}
	st.loadErr = nil
	st.baseMapRaw = res.raw
	st.matcher.SetBoundaries(res.set)
	v.rebuild(st)
}

// rebuild reassembles the render model from current state and publishes
// the new revision.
func (v *Visual) rebuild(st *visualState) {
	view := v.machine.Snapshot()
	st.model = render.Build(render.Input{
		Records:          st.records,
		Rows:             st.dv.Rows,
		Keys:             st.keys,
		TooltipCols:      st.dv.tooltipColumns(RoleTooltip),
		ChoroTooltipCols: st.dv.tooltipColumns(RoleChoroplethTooltip),
		Matcher:          &st.matcher,
		View:             view,
	})
	v.publishInputs(st)
	v.controller.Poke()
	v.changed()
}

func (v *Visual) publishInputs(st *visualState) {
	v.inputs.Store(displaystate.Inputs{
		BaseMapConfigured: st.settings.BaseMapURL != "",
		RowCount:          len(st.dv.Rows),
		VisibleMarkers:    len(st.model.Markers),
		ActiveRegions:     len(st.matcher.ActiveRegions()),
	})
}

func (v *Visual) regionTooltip(st *visualState, regionCode string) []render.TooltipRow {
	for _, b := range st.model.Boundaries {
		if b.RegionCode == regionCode {
			if !b.Interactive {
				return nil
			}
			return b.Tooltip
		}
	}
	return nil
}

func (v *Visual) clusterAction(st *visualState, rowIndexes []int, zoomCapped bool) ClusterAction {
	if !zoomCapped {
		return ClusterAction{ZoomToBounds: true}
	}
	byRow := make(map[int]render.Marker, len(st.model.Markers))
	for _, m := range st.model.Markers {
		byRow[m.RowIndex] = m
	}
	var members []render.Marker
	for _, idx := range rowIndexes {
		if m, ok := byRow[idx]; ok {
			members = append(members, m)
		}
	}
	return ClusterAction{Tooltip: render.ClusterSummary(members)}
}

func (v *Visual) identifierFor(rowIndex int) selection.Identifier {
	if v.host.IdentifierForRow == nil {
		return nil
	}
	return v.host.IdentifierForRow(rowIndex)
}

func countUsable(records []fieldextract.Record) int {
	n := 0
	for _, r := range records {
		if r.Usable() {
			n++
		}
	}
	return n
}

func loadErrorFrom(err error) *LoadError {
	if fe, ok := err.(*boundaries.FetchError); ok {
		return &LoadError{URL: fe.URL, Excerpt: fe.Excerpt, Hints: fe.Hints()}
	}
	return &LoadError{Excerpt: err.Error()}
}
