// Package selection owns the mapping between the host's opaque selection
// identifiers, the currently filtered data view, and what the map is
// allowed to show.  The rules live in one small state machine driven by
// discrete events so the asynchronous host calls, click handlers and
// re-renders cannot interleave into an inconsistent mix.
//
// All state is owned by a single goroutine fed through a command
// channel; there are no mutexes anywhere in the package.
package selection

import (
	"context"
	"time"
)

// Identifier is the host-issued selection token.  This system never
// constructs or inspects one; it only passes them back to the host and
// compares them through the injected KeyFunc.
type Identifier any

// KeyFunc renders an Identifier into a comparable key.  Injecting it at
// construction replaces the duck-typed comparison fallbacks the host
// object zoo would otherwise force on every call site.
type KeyFunc func(Identifier) string

// Manager is the slice of the host's selection manager this machine
// needs.  Select reports the full identifier set the host settled on,
// which may differ from what was clicked under multi-select modifiers.
type Manager interface {
	Select(ctx context.Context, ids []Identifier) ([]Identifier, error)
	Clear(ctx context.Context) error
}

// View is an immutable snapshot of the selection state handed to the
// render adapter.
type View struct {
	Active  bool
	Current map[string]struct{}
}

// Visible implements the visibility invariant: a marker is visible iff
// its row is in the host's filtered data view OR its identifier is in
// the current selection.  The two predicates are independent on purpose;
// collapsing them into "no selection means show all" breaks the case
// where host filtering and click selection are both in play.
func (v View) Visible(key string, inFilteredView bool) bool {
	if inFilteredView {
		return true
	}
	_, ok := v.Current[key]
	return ok
}

// Dimmed reports whether a marker stays on the map at reduced opacity:
// a selection is active, the row survived the host filter, but it is not
// part of the selection.  Dim-instead-of-remove keeps the context
// visible and the marker clickable.
func (v View) Dimmed(key string) bool {
	if !v.Active {
		return false
	}
	_, ok := v.Current[key]
	return !ok
}

type commandKind int

const (
	cmdRowsUpdated commandKind = iota
	cmdMarkerClicked
	cmdEmptyAreaClicked
	cmdHostResolved
	cmdHostRejected
	cmdClearResolved
	cmdReset
	cmdSnapshot
	cmdRestore
)

type command struct {
	kind commandKind

	rows     []Identifier // RowsUpdated
	clicked  Identifier   // MarkerClicked
	resolved []Identifier // HostResolved
	err      error        // HostRejected

	reply chan View // Snapshot
}

// hostCallTimeout bounds each round trip to the host so a hung promise
// degrades into the rejection path instead of wedging the machine.
const hostCallTimeout = 10 * time.Second

// Machine is one visual instance's selection state.
type Machine struct {
	cmds   chan command
	quit   chan struct{}
	notify chan struct{}

	mgr Manager
	key KeyFunc
	mem *Memory

	// callTimeout is a field so tests can shrink it.
	callTimeout time.Duration
}

// New starts the machine's goroutine.  mem may be nil when no
// cross-recreation persistence is wanted; when it is non-nil and holds a
// previous selection, that selection is re-applied immediately, as if
// the user had just clicked it, before any update arrives.
func New(mgr Manager, key KeyFunc, mem *Memory) *Machine {
	m := &Machine{
		cmds:        make(chan command, 16),
		quit:        make(chan struct{}),
		notify:      make(chan struct{}, 1),
		mgr:         mgr,
		key:         key,
		mem:         mem,
		callTimeout: hostCallTimeout,
	}
	go m.loop()
	if mem != nil {
		if saved := mem.Load(); len(saved) > 0 {
			m.send(command{kind: cmdRestore, resolved: saved})
		}
	}
	return m
}

// Close stops the goroutine.  Safe to call more than once.
func (m *Machine) Close() {
	select {
	case <-m.quit:
	default:
		close(m.quit)
	}
}

// Changed exposes a coalescing notification channel: one receive per
// burst of state changes.  The render path listens here to know when to
// rebuild marker emphasis.
func (m *Machine) Changed() <-chan struct{} { return m.notify }

// RowsUpdated tells the machine which identifiers the host's current
// filtered data view delivered.  An empty slice means the host reported
// no data, which resets both the current and the persistent selection.
func (m *Machine) RowsUpdated(rows []Identifier) {
	if len(rows) == 0 {
		m.send(command{kind: cmdReset})
		return
	}
	m.send(command{kind: cmdRowsUpdated, rows: rows})
}

// MarkerClicked handles a click on a single marker: select it, or clear
// if it is already part of the current selection (toggle-off).
func (m *Machine) MarkerClicked(id Identifier) {
	m.send(command{kind: cmdMarkerClicked, clicked: id})
}

// EmptyAreaClicked clears any selection and falls back to showing
// everything in the current filtered view.
func (m *Machine) EmptyAreaClicked() {
	m.send(command{kind: cmdEmptyAreaClicked})
}

// Snapshot returns the current view.  It round-trips through the owner
// goroutine so callers always see a consistent state.
func (m *Machine) Snapshot() View {
	reply := make(chan View, 1)
	select {
	case m.cmds <- command{kind: cmdSnapshot, reply: reply}:
	case <-m.quit:
		return View{}
	}
	select {
	case v := <-reply:
		return v
	case <-m.quit:
		return View{}
	}
}

func (m *Machine) send(c command) {
	select {
	case m.cmds <- c:
	case <-m.quit:
	}
}

func (m *Machine) changed() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// loop is the single owner of all selection state.
func (m *Machine) loop() {
	current := map[string]Identifier{}
	var persistent []Identifier
	filtered := map[string]struct{}{}

	snapshot := func() View {
		keys := make(map[string]struct{}, len(current))
		for k := range current {
			keys[k] = struct{}{}
		}
		return View{Active: len(current) > 0, Current: keys}
	}
	remember := func() {
		if len(current) > 0 {
			persistent = persistent[:0]
			for _, id := range current {
				persistent = append(persistent, id)
			}
			if m.mem != nil {
				m.mem.Store(append([]Identifier(nil), persistent...))
			}
		}
	}
	forget := func() {
		current = map[string]Identifier{}
		persistent = nil
		if m.mem != nil {
			m.mem.Store(nil)
		}
	}

	for {
		select {
		case <-m.quit:
			return
		case c := <-m.cmds:
			switch c.kind {
			case cmdRowsUpdated:
				filtered = make(map[string]struct{}, len(c.rows))
				for _, id := range c.rows {
					filtered[m.key(id)] = struct{}{}
				}
				m.changed()

			case cmdReset:
				filtered = map[string]struct{}{}
				forget()
				m.changed()

			case cmdMarkerClicked:
				if _, selected := current[m.key(c.clicked)]; selected {
					m.callClear()
				} else {
					m.callSelect([]Identifier{c.clicked})
				}

			case cmdEmptyAreaClicked:
				if len(current) > 0 {
					m.callClear()
				}

			case cmdRestore:
				m.callSelect(c.resolved)

			case cmdHostResolved:
				current = make(map[string]Identifier, len(c.resolved))
				for _, id := range c.resolved {
					current[m.key(id)] = id
				}
				remember()
				m.changed()

			case cmdClearResolved:
				forget()
				m.changed()

			case cmdHostRejected:
				// Host-side failure: degrade to "show the current
				// filtered view".  Logged by the caller; the user
				// just sees everything again.
				current = map[string]Identifier{}
				m.changed()

			case cmdSnapshot:
				c.reply <- snapshot()
			}
		}
	}
}

// callSelect runs the host round trip off the owner goroutine and feeds
// the outcome back in as an event, keeping the loop non-blocking.
func (m *Machine) callSelect(ids []Identifier) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
		defer cancel()
		resolved, err := m.mgr.Select(ctx, ids)
		if err != nil {
			m.send(command{kind: cmdHostRejected, err: err})
			return
		}
		if len(resolved) == 0 {
			// The host settled on nothing; treat it as a completed
			// deselection rather than "show only the clicked marker".
			m.send(command{kind: cmdHostRejected})
			return
		}
		m.send(command{kind: cmdHostResolved, resolved: resolved})
	}()
}

func (m *Machine) callClear() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.callTimeout)
		defer cancel()
		if err := m.mgr.Clear(ctx); err != nil {
			m.send(command{kind: cmdHostRejected, err: err})
			return
		}
		m.send(command{kind: cmdClearResolved})
	}()
}
