// Package displaystate decides what the visual surface shows: the map, a
// setup prompt, a no-data message, or a loading spinner.  Marker
// mutations, boundary fetches and host selection calls finish in
// arbitrary order, so the decision is debounced behind a settle timer
// instead of recomputed inline; a short bounded lag beats flickering the
// empty-state panel halfway through a multi-step update.
package displaystate

import "time"

// State is the single surface-level verdict.
type State int

const (
	ShowMap State = iota
	ShowSetupRequired
	ShowNoMatchingData
	ShowLoading
)

func (s State) String() string {
	switch s {
	case ShowSetupRequired:
		return "setupRequired"
	case ShowNoMatchingData:
		return "noMatchingData"
	case ShowLoading:
		return "loading"
	default:
		return "map"
	}
}

// Inputs is everything the verdict depends on, gathered by the caller at
// settle time so the controller never reaches into other components.
type Inputs struct {
	BaseMapConfigured bool
	RowCount          int
	VisibleMarkers    int
	ActiveRegions     int
}

// decide applies the priority order.  Setup wins outright: without a
// boundary dataset the map cannot render no matter what the data says.
// Loading outranks the no-data message so a slow fetch does not flash
// "no matching data" at the user before results arrive.
func decide(in Inputs, inflight int) State {
	switch {
	case !in.BaseMapConfigured:
		return ShowSetupRequired
	case inflight > 0:
		return ShowLoading
	case in.RowCount > 0 && in.VisibleMarkers == 0 && in.ActiveRegions == 0:
		return ShowNoMatchingData
	default:
		return ShowMap
	}
}

type ctrlKind int

const (
	ctrlBegin ctrlKind = iota
	ctrlEnd
	ctrlPoke
	ctrlCurrent
)

type ctrlCmd struct {
	kind  ctrlKind
	name  string
	reply chan State
}

// Controller owns the verdict for one visual instance.  A single
// goroutine holds the in-flight counters and the settle timer; everyone
// else talks to it over the command channel.
type Controller struct {
	cmds chan ctrlCmd
	quit chan struct{}

	updates chan State

	settle time.Duration
	inputs func() Inputs
}

// DefaultSettle is how long the controller waits after the last
// mutation before re-evaluating.  Long enough to cover a full update
// cycle's worth of mutations, short enough to stay invisible.
const DefaultSettle = 120 * time.Millisecond

// New starts the controller.  inputs is called on the controller
// goroutine at settle time and must be cheap.  A zero settle picks the
// default; tests pass a tiny value instead of faking the clock.
func New(settle time.Duration, inputs func() Inputs) *Controller {
	if settle <= 0 {
		settle = DefaultSettle
	}
	c := &Controller{
		cmds:    make(chan ctrlCmd, 16),
		quit:    make(chan struct{}),
		updates: make(chan State, 1),
		settle:  settle,
		inputs:  inputs,
	}
	go c.loop()
	return c
}

// Close stops the goroutine.
func (c *Controller) Close() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

// Updates delivers each newly decided state, coalescing to the latest
// when the receiver lags.
func (c *Controller) Updates() <-chan State { return c.updates }

// Begin marks a named asynchronous operation as in flight.  Names are
// reference counted, so two concurrent fetches of the same overlay keep
// the spinner up until both finish.
func (c *Controller) Begin(name string) { c.send(ctrlCmd{kind: ctrlBegin, name: name}) }

// End releases one reference for the named operation.
func (c *Controller) End(name string) { c.send(ctrlCmd{kind: ctrlEnd, name: name}) }

// Poke schedules a re-evaluation after the settle delay.  Every mutation
// of markers, regions or selection calls this; bursts collapse into one
// evaluation.
func (c *Controller) Poke() { c.send(ctrlCmd{kind: ctrlPoke}) }

// Current returns the last decided state.
func (c *Controller) Current() State {
	reply := make(chan State, 1)
	select {
	case c.cmds <- ctrlCmd{kind: ctrlCurrent, reply: reply}:
	case <-c.quit:
		return ShowMap
	}
	select {
	case s := <-reply:
		return s
	case <-c.quit:
		return ShowMap
	}
}

func (c *Controller) send(cmd ctrlCmd) {
	select {
	case c.cmds <- cmd:
	case <-c.quit:
	}
}

func (c *Controller) loop() {
	inflight := map[string]int{}
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	total := func() int {
		n := 0
		for _, v := range inflight {
			n += v
		}
		return n
	}

	// First verdict is computed immediately so a brand-new instance
	// shows the setup prompt rather than a blank surface.
	state := decide(c.inputs(), 0)
	publish := func(next State) {
		if next == state {
			return
		}
		state = next
		select {
		case c.updates <- state:
		default:
			// Receiver lagged: replace the stale pending value.
			select {
			case <-c.updates:
			default:
			}
			c.updates <- state
		}
	}
	arm := func() {
		if armed && !timer.Stop() {
			<-timer.C
		}
		timer.Reset(c.settle)
		armed = true
	}

	for {
		select {
		case <-c.quit:
			if armed {
				timer.Stop()
			}
			return
		case <-timer.C:
			armed = false
			publish(decide(c.inputs(), total()))
		case cmd := <-c.cmds:
			switch cmd.kind {
			case ctrlBegin:
				inflight[cmd.name]++
				arm()
			case ctrlEnd:
				if inflight[cmd.name] > 1 {
					inflight[cmd.name]--
				} else {
					delete(inflight, cmd.name)
				}
				arm()
			case ctrlPoke:
				arm()
			case ctrlCurrent:
				cmd.reply <- state
			}
		}
	}
}
