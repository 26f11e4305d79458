package selection

// Memory retains the last non-empty selection across visual recreation.
// Hosts are allowed to tear a visual down on transient errors and build
// a fresh one; without this, the user's click-filter would silently
// vanish on every such bounce.  The harness owns one Memory per visual
// slot and hands it to each incarnation.
//
// Like everything else here it is goroutine-owned: a tiny loop serves
// loads and stores over channels.
type Memory struct {
	load  chan chan []Identifier
	store chan []Identifier
}

// NewMemory starts the owning goroutine.  The loop lives for the process
// lifetime, matching the host's dashboard session.
func NewMemory() *Memory {
	m := &Memory{
		load:  make(chan chan []Identifier),
		store: make(chan []Identifier),
	}
	go m.loop()
	return m
}

// Load returns a copy of the saved selection, or nil.
func (m *Memory) Load() []Identifier {
	reply := make(chan []Identifier, 1)
	m.load <- reply
	return <-reply
}

// Store replaces the saved selection.  Pass nil to erase it.
func (m *Memory) Store(ids []Identifier) {
	m.store <- ids
}

func (m *Memory) loop() {
	var saved []Identifier
	for {
		select {
		case reply := <-m.load:
			reply <- append([]Identifier(nil), saved...)
		case ids := <-m.store:
			saved = ids
		}
	}
}
