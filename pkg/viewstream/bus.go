// Package viewstream fan-outs visual revision announcements to
// subscribed listeners without locks.  Channels keep the visual's owner
// goroutine decoupled from however many browsers are watching, so a
// slow client never stalls an update cycle.
package viewstream

import "context"

// Bus broadcasts revision numbers.  Subscribers that fall behind miss
// intermediate revisions, which is fine: a revision only means "fetch
// the snapshot again", and the latest one supersedes everything before.
type Bus struct {
	publish     chan uint64
	subscribe   chan subscription
	unsubscribe chan subscription
}

type subscription struct {
	ch chan uint64
}

// NewBus starts the broadcaster.  The goroutine never stops because it
// is tied to the process lifetime and relies on caller contexts to
// prune subscribers.
func NewBus(buffer int) *Bus {
	b := &Bus{
		publish:     make(chan uint64, buffer),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
	}
	go b.run()
	return b
}

// Publish announces a new revision.  Non-blocking so the visual's
// notification forwarder cannot be held up by the bus.
func (b *Bus) Publish(revision uint64) {
	select {
	case b.publish <- revision:
	default:
	}
}

// Subscribe registers a listener.  The returned channel closes when the
// provided context ends.
func (b *Bus) Subscribe(ctx context.Context, buffer int) <-chan uint64 {
	ch := make(chan uint64, buffer)
	req := subscription{ch: ch}

	b.subscribe <- req

	go func() {
		<-ctx.Done()
		b.unsubscribe <- req
		close(ch)
	}()

	return ch
}

func (b *Bus) run() {
	var listeners []chan uint64

	for {
		select {
		case req := <-b.subscribe:
			listeners = append(listeners, req.ch)
		case req := <-b.unsubscribe:
			filtered := listeners[:0]
			for _, existing := range listeners {
				if existing != req.ch {
					filtered = append(filtered, existing)
				}
			}
			listeners = filtered
		case rev := <-b.publish:
			for _, ch := range listeners {
				select {
				case ch <- rev:
				default:
				}
			}
		}
	}
}
