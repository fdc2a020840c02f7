package connectivity

import (
	"log/slog"
	"sync"

	"github.com/vietddude/flatshare/internal/core/domain"
)

// Listener receives connectivity events.
type Listener func(domain.ConnectivityEvent)

// Bus fans events out to subscribers. Every subscriber owns a mailbox drained
// by its own goroutine, so a slow or panicking listener only affects itself.
// Events reach each mailbox in publish order, mailboxes are filled in
// subscription order.
type Bus struct {
	mu     sync.Mutex
	subs   []*mailbox
	nextID uint64
	closed bool
	log    *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

// Subscribe registers l and returns a func that removes it.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	b.nextID++
	mb := newMailbox(b.nextID, l, b.log)
	b.subs = append(b.subs, mb)
	go mb.run()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(mb) })
	}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev domain.ConnectivityEvent) {
	b.mu.Lock()
	subs := make([]*mailbox, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, mb := range subs {
		mb.push(ev)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops accepting subscribers. Pending events are still delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, mb := range subs {
		mb.close(true)
	}
}

func (b *Bus) remove(target *mailbox) {
	b.mu.Lock()
	for i, mb := range b.subs {
		if mb == target {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	target.close(false)
}

type mailbox struct {
	id       uint64
	listener Listener
	log      *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []domain.ConnectivityEvent
	closed  bool
}

func newMailbox(id uint64, l Listener, log *slog.Logger) *mailbox {
	mb := &mailbox{id: id, listener: l, log: log}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

func (mb *mailbox) push(ev domain.ConnectivityEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.pending = append(mb.pending, ev)
	mb.cond.Signal()
}

func (mb *mailbox) close(drain bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.closed = true
	if !drain {
		mb.pending = nil
	}
	mb.cond.Signal()
}

func (mb *mailbox) run() {
	for {
		mb.mu.Lock()
		for len(mb.pending) == 0 && !mb.closed {
			mb.cond.Wait()
		}
		if len(mb.pending) == 0 {
			mb.mu.Unlock()
			return
		}
		ev := mb.pending[0]
		mb.pending = mb.pending[1:]
		mb.mu.Unlock()

		mb.deliver(ev)
	}
}

func (mb *mailbox) deliver(ev domain.ConnectivityEvent) {
	defer func() {
		if r := recover(); r != nil {
			mb.log.Error("Connectivity listener panicked", "subscriber", mb.id, "event", ev.Kind, "panic", r)
		}
	}()
	mb.listener(ev)
}
