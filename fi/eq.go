package fi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// EventKind classifies entries delivered through an EventQueue.
type EventKind int

const (
	// EventAVInsert reports the outcome of one asynchronously inserted address.
	EventAVInsert EventKind = iota + 1
	// EventAVComplete closes an asynchronous insertion batch. Data holds the
	// number of successfully inserted entries.
	EventAVComplete
	// EventMRComplete reports a memory registration to a domain bound with
	// BindRegMR. Data holds the region key.
	EventMRComplete
	// EventUser is posted through EventQueue.Write.
	EventUser
)

func (k EventKind) String() string {
	switch k {
	case EventAVInsert:
		return "av_insert"
	case EventAVComplete:
		return "av_complete"
	case EventMRComplete:
		return "mr_complete"
	case EventUser:
		return "user"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a single event queue entry.
type Event struct {
	Kind EventKind
	// Resource is the object the event concerns.
	Resource *Resource
	// Context is the caller data of the originating request.
	Context any
	// Seq groups the entries of one asynchronous request.
	Seq     uint64
	Index   int
	Address Address
	Data    uint64
	Err     error
	Time    time.Time
}

// EventQueueAttr controls event queue creation.
type EventQueueAttr struct {
	// Size bounds the number of queued entries; zero is unbounded.
	Size  int
	Flags uint64
}

// EventQueue collects asynchronous notifications from domains and address
// vectors.
type EventQueue struct {
	res    *Resource
	fabric *Fabric
	size   int
	clock  clock.Clock

	mu       sync.Mutex
	events   []Event
	reserved int
	notify   chan struct{}
	done     chan struct{}

	// bindMu orders bindings against Close.
	bindMu   sync.Mutex
	refs     int
	closing  bool
	overruns atomic.Uint64
}

// OpenEventQueue opens an event queue on the fabric.
func (f *Fabric) OpenEventQueue(attr *EventQueueAttr, opts ...ResourceOption) (*EventQueue, error) {
	if f == nil || f.res == nil {
		return nil, ErrInvalidHandle{"fabric"}
	}
	var a EventQueueAttr
	if attr != nil {
		a = *attr
	}
	if a.Size < 0 {
		return nil, ErrInvalidArgument.Wrapf("fi_eq_open", "size %d", a.Size)
	}
	if a.Flags != 0 {
		return nil, ErrInvalidArgument.Wrapf("fi_eq_open", "unsupported flags 0x%x", a.Flags)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.live() {
		return nil, ErrInvalidHandle{"fabric"}
	}
	cfg := applyResourceOptions(opts)
	eq := &EventQueue{
		fabric: f,
		size:   a.Size,
		clock:  cfg.clock,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	eq.res = newResource(ClassEventQueue, ResourceOps{Close: eq.shutdown}, f, nil, cfg.context)
	eq.res.owner = eq
	f.adopt(eq)
	return eq, nil
}

// Fid returns the resource header.
func (e *EventQueue) Fid() *Resource {
	if e == nil {
		return nil
	}
	return e.res
}

// Close releases the event queue. It fails with ErrBusy while a domain or
// address vector is still bound to it.
func (e *EventQueue) Close() error {
	if e == nil || e.res == nil {
		return nil
	}
	e.bindMu.Lock()
	if e.res.Closed() {
		e.bindMu.Unlock()
		return nil
	}
	if e.refs > 0 {
		n := e.refs
		e.bindMu.Unlock()
		return ErrBusy.Wrapf("fi_close", "event queue has %d bindings", n)
	}
	e.closing = true
	e.bindMu.Unlock()
	return e.res.release()
}

func (e *EventQueue) shutdown() error {
	close(e.done)
	e.mu.Lock()
	e.events = nil
	e.mu.Unlock()
	return nil
}

// Read retrieves the next event queue entry. FlagPeek leaves it queued.
func (e *EventQueue) Read(flags uint64) (Event, error) {
	if e == nil || e.res == nil || e.res.Closed() {
		return Event{}, ErrInvalidHandle{"event queue"}
	}
	if flags&^FlagPeek != 0 {
		return Event{}, ErrInvalidArgument.Wrapf("fi_eq_read", "unsupported flags 0x%x", flags)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		return Event{}, ErrNoEvent
	}
	ev := e.events[0]
	if flags&FlagPeek == 0 {
		e.events[0] = Event{}
		e.events = e.events[1:]
	}
	return ev, nil
}

// ReadContext blocks until an entry is available, ctx ends or the queue
// closes.
func (e *EventQueue) ReadContext(ctx context.Context) (Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		ev, err := e.Read(0)
		if err != ErrNoEvent {
			return ev, err
		}
		select {
		case <-e.notify:
		case <-e.done:
			return Event{}, ErrInvalidHandle{"event queue"}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Write posts a user event (fi_eq_write).
func (e *EventQueue) Write(ev Event) error {
	ev.Kind = EventUser
	return e.post(ev)
}

// Len reports the number of queued entries.
func (e *EventQueue) Len() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

// Overruns reports how many entries were dropped because the queue was full.
func (e *EventQueue) Overruns() uint64 {
	if e == nil {
		return 0
	}
	return e.overruns.Load()
}

func (e *EventQueue) post(ev Event) error {
	if e == nil || e.res == nil || e.res.Closed() {
		return ErrInvalidHandle{"event queue"}
	}
	if ev.Time.IsZero() {
		ev.Time = e.clock.Now()
	}
	e.mu.Lock()
	if e.size > 0 && len(e.events)+e.reserved >= e.size {
		e.mu.Unlock()
		e.overruns.Add(1)
		return ErrOverrun.Wrapf("fi_eq_write", "queue holds %d entries", e.size)
	}
	e.events = append(e.events, ev)
	e.mu.Unlock()
	e.wake()
	return nil
}

// reserve claims n slots for a later postReserved. Bounded queues refuse the
// reservation instead of dropping entries later.
func (e *EventQueue) reserve(n int) error {
	if e == nil || e.res == nil || e.res.Closed() {
		return ErrInvalidHandle{"event queue"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.size > 0 && len(e.events)+e.reserved+n > e.size {
		e.overruns.Add(1)
		return ErrOverrun.Wrapf("fi_eq_write", "queue of %d entries has no room for %d more", e.size, n)
	}
	e.reserved += n
	return nil
}

// unreserve returns n unused slots.
func (e *EventQueue) unreserve(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	e.reserved -= n
	if e.reserved < 0 {
		e.reserved = 0
	}
	e.mu.Unlock()
}

// postReserved queues ev into a slot claimed by reserve.
func (e *EventQueue) postReserved(ev Event) error {
	if e == nil || e.res == nil || e.res.Closed() {
		return ErrInvalidHandle{"event queue"}
	}
	if ev.Time.IsZero() {
		ev.Time = e.clock.Now()
	}
	e.mu.Lock()
	if e.reserved > 0 {
		e.reserved--
	}
	e.events = append(e.events, ev)
	e.mu.Unlock()
	e.wake()
	return nil
}

func (e *EventQueue) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// acquire records a binding. It fails once Close has started.
func (e *EventQueue) acquire() error {
	e.bindMu.Lock()
	defer e.bindMu.Unlock()
	if e.closing || e.res.Closed() {
		return ErrInvalidHandle{"event queue"}
	}
	e.refs++
	return nil
}

func (e *EventQueue) releaseRef() {
	e.bindMu.Lock()
	e.refs--
	e.bindMu.Unlock()
}
