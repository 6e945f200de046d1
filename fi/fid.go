package fi

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// FIDClass identifies the kind of object behind a Resource.
type FIDClass int

const (
	ClassUnspec FIDClass = iota
	ClassFabric
	ClassDomain
	ClassEventQueue
	ClassAddressVector
	ClassMemoryRegion
	ClassCompletionQueue
	ClassCounter
	ClassEndpoint
	ClassScalableEndpoint
	ClassPollSet
	ClassSharedTxContext
	ClassSharedRxContext
)

var classNames = map[FIDClass]string{
	ClassUnspec:           "unspec",
	ClassFabric:           "fabric",
	ClassDomain:           "domain",
	ClassEventQueue:       "eq",
	ClassAddressVector:    "av",
	ClassMemoryRegion:     "mr",
	ClassCompletionQueue:  "cq",
	ClassCounter:          "cntr",
	ClassEndpoint:         "ep",
	ClassScalableEndpoint: "sep",
	ClassPollSet:          "poll",
	ClassSharedTxContext:  "stx",
	ClassSharedRxContext:  "srx",
}

func (c FIDClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("FIDClass(%d)", int(c))
}

// ResourceOps is the capability table a provider binds to a resource. A nil
// entry means the operation is not supported.
type ResourceOps struct {
	Close   func() error
	Bind    func(target *Resource, flags uint64) error
	Control func(command int, arg any) error
}

// Resource is the identity and dispatch header shared by every fabric object.
// The capability table is fixed at construction.
type Resource struct {
	id      uuid.UUID
	class   FIDClass
	ops     ResourceOps
	context any
	fabric  *Fabric
	domain  *Domain

	// owner is the typed handle wrapping this header; Close goes through it.
	owner Resourcer

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
	onClose   func()
}

// Resourcer is implemented by every handle type.
type Resourcer interface {
	Fid() *Resource
	Close() error
}

// ResourceOption adjusts resource construction.
type ResourceOption func(*resourceConfig)

type resourceConfig struct {
	context any
	clock   clock.Clock
}

// WithContext attaches caller data to the resource, retrievable with
// Resource.Context or ContextOf.
func WithContext(v any) ResourceOption {
	return func(cfg *resourceConfig) {
		cfg.context = v
	}
}

// WithClock overrides the clock used to timestamp events.
func WithClock(c clock.Clock) ResourceOption {
	return func(cfg *resourceConfig) {
		cfg.clock = c
	}
}

func applyResourceOptions(opts []ResourceOption) resourceConfig {
	var cfg resourceConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.clock == nil {
		cfg.clock = clock.New()
	}
	return cfg
}

func newResource(class FIDClass, ops ResourceOps, fabric *Fabric, domain *Domain, context any) *Resource {
	return &Resource{
		id:      uuid.New(),
		class:   class,
		ops:     ops,
		context: context,
		fabric:  fabric,
		domain:  domain,
	}
}

// Fid returns r, letting a bare Resource satisfy Resourcer.
func (r *Resource) Fid() *Resource {
	return r
}

// ID returns the unique identity of the resource.
func (r *Resource) ID() uuid.UUID {
	if r == nil {
		return uuid.Nil
	}
	return r.id
}

// Class reports the resource kind.
func (r *Resource) Class() FIDClass {
	if r == nil {
		return ClassUnspec
	}
	return r.class
}

// Context returns the caller data attached at creation.
func (r *Resource) Context() any {
	if r == nil {
		return nil
	}
	return r.context
}

// Fabric returns the owning fabric.
func (r *Resource) Fabric() *Fabric {
	if r == nil {
		return nil
	}
	return r.fabric
}

// Domain returns the owning domain, or nil for fabric-level resources.
func (r *Resource) Domain() *Domain {
	if r == nil {
		return nil
	}
	return r.domain
}

// Closed reports whether Close has run.
func (r *Resource) Closed() bool {
	return r == nil || r.closed.Load()
}

// Control forwards a provider specific command.
func (r *Resource) Control(command int, arg any) error {
	if r.Closed() {
		return ErrInvalidHandle{"resource"}
	}
	if r.ops.Control == nil {
		return ErrNotSupported.WithOp("fi_control")
	}
	return r.ops.Control(command, arg)
}

// Close closes the handle that owns r, applying its lifecycle rules.
func (r *Resource) Close() error {
	if r == nil {
		return nil
	}
	if r.owner != nil {
		return r.owner.Close()
	}
	return r.release()
}

// release runs the provider close hook and then the parent accounting hook,
// once. Later calls return the first result.
func (r *Resource) release() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		if r.ops.Close != nil {
			r.closeErr = r.ops.Close()
		}
		if r.onClose != nil {
			r.onClose()
		}
	})
	return r.closeErr
}

func (r *Resource) String() string {
	if r == nil {
		return "<nil>"
	}
	return r.class.String() + ":" + r.id.String()
}

// ContextOf returns the caller data attached to res when it has type T.
func ContextOf[T any](res Resourcer) (T, bool) {
	var zero T
	if res == nil {
		return zero, false
	}
	v, ok := res.Fid().Context().(T)
	return v, ok
}

// childSet tracks live children of a fabric or domain.
type childSet struct {
	mu    sync.Mutex
	items map[uuid.UUID]Resourcer
}

func (c *childSet) add(r Resourcer) {
	c.mu.Lock()
	if c.items == nil {
		c.items = make(map[uuid.UUID]Resourcer)
	}
	c.items[r.Fid().ID()] = r
	c.mu.Unlock()
}

func (c *childSet) remove(id uuid.UUID) {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
}

func (c *childSet) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *childSet) contains(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

func (c *childSet) classes() map[FIDClass]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[FIDClass]int)
	for _, item := range c.items {
		counts[item.Fid().Class()]++
	}
	return counts
}
