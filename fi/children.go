package fi

// CQFormat selects the completion entry layout.
type CQFormat int

const (
	CQFormatUnspec CQFormat = iota
	CQFormatContext
	CQFormatMsg
	CQFormatData
	CQFormatTagged
)

// WaitObj selects the wait object backing a queue or counter.
type WaitObj int

const (
	WaitNone WaitObj = iota
	WaitUnspec
	WaitSet
	WaitFD
	WaitMutexCond
	WaitYield
	WaitPollFD
)

// CompletionQueueAttr controls completion queue creation.
type CompletionQueueAttr struct {
	Size            int
	Flags           uint64
	Format          CQFormat
	WaitObj         WaitObj
	SignalingVector int
}

// CounterEvents selects what a counter counts.
type CounterEvents int

const (
	CounterEventsComp CounterEvents = iota
	CounterEventsBytes
)

// CounterAttr controls counter creation.
type CounterAttr struct {
	Events  CounterEvents
	WaitObj WaitObj
	Flags   uint64
}

// PollSetAttr controls poll set creation.
type PollSetAttr struct {
	Flags uint64
}

// TxContextAttr controls shared transmit context creation.
type TxContextAttr struct {
	Caps     uint64
	Size     int
	IOVLimit int
}

// RxContextAttr controls shared receive context creation.
type RxContextAttr struct {
	Caps     uint64
	Size     int
	IOVLimit int
}

// child is the common body of the opaque handles created through the
// dispatch table. The core only tracks their lifecycle.
type child struct {
	res *Resource
}

// Fid returns the resource header.
func (c *child) Fid() *Resource {
	if c == nil {
		return nil
	}
	return c.res
}

// Close runs the provider close hook and detaches the handle from its domain.
func (c *child) Close() error {
	if c == nil || c.res == nil {
		return nil
	}
	return c.res.release()
}

// CompletionQueue is an opaque completion queue handle.
type CompletionQueue struct {
	child
	attr CompletionQueueAttr
}

// Attr returns the attributes the queue was opened with.
func (c *CompletionQueue) Attr() CompletionQueueAttr { return c.attr }

// Counter is an opaque completion counter handle.
type Counter struct {
	child
	attr CounterAttr
}

// Attr returns the attributes the counter was opened with.
func (c *Counter) Attr() CounterAttr { return c.attr }

// Endpoint is an opaque endpoint handle.
type Endpoint struct {
	child
	info Info
}

// Info returns the descriptor the endpoint was opened with.
func (e *Endpoint) Info() Info { return e.info }

// ScalableEndpoint is an opaque scalable endpoint handle.
type ScalableEndpoint struct {
	child
	info Info
}

// Info returns the descriptor the endpoint was opened with.
func (e *ScalableEndpoint) Info() Info { return e.info }

// PollSet is an opaque poll set handle.
type PollSet struct {
	child
}

// SharedTxContext is an opaque shared transmit context handle.
type SharedTxContext struct {
	child
	attr TxContextAttr
}

// SharedRxContext is an opaque shared receive context handle.
type SharedRxContext struct {
	child
	attr RxContextAttr
}

// openChild runs the common open path: the dispatch entry must exist, the
// attributes must validate, and the result is registered under the domain.
func (d *Domain) openChild(op string, class FIDClass, present bool, validate func() error, open func() (ResourceOps, error), wrap func(*Resource) Resourcer, opts []ResourceOption) error {
	if !present {
		return ErrNotSupported.Wrapf(op, "provider %q does not implement %s", d.info.Provider, class)
	}
	if validate != nil {
		if err := validate(); err != nil {
			return err
		}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.live() {
		return ErrInvalidHandle{"domain"}
	}
	ops, err := open()
	if err != nil {
		return err
	}
	cfg := applyResourceOptions(opts)
	res := newResource(class, ops, d.fabric, d, cfg.context)
	handle := wrap(res)
	res.owner = handle
	d.adopt(handle)
	d.obs.log("child_opened", logKV("class", class.String()))
	return nil
}

func validateWaitObj(op string, w WaitObj) error {
	if w < WaitNone || w > WaitPollFD {
		return ErrInvalidArgument.Wrapf(op, "unknown wait object %d", w)
	}
	return nil
}

// OpenCompletionQueue opens a completion queue for the domain.
func (d *Domain) OpenCompletionQueue(attr *CompletionQueueAttr, opts ...ResourceOption) (*CompletionQueue, error) {
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	var a CompletionQueueAttr
	if attr != nil {
		a = *attr
	}
	var cq *CompletionQueue
	err := d.openChild("fi_cq_open", ClassCompletionQueue, d.ops.OpenCQ != nil,
		func() error {
			if a.Size < 0 || a.SignalingVector < 0 {
				return ErrInvalidArgument.Wrapf("fi_cq_open", "size %d signaling vector %d", a.Size, a.SignalingVector)
			}
			if a.Format < CQFormatUnspec || a.Format > CQFormatTagged {
				return ErrInvalidArgument.Wrapf("fi_cq_open", "unknown format %d", a.Format)
			}
			return validateWaitObj("fi_cq_open", a.WaitObj)
		},
		func() (ResourceOps, error) { return d.ops.OpenCQ(a) },
		func(res *Resource) Resourcer {
			cq = &CompletionQueue{child: child{res: res}, attr: a}
			return cq
		}, opts)
	if err != nil {
		return nil, err
	}
	return cq, nil
}

// OpenCounter opens a completion counter for the domain.
func (d *Domain) OpenCounter(attr *CounterAttr, opts ...ResourceOption) (*Counter, error) {
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	var a CounterAttr
	if attr != nil {
		a = *attr
	}
	var cntr *Counter
	err := d.openChild("fi_cntr_open", ClassCounter, d.ops.OpenCounter != nil,
		func() error {
			if a.Events != CounterEventsComp && a.Events != CounterEventsBytes {
				return ErrInvalidArgument.Wrapf("fi_cntr_open", "unknown events %d", a.Events)
			}
			return validateWaitObj("fi_cntr_open", a.WaitObj)
		},
		func() (ResourceOps, error) { return d.ops.OpenCounter(a) },
		func(res *Resource) Resourcer {
			cntr = &Counter{child: child{res: res}, attr: a}
			return cntr
		}, opts)
	if err != nil {
		return nil, err
	}
	return cntr, nil
}

func (d *Domain) endpointInfo(op string, info *Info) (Info, error) {
	ep := d.info
	if info != nil {
		ep = *info
	}
	if !ep.Endpoint.valid() {
		return Info{}, ErrInvalidArgument.Wrapf(op, "unknown endpoint type %d", ep.Endpoint)
	}
	if extra := ep.Caps &^ d.info.Caps; extra != 0 {
		return Info{}, ErrNotSupported.Wrapf(op, "%v: caps 0x%x", ErrCapabilityUnsupported, extra)
	}
	return ep, nil
}

// OpenEndpoint opens an endpoint described by info, or by the domain's own
// descriptor when info is nil.
func (d *Domain) OpenEndpoint(info *Info, opts ...ResourceOption) (*Endpoint, error) {
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	var epInfo Info
	var ep *Endpoint
	err := d.openChild("fi_endpoint", ClassEndpoint, d.ops.OpenEndpoint != nil,
		func() (err error) {
			epInfo, err = d.endpointInfo("fi_endpoint", info)
			return err
		},
		func() (ResourceOps, error) { return d.ops.OpenEndpoint(epInfo) },
		func(res *Resource) Resourcer {
			ep = &Endpoint{child: child{res: res}, info: epInfo}
			return ep
		}, opts)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// OpenScalableEndpoint opens a scalable endpoint.
func (d *Domain) OpenScalableEndpoint(info *Info, opts ...ResourceOption) (*ScalableEndpoint, error) {
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	var epInfo Info
	var sep *ScalableEndpoint
	err := d.openChild("fi_scalable_ep", ClassScalableEndpoint, d.ops.OpenScalableEndpoint != nil,
		func() (err error) {
			epInfo, err = d.endpointInfo("fi_scalable_ep", info)
			return err
		},
		func() (ResourceOps, error) { return d.ops.OpenScalableEndpoint(epInfo) },
		func(res *Resource) Resourcer {
			sep = &ScalableEndpoint{child: child{res: res}, info: epInfo}
			return sep
		}, opts)
	if err != nil {
		return nil, err
	}
	return sep, nil
}

// OpenPollSet opens a poll set.
func (d *Domain) OpenPollSet(attr *PollSetAttr, opts ...ResourceOption) (*PollSet, error) {
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	var a PollSetAttr
	if attr != nil {
		a = *attr
	}
	var ps *PollSet
	err := d.openChild("fi_poll_open", ClassPollSet, d.ops.OpenPollSet != nil,
		func() error {
			if a.Flags != 0 {
				return ErrInvalidArgument.Wrapf("fi_poll_open", "unsupported flags 0x%x", a.Flags)
			}
			return nil
		},
		func() (ResourceOps, error) { return d.ops.OpenPollSet(a) },
		func(res *Resource) Resourcer {
			ps = &PollSet{child: child{res: res}}
			return ps
		}, opts)
	if err != nil {
		return nil, err
	}
	return ps, nil
}

// OpenSharedTxContext opens a shared transmit context.
func (d *Domain) OpenSharedTxContext(attr *TxContextAttr, opts ...ResourceOption) (*SharedTxContext, error) {
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	var a TxContextAttr
	if attr != nil {
		a = *attr
	}
	var stx *SharedTxContext
	err := d.openChild("fi_stx_context", ClassSharedTxContext, d.ops.OpenSharedTx != nil,
		func() error {
			if a.Size < 0 || a.IOVLimit < 0 {
				return ErrInvalidArgument.Wrapf("fi_stx_context", "size %d iov limit %d", a.Size, a.IOVLimit)
			}
			return nil
		},
		func() (ResourceOps, error) { return d.ops.OpenSharedTx(a) },
		func(res *Resource) Resourcer {
			stx = &SharedTxContext{child: child{res: res}, attr: a}
			return stx
		}, opts)
	if err != nil {
		return nil, err
	}
	return stx, nil
}

// OpenSharedRxContext opens a shared receive context.
func (d *Domain) OpenSharedRxContext(attr *RxContextAttr, opts ...ResourceOption) (*SharedRxContext, error) {
	if !d.live() {
		return nil, ErrInvalidHandle{"domain"}
	}
	var a RxContextAttr
	if attr != nil {
		a = *attr
	}
	var srx *SharedRxContext
	err := d.openChild("fi_srx_context", ClassSharedRxContext, d.ops.OpenSharedRx != nil,
		func() error {
			if a.Size < 0 || a.IOVLimit < 0 {
				return ErrInvalidArgument.Wrapf("fi_srx_context", "size %d iov limit %d", a.Size, a.IOVLimit)
			}
			return nil
		},
		func() (ResourceOps, error) { return d.ops.OpenSharedRx(a) },
		func(res *Resource) Resourcer {
			srx = &SharedRxContext{child: child{res: res}, attr: a}
			return srx
		}, opts)
	if err != nil {
		return nil, err
	}
	return srx, nil
}
