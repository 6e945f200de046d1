package sockets

import "github.com/rocketbitz/fidomain/fi"

func acceptBind(*fi.Resource, uint64) error { return nil }

// opaque builds the dispatch entry of a child that only needs lifecycle
// accounting.
func (d *domain) opaque(bind func(*fi.Resource, uint64) error) fi.ResourceOps {
	d.children.Add(1)
	return fi.ResourceOps{
		Close: func() error {
			d.children.Add(-1)
			return nil
		},
		Bind: bind,
	}
}

func (d *domain) openSharedTx(attr fi.TxContextAttr) (fi.ResourceOps, error) {
	if extra := attr.Caps &^ d.info.Caps; extra != 0 {
		return fi.ResourceOps{}, fi.ErrNotSupported.Wrapf("fi_stx_context", "caps 0x%x", extra)
	}
	if limit := int(d.info.MRIovLimit); limit > 0 && attr.IOVLimit > limit {
		return fi.ResourceOps{}, fi.ErrInvalidArgument.Wrapf("fi_stx_context", "iov limit %d exceeds %d", attr.IOVLimit, limit)
	}
	return d.opaque(acceptBind), nil
}

func (d *domain) openSharedRx(attr fi.RxContextAttr) (fi.ResourceOps, error) {
	if extra := attr.Caps &^ d.info.Caps; extra != 0 {
		return fi.ResourceOps{}, fi.ErrNotSupported.Wrapf("fi_srx_context", "caps 0x%x", extra)
	}
	if limit := int(d.info.MRIovLimit); limit > 0 && attr.IOVLimit > limit {
		return fi.ResourceOps{}, fi.ErrInvalidArgument.Wrapf("fi_srx_context", "iov limit %d exceeds %d", attr.IOVLimit, limit)
	}
	return d.opaque(acceptBind), nil
}
