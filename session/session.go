//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package session

import (
	"github.com/markkurossi/tilert/cap"
	"github.com/markkurossi/tilert/com"
	"github.com/markkurossi/tilert/kif"
)

// ClientSession is a session with a service, opened through the
// resource manager. Capabilities move over the session with delegate
// and obtain exchanges.
type ClientSession struct {
	c    *com.Com
	rm   *ResMng
	sess cap.Capability
}

// Open opens a session with the named service.
func Open(c *com.Com, rm *ResMng, name string,
	args *kif.ExchangeArgs) (*ClientSession, error) {

	sel := c.Sels().Alloc()
	err := rm.OpenSess(sel, name, args)
	if err != nil {
		return nil, err
	}
	return &ClientSession{
		c:    c,
		rm:   rm,
		sess: cap.New(sel, 0),
	}, nil
}

// Sel returns the session capability selector.
func (cs *ClientSession) Sel() kif.Sel {
	return cs.sess.Sel()
}

// Delegate hands the capability range to the service.
func (cs *ClientSession) Delegate(crd kif.CapRngDesc,
	args *kif.ExchangeArgs) (*kif.ExchangeArgs, error) {

	return cs.c.Syscalls().ExchangeSess(cs.sess.Sel(), crd, args, false)
}

// Obtain receives count capabilities from the service. They appear
// at the returned range.
func (cs *ClientSession) Obtain(count uint64, args *kif.ExchangeArgs) (
	kif.CapRngDesc, *kif.ExchangeArgs, error) {

	crd := kif.CapRngDesc{
		Type:  kif.CapObj,
		Start: cs.c.Sels().AllocN(count),
		Count: count,
	}
	reply, err := cs.c.Syscalls().ExchangeSess(cs.sess.Sel(), crd,
		args, true)
	if err != nil {
		return kif.CapRngDesc{}, nil, err
	}
	return crd, reply, nil
}

// ObtainSGate obtains a send gate from the service.
func (cs *ClientSession) ObtainSGate(args *kif.ExchangeArgs) (
	*com.SGate, error) {

	crd, _, err := cs.Obtain(1, args)
	if err != nil {
		return nil, err
	}
	return com.BindSGate(cs.c, crd.Start), nil
}

// Close closes the session with the service.
func (cs *ClientSession) Close() error {
	return cs.rm.CloseSess(cs.sess.Sel())
}
