//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package com

import (
	"github.com/markkurossi/tilert/cap"
	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

// SGate is a send gate: the sending end of a message channel into a
// receive gate. The gate carries a label the receiver sees on every
// message and a credit budget bounding the messages in flight.
type SGate struct {
	Gate
}

// SGateArgs define the send gate creation arguments.
type SGateArgs struct {
	RGate   *RGate
	Label   tcu.Label
	Credits uint32
	Sel     kif.Sel
	Flags   cap.Flags
}

// NewSGate creates a send gate for the receive gate. An InvalidSel
// selector allocates a fresh one.
func NewSGate(c *Com, args SGateArgs) (*SGate, error) {
	sel := args.Sel
	if sel == kif.InvalidSel {
		sel = c.sels.Alloc()
	}
	credits := args.Credits
	if credits == 0 {
		credits = kif.UnlimCredits
	}
	err := c.sysc.CreateSGate(sel, args.RGate.Sel(), args.Label, credits)
	if err != nil {
		return nil, err
	}
	return &SGate{
		Gate: Gate{
			c:    c,
			cap:  cap.New(sel, args.Flags),
			kind: gateSend,
		},
	}, nil
}

// BindSGate creates a send gate handle for an existing capability,
// such as the resource manager gate from the environment. The
// capability stays alive when the handle is released.
func BindSGate(c *Com, sel kif.Sel) *SGate {
	return &SGate{
		Gate: Gate{
			c:    c,
			cap:  cap.New(sel, cap.KeepCap),
			kind: gateSend,
		},
	}
}

// Send sends the message, blocking until the gate has a credit. The
// receiver can reply to the reply gate; a nil reply gate refuses
// replies.
func (sg *SGate) Send(msg []byte, reply *RGate) error {
	return sg.SendWith(msg, 0, reply)
}

// SendWith sends the message with an explicit reply label.
func (sg *SGate) SendWith(msg []byte, rlabel tcu.Label,
	reply *RGate) error {

	for {
		err := sg.TrySendWith(msg, rlabel, reply)
		if err != tcu.NoCredits {
			return err
		}
		// The credit comes back with the receiver's reply or
		// acknowledgement.
		err = sg.c.tc.WaitForCredits(sg.ep.id, 0)
		if err != nil {
			return err
		}
	}
}

// TrySend sends the message if a credit is available and returns
// NoCredits otherwise.
func (sg *SGate) TrySend(msg []byte, reply *RGate) error {
	return sg.TrySendWith(msg, 0, reply)
}

// TrySendWith sends the message with an explicit reply label if a
// credit is available.
func (sg *SGate) TrySendWith(msg []byte, rlabel tcu.Label,
	reply *RGate) error {

	err := sg.activate(0)
	if err != nil {
		return err
	}
	replyEp := tcu.NoReplies
	if reply != nil {
		err = reply.Activate()
		if err != nil {
			return err
		}
		replyEp = reply.ep.id
	}
	return sg.c.tc.SendAligned(sg.ep.id, msg, rlabel, replyEp)
}

// Call sends the message and blocks for the reply on the reply gate.
// The wait fails with EPInvalid when the send gate is revoked while
// the reply is outstanding.
func (sg *SGate) Call(msg []byte, reply *RGate) (*tcu.Message, error) {
	err := sg.Send(msg, reply)
	if err != nil {
		return nil, err
	}
	return reply.Receive(sg)
}

// Credits returns the current credit count of the gate.
func (sg *SGate) Credits() (uint32, error) {
	err := sg.activate(0)
	if err != nil {
		return 0, err
	}
	return sg.c.tc.Credits(sg.ep.id)
}

// Release deactivates the gate and drops its capability.
func (sg *SGate) Release() {
	sg.release()
}
