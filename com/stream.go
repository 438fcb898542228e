//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package com

import (
	"github.com/markkurossi/tilert/tcu"
)

// OStream marshals an outgoing message.
type OStream struct {
	*tcu.Sink
}

// NewOStream creates an empty output stream.
func NewOStream() *OStream {
	return &OStream{
		Sink: tcu.NewSink(nil),
	}
}

// IStream unmarshals a received message and replies to it.
type IStream struct {
	*tcu.Source
	rg  *RGate
	msg *tcu.Message
}

// NewIStream creates an input stream over the message.
func NewIStream(rg *RGate, msg *tcu.Message) *IStream {
	return &IStream{
		Source: tcu.NewSource(msg.Data),
		rg:     rg,
		msg:    msg,
	}
}

// Msg returns the underlying message.
func (is *IStream) Msg() *tcu.Message {
	return is.msg
}

// Label returns the label of the sender's gate.
func (is *IStream) Label() tcu.Label {
	return is.msg.Header.Label
}

// Reply sends the marshalled reply and releases the message slot.
func (is *IStream) Reply(os *OStream) error {
	return is.rg.Reply(os.Bytes(), is.msg)
}

// ReplyError replies with a bare error word.
func (is *IStream) ReplyError(code tcu.Code) error {
	os := NewOStream()
	os.PutU64(uint64(code))
	return is.Reply(os)
}

// Ack releases the message slot without replying.
func (is *IStream) Ack() error {
	return is.rg.Ack(is.msg)
}
