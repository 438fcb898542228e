//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package kernel

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/markkurossi/mpc/p2p"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/markkurossi/tilert/tcu"
)

// NoC frame kinds.
const (
	nocSend uint64 = iota + 1
	nocAck
	nocCredit
)

// nocTimeout bounds how long a sender waits for the remote
// acknowledgement before the fabric reports a NoC timeout.
const nocTimeout = 5 * time.Second

// Link connects two systems into one fabric. Frames are sealed with
// ChaCha20-Poly1305; the sender's nonce travels in front of the
// ciphertext. Messages to remote tiles are acknowledged so the
// sending endpoint sees the same error codes as for local delivery.
type Link struct {
	sys   *System
	conn  *p2p.Conn
	aead  cipher.AEAD
	wm    sync.Mutex
	seq   uint64
	nonce uint64
	am    sync.Mutex
	acks  map[uint64]chan tcu.Code
	done  chan struct{}
}

// NewLink attaches a NoC link to the system. The tiles argument names
// the remote tiles reachable over the link; the frame sealing key is
// derived from the fabric secret, shared by both ends.
func (sys *System) NewLink(conn *p2p.Conn, secret []byte,
	tiles []tcu.TileID) (*Link, error) {

	kdf := hkdf.New(sha256.New, secret, nil, []byte("noc link v1"))
	var key [chacha20poly1305.KeySize]byte
	_, err := io.ReadFull(kdf, key[:])
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	link := &Link{
		sys:  sys,
		conn: conn,
		aead: aead,
		acks: make(map[uint64]chan tcu.Code),
		done: make(chan struct{}),
	}

	sys.m.Lock()
	sys.links = append(sys.links, link)
	for _, tile := range tiles {
		sys.route[tile] = link
	}
	sys.m.Unlock()

	go link.reader()
	return link, nil
}

// Close shuts the link down. Pending senders get a NoC timeout.
func (link *Link) Close() error {
	select {
	case <-link.done:
		return nil
	default:
	}
	return link.conn.Close()
}

// sendFrame seals and writes one frame.
func (link *Link) sendFrame(frame []byte) error {
	link.wm.Lock()
	defer link.wm.Unlock()

	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:], link.nonce)
	link.nonce++

	buf := make([]byte, 0, len(nonce)+len(frame)+link.aead.Overhead())
	buf = append(buf, nonce[:]...)
	buf = link.aead.Seal(buf, nonce[:], frame, nil)

	err := link.conn.SendData(buf)
	if err != nil {
		return err
	}
	return link.conn.Flush()
}

// deliver sends a message frame and waits for the remote
// acknowledgement.
func (link *Link) deliver(tile tcu.TileID, ep tcu.EpID, hdr tcu.Header,
	data []byte, orig origin) error {

	link.am.Lock()
	seq := link.seq
	link.seq++
	ch := make(chan tcu.Code, 1)
	link.acks[seq] = ch
	link.am.Unlock()

	var hdrBuf [tcu.HeaderSize]byte
	tcu.PutHeader(hdrBuf[:], &hdr)

	bounded := uint64(0)
	if orig.bounded {
		bounded = 1
	}
	sink := tcu.NewSink(make([]byte, 0, 64+len(data)))
	sink.PutU64(nocSend)
	sink.PutU64(seq)
	sink.PutU64(uint64(tile))
	sink.PutU64(uint64(ep))
	sink.PutU64(uint64(orig.tile))
	sink.PutU64(uint64(orig.ep))
	sink.PutU64(bounded)
	sink.PutBytes(hdrBuf[:])
	sink.PutBytes(data)

	err := link.sendFrame(sink.Bytes())
	if err != nil {
		link.dropAck(seq)
		return tcu.TimeoutNoC
	}

	timer := time.NewTimer(nocTimeout)
	defer timer.Stop()

	select {
	case code := <-ch:
		return code.ToError()
	case <-link.done:
		return tcu.TimeoutNoC
	case <-timer.C:
		link.dropAck(seq)
		return tcu.TimeoutNoC
	}
}

// credit sends a credit-return frame for a message that originated on
// the remote end.
func (link *Link) credit(orig origin) {
	sink := tcu.NewSink(make([]byte, 0, 24))
	sink.PutU64(nocCredit)
	sink.PutU64(uint64(orig.tile))
	sink.PutU64(uint64(orig.ep))
	link.sendFrame(sink.Bytes())
}

func (link *Link) dropAck(seq uint64) {
	link.am.Lock()
	delete(link.acks, seq)
	link.am.Unlock()
}

// reader is the link's receive loop.
func (link *Link) reader() {
	defer close(link.done)

	for {
		buf, err := link.conn.ReceiveData()
		if err != nil {
			return
		}
		if len(buf) < chacha20poly1305.NonceSize {
			return
		}
		frame, err := link.aead.Open(nil,
			buf[:chacha20poly1305.NonceSize],
			buf[chacha20poly1305.NonceSize:], nil)
		if err != nil {
			return
		}
		src := tcu.NewSource(frame)
		kind, err := src.U64()
		if err != nil {
			return
		}
		switch kind {
		case nocSend:
			link.handleSend(src)

		case nocAck:
			seq, err := src.U64()
			if err != nil {
				return
			}
			code, err := src.U64()
			if err != nil {
				return
			}
			link.am.Lock()
			ch, ok := link.acks[seq]
			if ok {
				delete(link.acks, seq)
			}
			link.am.Unlock()
			if ok {
				ch <- tcu.Code(code)
			}

		case nocCredit:
			tile, err := src.U64()
			if err != nil {
				return
			}
			ep, err := src.U64()
			if err != nil {
				return
			}
			link.sys.applyCredit(origin{
				tile:    tcu.TileID(tile),
				ep:      tcu.EpID(ep),
				bounded: true,
			})

		default:
			return
		}
	}
}

// handleSend delivers an incoming message frame to the local tile and
// acknowledges it with the delivery code.
func (link *Link) handleSend(src *tcu.Source) {
	seq, err := src.U64()
	if err != nil {
		return
	}
	tile, err := src.U64()
	if err != nil {
		return
	}
	ep, err := src.U64()
	if err != nil {
		return
	}
	origTile, err := src.U64()
	if err != nil {
		return
	}
	origEp, err := src.U64()
	if err != nil {
		return
	}
	bounded, err := src.U64()
	if err != nil {
		return
	}
	hdrBuf, err := src.ReadBytes()
	if err != nil || len(hdrBuf) != tcu.HeaderSize {
		return
	}
	data, err := src.ReadBytes()
	if err != nil {
		return
	}
	hdr := tcu.ParseHeader(hdrBuf)

	var code tcu.Code
	unit := link.sys.unit(tcu.TileID(tile))
	if unit == nil {
		code = tcu.TimeoutNoC
	} else {
		err = unit.deliver(tcu.EpID(ep), hdr, data, origin{
			tile:    tcu.TileID(origTile),
			ep:      tcu.EpID(origEp),
			bounded: bounded != 0,
		})
		code = tcu.ErrorCode(err)
	}

	sink := tcu.NewSink(make([]byte, 0, 24))
	sink.PutU64(nocAck)
	sink.PutU64(seq)
	sink.PutU64(uint64(code))
	link.sendFrame(sink.Bytes())
}

// deliverRemote routes a message over the NoC link serving the target
// tile.
func (sys *System) deliverRemote(tile tcu.TileID, ep tcu.EpID,
	hdr tcu.Header, data []byte, orig origin) error {

	sys.m.Lock()
	link := sys.route[tile]
	sys.m.Unlock()
	if link == nil {
		return tcu.TimeoutNoC
	}
	return link.deliver(tile, ep, hdr, data, orig)
}

// creditRemote returns a credit to a remote origin endpoint.
func (sys *System) creditRemote(orig origin) {
	sys.m.Lock()
	link := sys.route[orig.tile]
	sys.m.Unlock()
	if link == nil {
		return
	}
	link.credit(orig)
}

// applyCredit restores one credit on a local origin endpoint.
func (sys *System) applyCredit(orig origin) {
	unit := sys.unit(orig.tile)
	if unit == nil {
		return
	}
	unit.m.Lock()
	defer unit.m.Unlock()

	s := unit.ep(orig.ep)
	if s != nil && s.kind == epSend && s.credits < s.maxCredits {
		s.credits++
		unit.wakeup()
	}
}
