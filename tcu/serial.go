//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package tcu

// Sink marshals values into a 64-bit word stream. All values occupy
// whole words; strings and byte blobs are stored as a length word
// followed by the packed bytes padded to the word size.
type Sink struct {
	buf []byte
}

// NewSink creates a sink marshalling into buf. The buffer is used up
// to its capacity.
func NewSink(buf []byte) *Sink {
	return &Sink{
		buf: buf[:0],
	}
}

// Bytes returns the marshalled bytes.
func (s *Sink) Bytes() []byte {
	return s.buf
}

// Size returns the size of the marshalled data in bytes.
func (s *Sink) Size() int {
	return len(s.buf)
}

// PutU64 appends a 64-bit word.
func (s *Sink) PutU64(v uint64) {
	var w [8]byte
	bo.PutUint64(w[:], v)
	s.buf = append(s.buf, w[:]...)
}

// PutI64 appends a signed 64-bit word.
func (s *Sink) PutI64(v int64) {
	s.PutU64(uint64(v))
}

// PutStr appends a string as a length word and padded bytes.
func (s *Sink) PutStr(v string) {
	s.PutU64(uint64(len(v)))
	s.buf = append(s.buf, v...)
	for len(s.buf)%8 != 0 {
		s.buf = append(s.buf, 0)
	}
}

// PutBytes appends a byte blob as a length word and padded bytes.
func (s *Sink) PutBytes(v []byte) {
	s.PutU64(uint64(len(v)))
	s.buf = append(s.buf, v...)
	for len(s.buf)%8 != 0 {
		s.buf = append(s.buf, 0)
	}
}

// Source unmarshals values from a 64-bit word stream.
type Source struct {
	buf []byte
	ofs int
}

// NewSource creates a source unmarshalling from buf.
func NewSource(buf []byte) *Source {
	return &Source{
		buf: buf,
	}
}

// Remaining returns the number of bytes left in the source.
func (s *Source) Remaining() int {
	return len(s.buf) - s.ofs
}

// U64 reads the next 64-bit word.
func (s *Source) U64() (uint64, error) {
	if s.ofs+8 > len(s.buf) {
		return 0, InvArgs
	}
	v := bo.Uint64(s.buf[s.ofs:])
	s.ofs += 8
	return v, nil
}

// I64 reads the next signed 64-bit word.
func (s *Source) I64() (int64, error) {
	v, err := s.U64()
	return int64(v), err
}

// Str reads a length word and the packed string bytes.
func (s *Source) Str() (string, error) {
	b, err := s.ReadBytes()
	return string(b), err
}

// ReadBytes reads a length word and the packed blob bytes.
func (s *Source) ReadBytes() ([]byte, error) {
	n, err := s.U64()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(s.buf)-s.ofs) {
		return nil, InvArgs
	}
	b := s.buf[s.ofs : s.ofs+int(n)]
	s.ofs += int(n)
	for s.ofs%8 != 0 && s.ofs < len(s.buf) {
		s.ofs++
	}
	return b, nil
}
