// Package io implements the compact binary codec used for
// EncodeBinary/DecodeBinary pairs across the consensus payloads and
// block headers. It intentionally covers only what those types need;
// general-purpose wire framing (the "extensible payload" envelope) is
// an external collaborator and is not reimplemented here.
package io

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Serializable is implemented by anything with a binary encoding.
type Serializable interface {
	EncodeBinary(w *BinWriter)
	DecodeBinary(r *BinReader)
}

// BinWriter writes primitives in little-endian order, sticking the
// first error it encounters so callers can check it once at the end.
type BinWriter struct {
	w   *bufio.Writer
	Err error
}

// NewBinWriterFromIO wraps an io.Writer.
func NewBinWriterFromIO(iow io.Writer) *BinWriter {
	return &BinWriter{w: bufio.NewWriter(iow)}
}

func (w *BinWriter) WriteBytes(b []byte) {
	if w.Err != nil {
		return
	}
	_, w.Err = w.w.Write(b)
}

func (w *BinWriter) WriteBool(b bool) {
	var v byte
	if b {
		v = 1
	}
	w.WriteBytes([]byte{v})
}

func (w *BinWriter) WriteU32LE(u uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], u)
	w.WriteBytes(buf[:])
}

func (w *BinWriter) WriteU64LE(u uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], u)
	w.WriteBytes(buf[:])
}

func (w *BinWriter) WriteB(b byte) {
	w.WriteBytes([]byte{b})
}

// WriteVarUint writes u in Bitcoin-style variable-length encoding.
func (w *BinWriter) WriteVarUint(u uint64) {
	switch {
	case u < 0xfd:
		w.WriteB(byte(u))
	case u <= 0xffff:
		w.WriteB(0xfd)
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(u))
		w.WriteBytes(buf[:])
	case u <= 0xffffffff:
		w.WriteB(0xfe)
		w.WriteU32LE(uint32(u))
	default:
		w.WriteB(0xff)
		w.WriteU64LE(u)
	}
}

// WriteVarBytes writes b prefixed by its variable-length size.
func (w *BinWriter) WriteVarBytes(b []byte) {
	w.WriteVarUint(uint64(len(b)))
	w.WriteBytes(b)
}

// WriteArray writes a slice of Serializable items.
func WriteArray[T Serializable](w *BinWriter, arr []T) {
	w.WriteVarUint(uint64(len(arr)))
	for _, item := range arr {
		item.EncodeBinary(w)
	}
}

func (w *BinWriter) Flush() {
	if w.Err != nil {
		return
	}
	w.Err = w.w.Flush()
}

// BinReader is the mirror image of BinWriter.
type BinReader struct {
	r   io.Reader
	Err error
}

func NewBinReaderFromIO(ior io.Reader) *BinReader {
	return &BinReader{r: ior}
}

func (r *BinReader) ReadBytes(b []byte) {
	if r.Err != nil {
		return
	}
	_, r.Err = io.ReadFull(r.r, b)
}

func (r *BinReader) ReadBool() bool {
	var buf [1]byte
	r.ReadBytes(buf[:])
	return buf[0] != 0
}

func (r *BinReader) ReadB() byte {
	var buf [1]byte
	r.ReadBytes(buf[:])
	return buf[0]
}

func (r *BinReader) ReadU32LE() uint32 {
	var buf [4]byte
	r.ReadBytes(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

func (r *BinReader) ReadU64LE() uint64 {
	var buf [8]byte
	r.ReadBytes(buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

func (r *BinReader) ReadVarUint() uint64 {
	b := r.ReadB()

	switch b {
	case 0xfd:
		var buf [2]byte
		r.ReadBytes(buf[:])
		return uint64(binary.LittleEndian.Uint16(buf[:]))
	case 0xfe:
		return uint64(r.ReadU32LE())
	case 0xff:
		return r.ReadU64LE()
	default:
		return uint64(b)
	}
}

func (r *BinReader) ReadVarBytes() []byte {
	n := r.ReadVarUint()
	if r.Err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	r.ReadBytes(b)
	return b
}

// GetVarSize returns the encoded size of a single Serializable value.
func GetVarSize(s Serializable) int {
	cw := &countingWriter{}
	bw := &BinWriter{w: bufio.NewWriter(cw)}
	s.EncodeBinary(bw)
	bw.Flush()
	return cw.n
}

type countingWriter struct{ n int }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += len(p)
	return len(p), nil
}
