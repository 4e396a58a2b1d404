package zklogin

import (
	"bytes"
	"encoding/binary"
)

// bcsWriter is a minimal BCS encoder covering the types used by the zkLogin
// signature: u8, u64, strings, byte vectors and string vectors.
type bcsWriter struct {
	buf bytes.Buffer
}

func (w *bcsWriter) uleb128(n uint64) {
	for n >= 0x80 {
		w.buf.WriteByte(byte(n) | 0x80)
		n >>= 7
	}
	w.buf.WriteByte(byte(n))
}

func (w *bcsWriter) u8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *bcsWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *bcsWriter) bytes(b []byte) {
	w.uleb128(uint64(len(b)))
	w.buf.Write(b)
}

func (w *bcsWriter) str(s string) {
	w.bytes([]byte(s))
}

func (w *bcsWriter) strs(ss []string) {
	w.uleb128(uint64(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

func (w *bcsWriter) Bytes() []byte {
	return w.buf.Bytes()
}
