package rsyncwire

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Conn bundles the raw byte-level read/write operations this server needs
// before (and alongside) multiplexing: single bytes, fixed-width
// little-endian integers, rsync's variable-length integers, NUL-terminated
// strings (the handshake's argv block), and newline-terminated lines
// (the daemon greeting).
//
// Reads and writes start out raw. Once StartMux is called, writes are
// framed through a MultiplexWriter and reads are transparently
// demultiplexed: callers never need to know which phase they are in.
type Conn struct {
	rd *bufio.Reader
	wr io.Writer
	mw *MultiplexWriter
}

// NewConn wraps r and w. r is buffered internally; callers must not read
// from the original r directly once wrapped.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{rd: bufio.NewReader(r), wr: w}
}

// StartMux switches the connection into mux-framed mode for both
// directions, as rsync protocol 30 does immediately after the checksum
// seed is sent. onError receives out-of-band MSG_ERROR payloads from the
// peer; it may be nil.
func (c *Conn) StartMux(onError func(string)) {
	c.mw = NewMultiplexWriter(c.wr)
	c.rd = bufio.NewReader(NewMultiplexReader(c.rd, onError))
}

// MultiplexWriter returns the active mux writer, or nil before StartMux
// has been called. The sender uses this to emit MsgError frames directly.
func (c *Conn) MultiplexWriter() *MultiplexWriter {
	return c.mw
}

func (c *Conn) rawWrite(p []byte) (int, error) {
	if c.mw != nil {
		return c.mw.Write(p)
	}
	return c.wr.Write(p)
}

// ReadByte reads a single byte, matching the `func() (byte, error)` shape
// the VarInt/VarLong decoders expect.
func (c *Conn) ReadByte() (byte, error) {
	return c.rd.ReadByte()
}

// ReadN reads exactly n bytes.
func (c *Conn) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rd, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadInt32 reads a 4-byte little-endian signed integer, as used for the
// pre-multiplexing checksum seed and other legacy fixed-width fields.
func (c *Conn) ReadInt32() (int32, error) {
	b, err := c.ReadN(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// ReadLine reads up to and including the next '\n', mirroring the
// handshake's line-oriented greeting exchange.
func (c *Conn) ReadLine() (string, error) {
	return c.rd.ReadString('\n')
}

// ReadNulString reads bytes up to (and discarding) the next NUL byte, as
// used for each argv entry in the handshake's argument block.
func (c *Conn) ReadNulString() (string, error) {
	s, err := c.rd.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}

// ReadVarint reads an rsync self-describing 32-bit varint.
func (c *Conn) ReadVarint() (uint32, error) {
	return DecodeVarint(c.ReadByte)
}

// ReadVarlong reads an rsync self-describing 64-bit varint with the given
// minimum byte width.
func (c *Conn) ReadVarlong(minBytes int) (uint64, error) {
	return DecodeVarlong(minBytes, c.ReadByte)
}

// WriteByte writes a single byte.
func (c *Conn) WriteByte(b byte) error {
	_, err := c.rawWrite([]byte{b})
	return err
}

// Write writes p in full.
func (c *Conn) Write(p []byte) (int, error) {
	return c.rawWrite(p)
}

// WriteInt32 writes a 4-byte little-endian signed integer.
func (c *Conn) WriteInt32(v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	_, err := c.rawWrite(b[:])
	return err
}

// WriteLine writes s followed by '\n'.
func (c *Conn) WriteLine(s string) error {
	_, err := c.rawWrite([]byte(s + "\n"))
	return err
}

// WriteNulString writes s followed by a NUL byte.
func (c *Conn) WriteNulString(s string) error {
	if _, err := c.rawWrite([]byte(s)); err != nil {
		return err
	}
	return c.WriteByte(0)
}

// WriteVarint writes v as an rsync self-describing 32-bit varint.
func (c *Conn) WriteVarint(v uint32) error {
	_, err := c.rawWrite(EncodeVarint(v))
	return err
}

// WriteVarlong writes v as an rsync self-describing 64-bit varint with the
// given minimum byte width.
func (c *Conn) WriteVarlong(v uint64, minBytes int) error {
	_, err := c.rawWrite(EncodeVarlong(v, minBytes))
	return err
}
