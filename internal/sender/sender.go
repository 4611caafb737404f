// Package sender implements the block-transfer phase of the rsync
// protocol and the tail sequence that follows it. This daemon never
// computes or stores rolling block checksums, so every requested file is
// resent in full: the client's checksum list is read and discarded, and
// the response carries one literal-data run terminated by the backend's
// precomputed MD5.
package sender

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gokrazy/pulprsyncd/internal/flist"
	"github.com/gokrazy/pulprsyncd/internal/log"
	"github.com/gokrazy/pulprsyncd/internal/rsyncwire"
	"github.com/gokrazy/pulprsyncd/rsync"
)

// ErrNegativeIndex is returned (and reported to the client as a
// multiplexed error) when the client sends the unsupported 0xff negative
// index marker.
var ErrNegativeIndex = errors.New("sender: negative indexes are not supported")

// Transfer runs the block-transfer phase and tail sequence for one
// connection against a previously synthesized, sorted file list.
type Transfer struct {
	Conn    *rsyncwire.Conn
	Entries []flist.Entry
	Logger  log.Logger
}

// indexDecoder tracks the running index state the client's per-record
// encoding is relative to.
type indexDecoder struct {
	findex int
}

func newIndexDecoder() *indexDecoder {
	return &indexDecoder{findex: -1}
}

// next reads one index record. done is true once the client's zero-byte
// phase-1 terminator has been seen, at which point prefix/index are
// meaningless.
func (d *indexDecoder) next(c *rsyncwire.Conn) (prefix []byte, index int, done bool, err error) {
	b0, err := c.ReadByte()
	if err != nil {
		return nil, 0, false, err
	}
	if b0 == 0x00 {
		return nil, 0, true, nil
	}
	if b0 == 0xff {
		return nil, 0, false, ErrNegativeIndex
	}

	if b0 <= 0xfd {
		d.findex += int(b0)
		return []byte{b0}, d.findex, false, nil
	}

	// b0 == 0xfe: two or four more bytes follow.
	b1, err := c.ReadByte()
	if err != nil {
		return nil, 0, false, err
	}
	b2, err := c.ReadByte()
	if err != nil {
		return nil, 0, false, err
	}
	prefix = []byte{b0, b1, b2}

	if b1&0x80 != 0 {
		b3, err := c.ReadByte()
		if err != nil {
			return nil, 0, false, err
		}
		b4, err := c.ReadByte()
		if err != nil {
			return nil, 0, false, err
		}
		prefix = append(prefix, b3, b4)
		d.findex = int(uint32(b2) | uint32(b3)<<8 | uint32(b4)<<16 | uint32(b1&0x7f)<<24)
	} else {
		d.findex += (int(b1) << 8) | int(b2)
	}
	return prefix, d.findex, false, nil
}

func readUint16(c *rsyncwire.Conn) (uint16, error) {
	b, err := c.ReadN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func writeUint16(c *rsyncwire.Conn, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := c.Write(b[:])
	return err
}

func readUint32(c *rsyncwire.Conn) (uint32, error) {
	b, err := c.ReadN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func writeUint32(c *rsyncwire.Conn, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := c.Write(b[:])
	return err
}

// sumHeader is the client's per-file checksum header; its fields are echoed
// back unchanged in the file response, while the checksum list it
// describes is read and discarded, since this daemon never performs delta
// transfer.
type sumHeader struct {
	count, blength, s2length, remainder uint32
}

func readSumHeader(c *rsyncwire.Conn) (sumHeader, error) {
	var h sumHeader
	var err error
	if h.count, err = readUint32(c); err != nil {
		return h, err
	}
	if h.blength, err = readUint32(c); err != nil {
		return h, err
	}
	if h.s2length, err = readUint32(c); err != nil {
		return h, err
	}
	if h.remainder, err = readUint32(c); err != nil {
		return h, err
	}
	return h, nil
}

func (h sumHeader) checksumListBytes() int {
	return int(h.count) * (4 + int(h.s2length))
}

func writeSumHeader(c *rsyncwire.Conn, h sumHeader) error {
	for _, v := range []uint32{h.count, h.blength, h.s2length, h.remainder} {
		if err := writeUint32(c, v); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the block-transfer phase over t.Conn until the client's
// phase-1 terminator; callers follow up with Tail.
func (t *Transfer) Run() error {
	dec := newIndexDecoder()

	for {
		prefix, index, done, err := dec.next(t.Conn)
		if err != nil {
			if errors.Is(err, ErrNegativeIndex) {
				t.reportError(err.Error())
			}
			return err
		}
		if done {
			break
		}

		flags, err := readUint16(t.Conn)
		if err != nil {
			return err
		}

		if index < 0 || index >= len(t.Entries) {
			return fmt.Errorf("sender: invalid file index %d (flist has %d entries)", index, len(t.Entries))
		}
		entry := t.Entries[index]

		if entry.IsDir() {
			if _, err := t.Conn.Write(prefix); err != nil {
				return err
			}
			if err := writeUint16(t.Conn, flags); err != nil {
				return err
			}
			continue
		}

		sum, err := readSumHeader(t.Conn)
		if err != nil {
			return err
		}
		if n := sum.checksumListBytes(); n > 0 {
			if _, err := t.Conn.ReadN(n); err != nil {
				return err
			}
		}

		if err := t.sendFile(prefix, flags, sum, entry); err != nil {
			return err
		}
	}

	return t.Conn.WriteByte(0)
}

// sendFile streams one file in full: the echoed header, the file's bytes
// in chunks of at most rsync.MaxFileChunk, the literal-run terminator
// token, and the MD5 trailer.
func (t *Transfer) sendFile(prefix []byte, flags uint16, sum sumHeader, entry flist.Entry) error {
	if _, err := t.Conn.Write(prefix); err != nil {
		return err
	}
	if err := writeUint16(t.Conn, flags); err != nil {
		return err
	}
	if err := writeSumHeader(t.Conn, sum); err != nil {
		return err
	}
	if err := writeUint32(t.Conn, uint32(entry.File.Artifact.Size())); err != nil {
		return err
	}

	rc, err := entry.File.Artifact.Open()
	if err != nil {
		return fmt.Errorf("sender: opening %q: %w", entry.Name, err)
	}
	defer rc.Close()

	buf := make([]byte, rsync.MaxFileChunk)
	for {
		n, rerr := io.ReadFull(rc, buf)
		if n > 0 {
			if _, werr := t.Conn.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("sender: reading %q: %w", entry.Name, rerr)
		}
	}

	// Token: zero-length literal run terminator, then the MD5 trailer.
	if err := writeUint32(t.Conn, 0); err != nil {
		return err
	}
	md5 := entry.File.Artifact.MD5()
	_, err = t.Conn.Write(md5[:])
	return err
}

// Tail runs the tail sequence: phase 2, end-of-transfer, the all-zero
// statistics block, and the farewell. Phase 2, end-of-transfer and the
// farewell each answer a NUL byte read from the client; the statistics
// block follows end-of-transfer without a read of its own.
func (t *Transfer) Tail() error {
	for _, step := range []string{"phase 2", "end-of-transfer"} {
		b, err := t.Conn.ReadByte()
		if err != nil {
			return fmt.Errorf("sender: reading %s marker: %w", step, err)
		}
		if b != 0x00 {
			return fmt.Errorf("sender: expected NUL for %s, got %#x", step, b)
		}
		if err := t.Conn.WriteByte(0); err != nil {
			return err
		}
	}

	// Statistics: five zero-valued varlongs of minimum width 3, three zero
	// bytes each.
	if _, err := t.Conn.Write(make([]byte, 15)); err != nil {
		return err
	}

	b, err := t.Conn.ReadByte()
	if err != nil {
		return fmt.Errorf("sender: reading farewell marker: %w", err)
	}
	if b != 0x00 {
		return fmt.Errorf("sender: expected NUL for farewell, got %#x", b)
	}
	return t.Conn.WriteByte(0)
}

func (t *Transfer) reportError(msg string) {
	if t.Conn.MultiplexWriter() != nil {
		_ = t.Conn.MultiplexWriter().WriteError(msg + "\n")
		return
	}
	if t.Logger != nil {
		t.Logger.Printf("%s", msg)
	}
}
