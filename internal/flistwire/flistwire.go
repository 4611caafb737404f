// Package flistwire serializes flist.Entry values onto the wire in the
// exact byte layout rsync protocol 30 expects.
package flistwire

import (
	"encoding/binary"
	"fmt"

	"github.com/gokrazy/pulprsyncd/internal/flist"
	"github.com/gokrazy/pulprsyncd/internal/rsyncwire"
)

// WriteEntry writes a single file-list entry: a 2-byte little-endian flag
// word, a 1-byte name length, the name itself, size and mtime as
// varlongs, mtime-nanoseconds as a varint, and a 4-byte little-endian
// mode.
func WriteEntry(c *rsyncwire.Conn, e flist.Entry) error {
	var flagsBuf [2]byte
	binary.LittleEndian.PutUint16(flagsBuf[:], e.Flags())
	if _, err := c.Write(flagsBuf[:]); err != nil {
		return err
	}

	name := []byte(e.Name)
	if len(name) > 255 {
		return fmt.Errorf("flistwire: entry name %q is %d bytes, exceeds the 255-byte wire limit", e.Name, len(name))
	}
	if err := c.WriteByte(byte(len(name))); err != nil {
		return err
	}
	if _, err := c.Write(name); err != nil {
		return err
	}

	if err := c.WriteVarlong(e.Size(), 3); err != nil {
		return err
	}

	mtime := e.MTime()
	if err := c.WriteVarlong(uint64(mtime.Unix()), 4); err != nil {
		return err
	}
	if err := c.WriteVarint(uint32(mtime.Nanosecond())); err != nil {
		return err
	}

	var modeBuf [4]byte
	binary.LittleEndian.PutUint32(modeBuf[:], e.Mode())
	_, err := c.Write(modeBuf[:])
	return err
}

// WriteTerminator writes the single zero byte that ends the file list.
// Callers must write it even when synthesis reported an error partway
// through, so the client doesn't hang waiting for more entries.
func WriteTerminator(c *rsyncwire.Conn) error {
	return c.WriteByte(0)
}

// WriteAll writes every entry followed by the terminator.
func WriteAll(c *rsyncwire.Conn, entries []flist.Entry) error {
	for _, e := range entries {
		if err := WriteEntry(c, e); err != nil {
			return err
		}
	}
	return WriteTerminator(c)
}
