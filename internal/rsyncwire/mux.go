package rsyncwire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gokrazy/pulprsyncd/rsync"
)

// MultiplexWriter frames every write as a 3-byte little-endian length plus
// a 1-byte tag, the shape rsync protocol 30 uses so that out-of-band
// error messages can be interleaved with file data on a single stream.
// It implements io.Writer by sending MsgData frames, chunked to
// rsync.MaxFileChunk bytes.
type MultiplexWriter struct {
	w io.Writer
}

// NewMultiplexWriter wraps w.
func NewMultiplexWriter(w io.Writer) *MultiplexWriter {
	return &MultiplexWriter{w: w}
}

// WriteMsg sends payload as a single frame tagged tag, rejecting payloads
// over rsync.MaxFrameLen. Write is the path for MsgData of any length: it
// splits the data into frames of at most rsync.MaxFileChunk bytes.
func (m *MultiplexWriter) WriteMsg(tag byte, payload []byte) error {
	if len(payload) > rsync.MaxFrameLen {
		return fmt.Errorf("rsyncwire: mux payload too large: %d bytes", len(payload))
	}
	var hdr [4]byte
	hdr[0] = byte(len(payload))
	hdr[1] = byte(len(payload) >> 8)
	hdr[2] = byte(len(payload) >> 16)
	hdr[3] = tag
	if _, err := m.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := m.w.Write(payload)
	return err
}

// Write implements io.Writer, sending p as one or more MsgData frames.
func (m *MultiplexWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > rsync.MaxFileChunk {
			n = rsync.MaxFileChunk
		}
		if err := m.WriteMsg(rsync.MsgData, p[:n]); err != nil {
			return total, err
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

// WriteError sends s as a MsgError frame: the client prints it but the
// transfer continues.
func (m *MultiplexWriter) WriteError(s string) error {
	return m.WriteMsg(rsync.MsgError, []byte(s))
}

// MultiplexReader demultiplexes a mux-framed stream, exposing only
// MsgData payloads through Read. MsgError frames are handed
// to onError and otherwise ignored; a MsgErrorExit frame is reported as a
// read error, matching the reference client's handling of that tag.
type MultiplexReader struct {
	r       io.Reader
	onError func(string)
	buf     bytes.Buffer
}

// NewMultiplexReader wraps r. onError may be nil.
func NewMultiplexReader(r io.Reader, onError func(string)) *MultiplexReader {
	return &MultiplexReader{r: r, onError: onError}
}

func (m *MultiplexReader) fill() error {
	var hdr [4]byte
	if _, err := io.ReadFull(m.r, hdr[:]); err != nil {
		return err
	}
	size := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
	tag := hdr[3]
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(m.r, payload); err != nil {
			return err
		}
	}
	switch tag {
	case rsync.MsgData:
		m.buf.Write(payload)
		return nil
	case rsync.MsgErrorExit:
		return fmt.Errorf("rsyncwire: peer sent MSG_ERROR_EXIT: %s", payload)
	default:
		if m.onError != nil {
			m.onError(string(payload))
		}
		return nil
	}
}

// Read implements io.Reader, blocking until at least one MsgData frame
// has been demultiplexed.
func (m *MultiplexReader) Read(p []byte) (int, error) {
	for m.buf.Len() == 0 {
		if err := m.fill(); err != nil {
			return 0, err
		}
	}
	return m.buf.Read(p)
}
