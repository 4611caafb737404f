package rsyncwire

import "io"

// CountingReader wraps an io.Reader and tracks the number of bytes read
// through it, so per-connection transfer totals can be reported.
type CountingReader struct {
	R         io.Reader
	BytesRead int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.BytesRead += int64(n)
	return n, err
}

// CountingWriter wraps an io.Writer and tracks the number of bytes
// written through it.
type CountingWriter struct {
	W            io.Writer
	BytesWritten int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.BytesWritten += int64(n)
	return n, err
}

// CounterPair bundles the read/write counters for one connection. The
// tail sequence's statistics block is currently sent as all zeros, so
// these totals only feed logging and metrics.
type CounterPair struct {
	Reader *CountingReader
	Writer *CountingWriter
}

// TotalRead returns the number of raw bytes read off the wire so far.
func (c *CounterPair) TotalRead() int64 {
	if c.Reader == nil {
		return 0
	}
	return c.Reader.BytesRead
}

// TotalWritten returns the number of raw bytes written to the wire so far.
func (c *CounterPair) TotalWritten() int64 {
	if c.Writer == nil {
		return 0
	}
	return c.Writer.BytesWritten
}
