package sender

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gokrazy/pulprsyncd/internal/contentstore/memorystore"
	"github.com/gokrazy/pulprsyncd/internal/flist"
	"github.com/gokrazy/pulprsyncd/internal/rsyncwire"
)

func connFromBytes(input []byte, out *bytes.Buffer) *rsyncwire.Conn {
	return rsyncwire.NewConn(bytes.NewReader(input), out)
}

// TestIndexDecoder feeds the decoder encoded byte sequences and checks
// the running index it reconstructs, including the two-byte and
// four-byte 0xfe forms.
func TestIndexDecoder(t *testing.T) {
	var out bytes.Buffer
	input := []byte{
		0x01, // -1 + 1 = 0
		0x05, // 0 + 5 = 5
		0xfd, // 5 + 253 = 258
		0xfe, 0x01, 0x02, // delta (0x01<<8)|0x02 = 258 -> 516
		0xfe, 0x80, 0x07, 0x00, 0x00, // absolute 7
		0x00, // terminator
	}
	c := connFromBytes(input, &out)
	d := newIndexDecoder()

	want := []int{0, 5, 258, 516, 7}
	for i, w := range want {
		prefix, index, done, err := d.next(c)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if done {
			t.Fatalf("record %d: unexpected terminator", i)
		}
		if index != w {
			t.Errorf("record %d: index = %d, want %d", i, index, w)
		}
		if len(prefix) == 0 {
			t.Errorf("record %d: empty prefix", i)
		}
	}

	_, _, done, err := d.next(c)
	if err != nil {
		t.Fatalf("terminator: %v", err)
	}
	if !done {
		t.Fatal("expected terminator after the last index record")
	}
}

func TestIndexDecoderHighAbsolute(t *testing.T) {
	var out bytes.Buffer
	// Absolute form with all four bytes significant:
	// b2 b3 b4 (b1 & 0x7f) little-endian.
	input := []byte{0xfe, 0x81, 0x04, 0x03, 0x02}
	c := connFromBytes(input, &out)
	d := newIndexDecoder()

	_, index, _, err := d.next(c)
	if err != nil {
		t.Fatal(err)
	}
	want := int(uint32(0x04) | uint32(0x03)<<8 | uint32(0x02)<<16 | uint32(0x01)<<24)
	if index != want {
		t.Errorf("index = %#x, want %#x", index, want)
	}
}

func TestIndexDecoderNegativeIndex(t *testing.T) {
	var out bytes.Buffer
	c := connFromBytes([]byte{0xff}, &out)
	d := newIndexDecoder()

	if _, _, _, err := d.next(c); !errors.Is(err, ErrNegativeIndex) {
		t.Fatalf("err = %v, want ErrNegativeIndex", err)
	}
}

func buildEntries(t *testing.T, content []byte) []flist.Entry {
	t.Helper()
	store := memorystore.New()
	m := store.AddModule("M", false)
	m.AddArtifact("a.txt", content, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	entries, err := flist.Build(m, "", true, true, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Expect [".", "a.txt"].
	if len(entries) != 2 || !entries[0].IsDir() || entries[1].IsDir() {
		t.Fatalf("unexpected flist %+v", entries)
	}
	return entries
}

// TestTransferRun exercises one directory echo, one full-file send, and
// the phase-1 terminator against the sorted two-entry flist.
func TestTransferRun(t *testing.T) {
	content := []byte("hello sender")
	entries := buildEntries(t, content)

	var input bytes.Buffer
	input.WriteByte(0x01)           // index 0: "." directory
	input.Write([]byte{0x00, 0x00}) // flags
	input.WriteByte(0x01)           // index 1: "a.txt"
	input.Write([]byte{0x00, 0x00}) // flags
	input.Write(make([]byte, 16))   // sum header: count/blength/s2length/remainder all zero
	input.WriteByte(0x00)           // phase-1 terminator

	var out bytes.Buffer
	xfer := &Transfer{
		Conn:    connFromBytes(input.Bytes(), &out),
		Entries: entries,
	}
	if err := xfer.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.Bytes()

	// Directory echo: index prefix + flags.
	wantDirEcho := []byte{0x01, 0x00, 0x00}
	if !bytes.HasPrefix(got, wantDirEcho) {
		t.Fatalf("output does not start with the directory echo: % x", got[:8])
	}
	got = got[len(wantDirEcho):]

	// File header: prefix, flags, echoed sum header, size.
	wantHdr := append([]byte{0x01, 0x00, 0x00}, make([]byte, 16)...)
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(content)))
	wantHdr = append(wantHdr, sizeBuf[:]...)
	if !bytes.HasPrefix(got, wantHdr) {
		t.Fatalf("file header mismatch: got % x, want prefix % x", got[:len(wantHdr)], wantHdr)
	}
	got = got[len(wantHdr):]

	if !bytes.HasPrefix(got, content) {
		t.Fatalf("file content mismatch: got % x", got[:len(content)])
	}
	got = got[len(content):]

	// Token, MD5 trailer, phase-1 terminator.
	want := make([]byte, 4)
	sum := md5.Sum(content)
	want = append(want, sum[:]...)
	want = append(want, 0x00)
	if !bytes.Equal(got, want) {
		t.Fatalf("trailer = % x, want % x", got, want)
	}
}

// TestTransferDiscardsChecksumList checks that a nonzero sum header makes
// the sender skip the client's checksum bytes before echoing the header.
func TestTransferDiscardsChecksumList(t *testing.T) {
	content := []byte("x")
	entries := buildEntries(t, content)

	sum := sumHeader{count: 2, blength: 700, s2length: 16, remainder: 300}
	var input bytes.Buffer
	input.WriteByte(0x02) // index: -1 + 2 = 1, "a.txt"
	input.Write([]byte{0x00, 0x00})
	for _, v := range []uint32{sum.count, sum.blength, sum.s2length, sum.remainder} {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		input.Write(b[:])
	}
	input.Write(make([]byte, sum.checksumListBytes()))
	input.WriteByte(0x00)

	var out bytes.Buffer
	xfer := &Transfer{
		Conn:    connFromBytes(input.Bytes(), &out),
		Entries: entries,
	}
	if err := xfer.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The echoed header must carry the client's sum values back verbatim.
	got := out.Bytes()[3:] // skip prefix + flags
	for i, want := range []uint32{sum.count, sum.blength, sum.s2length, sum.remainder} {
		if v := binary.LittleEndian.Uint32(got[i*4:]); v != want {
			t.Errorf("echoed sum field %d = %d, want %d", i, v, want)
		}
	}
}

func TestTransferInvalidIndex(t *testing.T) {
	entries := buildEntries(t, []byte("y"))

	var input bytes.Buffer
	input.WriteByte(0x07) // index 6: out of range for a two-entry flist
	input.Write([]byte{0x00, 0x00})

	var out bytes.Buffer
	xfer := &Transfer{
		Conn:    connFromBytes(input.Bytes(), &out),
		Entries: entries,
	}
	if err := xfer.Run(); err == nil {
		t.Fatal("expected an error for an out-of-range file index")
	}
}

// TestTransferTail walks the tail sequence: phase 2, end-of-transfer, the
// fifteen-zero-byte statistics block, and the farewell.
func TestTransferTail(t *testing.T) {
	input := []byte{0x00, 0x00, 0x00}
	var out bytes.Buffer
	xfer := &Transfer{Conn: connFromBytes(input, &out)}
	if err := xfer.Tail(); err != nil {
		t.Fatalf("Tail: %v", err)
	}

	want := []byte{0x00, 0x00}
	want = append(want, make([]byte, 15)...)
	want = append(want, 0x00)
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("tail output = % x, want % x", out.Bytes(), want)
	}
}

func TestTransferTailRejectsNonNul(t *testing.T) {
	input := []byte{0x01}
	var out bytes.Buffer
	xfer := &Transfer{Conn: connFromBytes(input, &out)}
	if err := xfer.Tail(); err == nil {
		t.Fatal("expected an error for a non-NUL phase-2 marker")
	}
}
