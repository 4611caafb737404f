package flistwire

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/gokrazy/pulprsyncd/internal/contentstore/memorystore"
	"github.com/gokrazy/pulprsyncd/internal/flist"
	"github.com/gokrazy/pulprsyncd/internal/rsyncwire"
	"github.com/gokrazy/pulprsyncd/rsync"
)

func TestWriteEntryFileRoundTrip(t *testing.T) {
	store := memorystore.New()
	m := store.AddModule("demo", false)
	mtime := time.Date(2026, 3, 4, 5, 6, 7, 123000000, time.UTC)
	m.AddArtifact("a.txt", []byte("hello"), mtime)

	entries, err := flist.Build(m, "a.txt", false, false, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	var buf bytes.Buffer
	c := rsyncwire.NewConn(&bytes.Buffer{}, &buf)
	if err := WriteEntry(c, entries[0]); err != nil {
		t.Fatal(err)
	}

	rd := rsyncwire.NewConn(bytes.NewReader(buf.Bytes()), &bytes.Buffer{})
	flagsBuf, err := rd.ReadN(2)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint16(flagsBuf); got != rsync.FileEntryFlags {
		t.Errorf("flags = %#x, want %#x", got, rsync.FileEntryFlags)
	}
	nameLen, err := rd.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if int(nameLen) != len("a.txt") {
		t.Errorf("nameLen = %d, want %d", nameLen, len("a.txt"))
	}
	nameBytes, err := rd.ReadN(int(nameLen))
	if err != nil {
		t.Fatal(err)
	}
	if string(nameBytes) != "a.txt" {
		t.Errorf("name = %q, want %q", nameBytes, "a.txt")
	}
	size, err := rd.ReadVarlong(3)
	if err != nil {
		t.Fatal(err)
	}
	if size != 5 {
		t.Errorf("size = %d, want 5", size)
	}
	sec, err := rd.ReadVarlong(4)
	if err != nil {
		t.Fatal(err)
	}
	if sec != uint64(mtime.Unix()) {
		t.Errorf("mtime_sec = %d, want %d", sec, mtime.Unix())
	}
	nsec, err := rd.ReadVarint()
	if err != nil {
		t.Fatal(err)
	}
	if nsec != uint32(mtime.Nanosecond()) {
		t.Errorf("mtime_nsec = %d, want %d", nsec, mtime.Nanosecond())
	}
	modeBuf, err := rd.ReadN(4)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(modeBuf); got != rsync.FileMode {
		t.Errorf("mode = %#o, want %#o", got, rsync.FileMode)
	}
}

func TestWriteEntryRejectsOverlongName(t *testing.T) {
	var buf bytes.Buffer
	c := rsyncwire.NewConn(&bytes.Buffer{}, &buf)
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'x'
	}
	e := flist.Entry{Name: string(long), Dir: &flist.DirEntry{MTime: time.Now()}}
	if err := WriteEntry(c, e); err == nil {
		t.Fatal("expected an error for a 256-byte name")
	}
}

func TestWriteAllTerminates(t *testing.T) {
	store := memorystore.New()
	m := store.AddModule("demo", false)
	m.AddArtifact("a.txt", []byte("x"), time.Now().UTC())
	entries, err := flist.Build(m, "a.txt", false, false, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	c := rsyncwire.NewConn(&bytes.Buffer{}, &buf)
	if err := WriteAll(c, entries); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 || buf.Bytes()[buf.Len()-1] != 0x00 {
		t.Fatalf("expected output to end with the terminator byte, got % x", buf.Bytes())
	}
}
