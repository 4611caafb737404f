// Package rsync defines the wire-level constants shared by every internal
// package that implements the rsync daemon protocol: the protocol version
// this server speaks, the file-list status flags, and the multiplexing
// message tags.
package rsync

// ProtocolVersion is the rsync wire protocol version this server speaks.
// Protocol 30 is the only version this implementation negotiates.
const ProtocolVersion = 30

// File-list entry status flags, as put on the wire in the 2-byte flags
// word preceding each entry (see rsync/flist.c and rsync/rsync.h in the
// reference implementation).
const (
	FlagTopLevel      = 1 << 0
	FlagExtendedFlags = 1 << 1
	FlagSameUID       = 1 << 3
	FlagSameGID       = 1 << 4
	FlagModTimeNsec   = 1 << 13
)

// DirEntryFlags and FileEntryFlags are the exact flag words this server
// emits for synthesized directories and artifacts, respectively.
const (
	DirEntryFlags  = FlagTopLevel | FlagExtendedFlags | FlagSameUID | FlagSameGID | FlagModTimeNsec
	FileEntryFlags = FlagExtendedFlags | FlagSameUID | FlagSameGID | FlagModTimeNsec
)

// Modes put on the wire for synthesized directories and artifacts.
const (
	DirMode  = 0o040755
	FileMode = 0o100644
)

// DirSize is the size reported for every synthesized directory entry.
const DirSize = 4096

// Mux message tags (rsync/io.c:send_msg / read_int_msg): tag 7 carries
// ordinary data, tag 8 an out-of-band error message, tag 93 a fatal
// "error exit" from the peer.
const (
	MsgData      = 7
	MsgError     = 8
	MsgErrorExit = 93
)

// MaxFrameLen is the largest payload a single mux frame may carry; its
// 3-byte length field tops out at 2^24-1, but this server keeps well
// under that by chunking file data at MaxFileChunk bytes.
const MaxFrameLen = 1<<24 - 1

// MaxFileChunk is the largest slice of file data sent per mux frame
// during the block-transfer phase.
const MaxFileChunk = 512 * 1024

// MaxNameLen is the longest on-wire entry name this server supports;
// longer names are dropped with a multiplexed error.
const MaxNameLen = 255
