// Package rsyncopts parses the argv-style flag block the rsync client
// sends after module selection. Only the handful of flags this
// sender-only daemon cares about are recognized; everything else is
// accepted and ignored, matching real rsync's tolerance for flags that
// don't apply to the running mode.
package rsyncopts

import (
	"fmt"
	"strings"

	"github.com/DavidGamba/go-getoptions"
)

// Options holds the result of parsing the client's argv block.
type Options struct {
	Server    bool
	Sender    bool
	Dirs      bool
	Recursive bool
	Times     bool
	Debug     bool
	Rsh       string

	// Src and Dst are the positional arguments; Dst is the
	// module-qualified destination path the client requested.
	Src string
	Dst string
}

// Parse parses a flattened argv (one rsync command-line flag per element,
// as read off the wire by reading NUL-terminated strings until an empty
// one) into Options. Unrecognized flags are ignored rather than rejected;
// a genuine parse failure (e.g. a flag claiming an argument that wasn't
// supplied) is returned as an error so the caller can still write the
// checksum seed and enable muxing before reporting it.
func Parse(argv []string) (Options, error) {
	var opts Options

	// rsync itself parses options against /usr/include/popt.h; we only
	// need the subset this daemon acts on.
	opt := getoptions.New()

	// rsync (but not openrsync) bundles short options together, e.g.
	// "-logDtpr", so bundling must be on even though we ignore most of
	// those letters.
	opt.SetMode(getoptions.Bundling)

	// Every flag we don't explicitly recognize is ignored, not an error.
	opt.SetUnknownMode(getoptions.Pass)

	opt.BoolVar(&opts.Server, "server", false)
	opt.BoolVar(&opts.Sender, "sender", false)
	opt.BoolVar(&opts.Dirs, "dirs", false, opt.Alias("d"))
	opt.BoolVar(&opts.Recursive, "recursive", false, opt.Alias("r"))
	opt.BoolVar(&opts.Times, "times", false, opt.Alias("t"))
	opt.BoolVar(&opts.Debug, "debug", false)
	opt.StringVar(&opts.Rsh, "rsh", "", opt.Alias("e"))

	// Every other popt-recognized flag (-g/--group, -o/--owner, -l/--links,
	// -p/--perms, -v, -D, --partial, --progress, ...) is accepted but
	// has no effect on sender-only, no-delta-transfer output.
	for _, name := range []string{"group", "owner", "links", "perms",
		"devices", "specials", "hard-links", "compress", "partial",
		"progress", "stats", "numeric-ids", "delete", "ignore-times",
		"whole-file", "one-file-system", "super", "archive"} {
		opt.Bool(name, false)
	}
	for _, letter := range []string{"g", "o", "l", "p", "D", "v", "z", "n", "a", "q"} {
		opt.Bool(letter, false)
	}

	remaining, err := opt.Parse(argv)
	if err != nil {
		return opts, fmt.Errorf("rsyncopts: %v", err)
	}

	remaining = trimDashDash(dropUnknownFlags(remaining))
	switch len(remaining) {
	case 0:
	case 1:
		opts.Dst = remaining[0]
	default:
		opts.Src = strings.Join(remaining[:len(remaining)-1], " ")
		opts.Dst = remaining[len(remaining)-1]
	}

	return opts, nil
}

func trimDashDash(args []string) []string {
	if len(args) > 0 && args[0] == "--" {
		return args[1:]
	}
	return args
}

// dropUnknownFlags strips flags UnknownMode(Pass) left in the remaining
// slice, so they don't get mistaken for the positional src/dst arguments.
func dropUnknownFlags(args []string) []string {
	out := args[:0:0]
	for _, a := range args {
		if strings.HasPrefix(a, "-") && a != "-" {
			continue
		}
		out = append(out, a)
	}
	return out
}
