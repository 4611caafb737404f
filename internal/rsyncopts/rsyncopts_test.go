package rsyncopts

import "testing"

func TestParseRecognizesCoreFlags(t *testing.T) {
	opts, err := Parse([]string{"--server", "--sender", "-logDtpr", ".", "module/path"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !opts.Server || !opts.Sender || !opts.Recursive || !opts.Times {
		t.Fatalf("got %+v, want Server/Sender/Recursive/Times all true", opts)
	}
	if opts.Dst != "module/path" {
		t.Fatalf("Dst = %q, want %q", opts.Dst, "module/path")
	}
}

func TestParseIgnoresUnknownFlags(t *testing.T) {
	opts, err := Parse([]string{"--server", "--sender", "--some-future-flag", ".", "mod"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.Dst != "mod" {
		t.Fatalf("Dst = %q, want %q", opts.Dst, "mod")
	}
}

func TestParseRshAlias(t *testing.T) {
	opts, err := Parse([]string{"--server", "--sender", "-e", ".d", ".", "mod"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.Rsh != ".d" {
		t.Fatalf("Rsh = %q, want %q", opts.Rsh, ".d")
	}
}

func TestParseDirsAndDebug(t *testing.T) {
	opts, err := Parse([]string{"--server", "--sender", "--dirs", "--debug", ".", "mod"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !opts.Dirs || !opts.Debug {
		t.Fatalf("got %+v, want Dirs/Debug true", opts)
	}
}
