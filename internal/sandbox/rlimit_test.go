package sandbox

import (
	"reflect"
	"strings"
	"testing"
)

func TestRlimitWrap_NoLimitsPassesThrough(t *testing.T) {
	cfg := RunConfig{Command: []string{"/bin/echo", "hi"}}
	got := rlimitWrap(cfg)
	if !reflect.DeepEqual(got, cfg.Command) {
		t.Errorf("rlimitWrap() = %v, want unchanged command %v", got, cfg.Command)
	}
}

func TestRlimitWrap_WrapsInShellWithPositionalArgs(t *testing.T) {
	cfg := RunConfig{
		Command: []string{"/bin/sh", "-c", "yes > /tmp/x"},
		TimeMS:  1500,
		MemKB:   1024,
		FsizeKB: 1,
		NoFile:  64,
	}
	got := rlimitWrap(cfg)

	if got[0] != "/bin/sh" || got[1] != "-c" {
		t.Fatalf("expected a /bin/sh -c wrapper, got %v", got)
	}
	script := got[2]
	for _, want := range []string{"ulimit -t 2", "ulimit -v 1024", "ulimit -f 2", "ulimit -n 64", `exec "$@"`} {
		if !strings.Contains(script, want) {
			t.Errorf("script %q missing %q", script, want)
		}
	}

	// Everything after the script and the $0 placeholder must be the
	// original command, untouched and unquoted.
	tail := got[4:]
	if !reflect.DeepEqual(tail, cfg.Command) {
		t.Errorf("tail = %v, want %v", tail, cfg.Command)
	}
}
