package sandbox

import (
	"fmt"
	"strings"
)

// rlimitWrap returns the argv to actually exec: either cfg.Command
// unchanged, or cfg.Command wrapped in a shell that applies the
// requested POSIX rlimits via the ulimit builtin before exec-ing the
// real command.
//
// Go's exec.Cmd has no portable pre-exec hook for Setrlimit, and
// spawning a helper that re-execs itself just to call
// golang.org/x/sys/unix.Setrlimit before the real execve buys nothing
// over the shell builtin, which does exactly this and is present on
// every target platform. Arguments are passed positionally after the
// script ("$@") rather than interpolated into the script text, so no
// argument ever needs shell-quoting.
func rlimitWrap(cfg RunConfig) []string {
	var lines []string
	if cfg.TimeMS > 0 {
		secs := (cfg.TimeMS + 999) / 1000
		lines = append(lines, fmt.Sprintf("ulimit -t %d", secs))
	}
	if cfg.MemKB > 0 {
		lines = append(lines, fmt.Sprintf("ulimit -v %d", cfg.MemKB))
	}
	if cfg.FsizeKB > 0 {
		// ulimit -f counts 512-byte blocks.
		lines = append(lines, fmt.Sprintf("ulimit -f %d", cfg.FsizeKB*2))
	}
	if cfg.NoFile > 0 {
		lines = append(lines, fmt.Sprintf("ulimit -n %d", cfg.NoFile))
	}

	if len(lines) == 0 {
		return cfg.Command
	}

	script := strings.Join(lines, "; ") + `; exec "$@"`
	argv := append([]string{"/bin/sh", "-c", script, "sandboxd"}, cfg.Command...)
	return argv
}
