package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/sboxrun/sandboxd/internal/log"
)

// backend picks the host's isolation primitive once, at process startup,
// rather than re-probing on every spawn.
type backend int

const (
	backendBubblewrap backend = iota
	backendSeatbelt
	backendUnconfined
)

var activeBackend = detectBackend()

func detectBackend() backend {
	switch runtime.GOOS {
	case "linux":
		if _, err := exec.LookPath("bwrap"); err == nil {
			return backendBubblewrap
		}
	case "darwin":
		if _, err := exec.LookPath("sandbox-exec"); err == nil {
			return backendSeatbelt
		}
	}
	log.Warn("sandbox isolation backend unavailable, running unconfined", "goos", runtime.GOOS)
	return backendUnconfined
}

// IsolationActive reports whether the process-wide backend actually
// confines a child's filesystem view (bubblewrap or seatbelt), as opposed
// to backendUnconfined, which only sets the child's working directory and
// enforces nothing. Callers that can't tolerate an unconfined session
// (anything handling untrusted input) should check this and refuse or warn
// rather than assume containment.
func IsolationActive() bool {
	return activeBackend != backendUnconfined
}

// buildCommand constructs the exec.Cmd that runs cfg.Command with its
// filesystem view rooted at root and rlimits derived from cfg applied
// before the target binary is execed.
func buildCommand(ctx context.Context, root string, cfg RunConfig) (*exec.Cmd, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("sandbox run: empty command")
	}

	argv := rlimitWrap(cfg)

	var cmd *exec.Cmd
	switch activeBackend {
	case backendBubblewrap:
		cmd = exec.CommandContext(ctx, "bwrap", bubblewrapArgs(root, cfg.Cwd, argv)...)
	case backendSeatbelt:
		profile, err := seatbeltProfile(root)
		if err != nil {
			return nil, fmt.Errorf("sandbox run: %w", err)
		}
		profilePath, err := writeSeatbeltProfile(root, profile)
		if err != nil {
			return nil, fmt.Errorf("sandbox run: %w", err)
		}
		args := append([]string{"-f", profilePath}, argv...)
		cmd = exec.CommandContext(ctx, "sandbox-exec", args...)
		cmd.Dir = resolveCwd(root, cfg.Cwd)
	default:
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = resolveCwd(root, cfg.Cwd)
	}

	return cmd, nil
}

// resolveCwd maps a sandbox-relative cwd onto the host path backing root,
// used by backends that don't remap "/" onto root themselves.
func resolveCwd(root, cwd string) string {
	if cwd == "" || cwd == "/" {
		return root
	}
	p, err := resolveInSandbox(root, cwd)
	if err != nil {
		return root
	}
	return p
}
