package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sboxrun/sandboxd/internal/config"
	"github.com/sboxrun/sandboxd/internal/sandbox"
)

var (
	oneshotTimeMS  int64
	oneshotMemKB   int64
	oneshotFsizeKB int64
	oneshotNoFile  int64
	oneshotBaseDir string
)

var oneshotCmd = &cobra.Command{
	Use:   "oneshot -- <command> [args...]",
	Short: "Run a single command in a fresh, disposable sandbox",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOneshot,
}

func init() {
	oneshotCmd.Flags().Int64Var(&oneshotTimeMS, "time-ms", 0, "wall-clock time limit in milliseconds (0 = config default)")
	oneshotCmd.Flags().Int64Var(&oneshotMemKB, "mem-kb", 0, "virtual memory limit in KB (0 = config default)")
	oneshotCmd.Flags().Int64Var(&oneshotFsizeKB, "fsize-kb", 0, "max output file size in KB (0 = config default)")
	oneshotCmd.Flags().Int64Var(&oneshotNoFile, "nofile", 0, "open file descriptor limit (0 = config default)")
	oneshotCmd.Flags().StringVar(&oneshotBaseDir, "base-dir", "", "directory to create the ephemeral sandbox root under (empty = config default)")
	rootCmd.AddCommand(oneshotCmd)
}

func runOneshot(cmd *cobra.Command, args []string) error {
	defaults := config.Default()
	baseDir := oneshotBaseDir
	if baseDir == "" {
		baseDir = defaults.BaseDir
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("creating base dir: %w", err)
	}

	cfg := sandbox.RunConfig{
		Command: args,
		Env:     os.Environ(),
		Cwd:     "/",
		TimeMS:  orDefault(oneshotTimeMS, defaults.Defaults.TimeMS),
		MemKB:   orDefault(oneshotMemKB, defaults.Defaults.MemKB),
		FsizeKB: orDefault(oneshotFsizeKB, defaults.Defaults.FsizeKB),
		NoFile:  orDefault(oneshotNoFile, defaults.Defaults.NoFile),
	}

	result, err := sandbox.RunOneshot(context.Background(), baseDir, cfg)
	if err != nil {
		return err
	}

	cmd.OutOrStdout().Write(result.Stdout)
	cmd.ErrOrStderr().Write(result.Stderr)

	switch {
	case result.Signal != nil:
		return fmt.Errorf("command terminated by signal %d", *result.Signal)
	case result.ExitCode != nil && *result.ExitCode != 0:
		os.Exit(*result.ExitCode)
	}
	return nil
}

func orDefault(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}
