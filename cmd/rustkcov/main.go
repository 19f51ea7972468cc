// The rustkcov command launches a native binary under breakpoint-based
// source-line coverage tracing (spec.md §1, §6). It spawns the target with
// the agent preloaded, accepts its rendezvous connection, resolves the
// requested source filters against the target's debug information, and
// drives the agent until the target exits.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"go.rustkcov.dev/rustkcov/internal/controller"
	"go.rustkcov.dev/rustkcov/internal/filter"
)

// Exit codes, per SPEC_FULL.md §6: spec.md §6 only requires "non-zero with
// a diagnostic"; these refine that into the distinct causes
// original_source/ruskcov/src/error.rs enumerates.
const (
	exitOK = iota
	exitStartup
	exitFilterCompile
	exitSpawn
)

// defaultAgentSO is the agent shared object's conventional filename — the
// artifact agent/'s -buildmode=c-shared build produces — and is the
// default --inject value spec.md §6 requires (matching the original Rust
// CLI's default_value = "libruskcov_inject.so").
const defaultAgentSO = "librustkcov_agent.so"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		inject      []string
		includeDirs []string
		excludeDirs []string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:                   "rustkcov [flags] -- <binary> [args...]",
		Short:                 "Trace a native binary's source-line coverage via breakpoint injection",
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
	}
	cmd.Flags().StringArrayVar(&inject, "inject", []string{defaultAgentSO}, "path to an agent shared object to preload (repeatable; defaults to the bundled agent)")
	cmd.Flags().StringArrayVar(&includeDirs, "include-dir", nil, "regex matched against a source directory to include (repeatable)")
	cmd.Flags().StringArrayVar(&excludeDirs, "exclude-dir", nil, "regex matched against a source directory to exclude (repeatable)")
	cmd.Flags().BoolVar(&debug, "debug", false, "add microsecond precision to diagnostic timestamps; no additional messages are logged")

	exitCode := exitOK
	cmd.RunE = func(c *cobra.Command, args []string) error {
		logger := newLogger(debug)

		f, err := filter.Compile(includeDirs, excludeDirs)
		if err != nil {
			exitCode = exitFilterCompile
			return fmt.Errorf("compiling source filters: %w", err)
		}

		ctl, err := controller.Launch(controller.Options{
			Binary:  args[0],
			Args:    args[1:],
			Inject:  inject,
			Filter:  f,
			Logger:  logger,
		})
		if err != nil {
			exitCode = startupExitCode(err)
			return err
		}
		defer ctl.Close()

		if err := ctl.Run(); err != nil {
			exitCode = exitSpawn
			return fmt.Errorf("tracing session: %w", err)
		}
		return nil
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rustkcov: %v\n", err)
		if exitCode == exitOK {
			exitCode = exitStartup
		}
		return exitCode
	}
	return exitOK
}

// startupExitCode distinguishes the two startup-failure shapes
// controller.Launch can return: a *controller.StartupError wraps every
// case from tempdir/listener setup through the final PtraceCont, so spawn
// failures and earlier setup failures share one kind in the error type
// but are split back out here for the exit-code table (SPEC_FULL.md §6).
func startupExitCode(err error) int {
	var se *controller.StartupError
	if errors.As(err, &se) && se.Op == "spawn tracee" {
		return exitSpawn
	}
	return exitStartup
}

func newLogger(debug bool) *log.Logger {
	flags := log.Ltime
	if debug {
		flags |= log.Lmicroseconds
	}
	return log.New(os.Stderr, "rustkcov: ", flags)
}
