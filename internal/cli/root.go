// Package cli implements the flowctl commands: compiling descriptors into
// records, storing records and running them on one or more runtimes.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/store"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	Verbose     bool
	Format      string
	StoreDriver string
	StoreDSN    string
}

// ValidFormats lists the accepted output formats.
var ValidFormats = []string{"text", "json"}

// openStore is swapped by tests.
var openStore = store.Open

// NewRootCommand creates the flowctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "flowctl",
		Short: "Compile and run dataflow graphs",
		Long: `flowctl compiles flow descriptors into records, keeps records in a store
and runs them on one or more runtimes connected by a message transport.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.StoreDriver, "store", store.DriverMemory, "record store driver (memory|sqlite|postgres)")
	cmd.PersistentFlags().StringVar(&opts.StoreDSN, "store-dsn", "", "record store file path or connection string")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewRecordsCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) logger(cmd *cobra.Command) loggingpkg.ServiceLogger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
}

func (o *RootOptions) openStore() (store.Store, error) {
	st, err := openStore(o.StoreDriver, o.StoreDSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open record store", err)
	}
	return st, nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return GetExitCode(err)
	}
	return ExitSuccess
}
