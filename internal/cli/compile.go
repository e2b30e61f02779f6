package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/drblury/flowplan/internal/compiler"
	"github.com/drblury/flowplan/internal/runtime/ids"
	"github.com/drblury/flowplan/internal/store"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output   string
	Instance string
	Save     bool
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <descriptor>",
		Short: "Compile a flow descriptor into a record",
		Long: `Compile a flow descriptor into a record: every node placed on a runtime,
every link type checked and every link crossing runtimes split through a
sender and a receiver.

The record is written as YAML, or JSON with --format json.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path (stdout when empty)")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "instance UUID of the record (random when empty)")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "save the record in the record store")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	instance := ids.NewInstanceID()
	if opts.Instance != "" {
		parsed, err := ids.ParseInstanceID(opts.Instance)
		if err != nil {
			return formatter.Failure(ExitCommandError, "invalid instance", err)
		}
		instance = parsed
	}

	desc, err := readDescriptor(path)
	if err != nil {
		return formatter.Failure(ExitCommandError, "failed to load descriptor", err)
	}
	formatter.VerboseLog("Compiling flow %q as instance %s", desc.Flow, instance)

	rec, err := compiler.Compile(desc, instance, compiler.WithLogger(opts.logger(cmd)))
	if err != nil {
		return formatter.Failure(ExitFailure, "compilation failed", err)
	}

	if opts.Save {
		if opts.StoreDriver == "" || opts.StoreDriver == store.DriverMemory {
			formatter.VerboseLog("The memory store does not outlive this command")
		}
		if err := opts.saveRecord(cmd.Context(), rec); err != nil {
			return formatter.Failure(GetExitCode(err), "failed to save record", err)
		}
		formatter.VerboseLog("Saved record %s", rec.UUID)
	}

	data, err := encodeRecord(rec, formatter.json())
	if err != nil {
		return formatter.Failure(ExitFailure, "failed to encode record", err)
	}
	if opts.Output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return formatter.Failure(ExitCommandError, "failed to write record", err)
	}
	formatter.Printf("Compiled %q into %s (%d nodes, %d links)", rec.Flow, opts.Output, nodeCount(rec), len(rec.Links))
	return nil
}
