package cli

import (
	"github.com/spf13/cobra"

	"github.com/drblury/flowplan/internal/compiler"
	"github.com/drblury/flowplan/internal/runtime/ids"
)

// ValidationResult summarizes a descriptor that compiled.
type ValidationResult struct {
	Flow       string   `json:"flow"`
	Nodes      int      `json:"nodes"`
	Links      int      `json:"links"`
	Connectors int      `json:"connectors"`
	Runtimes   []string `json:"runtimes"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <descriptor>",
		Short: "Check that a descriptor compiles",
		Long: `Compile a descriptor without writing the record and report what it
would place where. The exit code is 1 when the descriptor does not compile.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	desc, err := readDescriptor(path)
	if err != nil {
		return formatter.Failure(ExitCommandError, "failed to load descriptor", err)
	}
	rec, err := compiler.Compile(desc, ids.NewInstanceID())
	if err != nil {
		return formatter.Failure(ExitFailure, "invalid descriptor", err)
	}

	result := ValidationResult{
		Flow:       rec.Flow,
		Nodes:      nodeCount(rec) - len(rec.Connectors),
		Links:      len(rec.Links),
		Connectors: len(rec.Connectors),
	}
	for _, rt := range rec.Runtimes() {
		result.Runtimes = append(result.Runtimes, string(rt))
	}

	if formatter.json() {
		return formatter.Success(result)
	}
	formatter.Printf("✓ %s is valid: %d nodes, %d links, %d connectors on %v",
		result.Flow, result.Nodes, result.Links, result.Connectors, result.Runtimes)
	return nil
}
