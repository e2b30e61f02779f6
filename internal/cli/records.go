package cli

import (
	"context"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/drblury/flowplan/internal/model"
)

// RecordSummary is one line of the records list.
type RecordSummary struct {
	UUID     string   `json:"uuid"`
	Flow     string   `json:"flow"`
	Nodes    int      `json:"nodes"`
	Runtimes []string `json:"runtimes"`
}

func summarize(rec *model.Record) RecordSummary {
	s := RecordSummary{UUID: rec.UUID.String(), Flow: rec.Flow, Nodes: nodeCount(rec)}
	for _, rt := range rec.Runtimes() {
		s.Runtimes = append(s.Runtimes, string(rt))
	}
	return s
}

// NewRecordsCommand creates the records command and its list, show and delete
// subcommands.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect the record store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List stored records",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecordsList(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "show <uuid>",
		Short:         "Print a stored record",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsShow(rootOpts, args[0], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "delete <uuid>",
		Short:         "Delete a stored record",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsDelete(rootOpts, args[0], cmd)
		},
	})

	return cmd
}

func runRecordsList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	st, err := opts.openStore()
	if err != nil {
		return formatter.Failure(ExitCommandError, "failed to list records", err)
	}
	defer st.Close()

	records, err := st.List(cmd.Context())
	if err != nil {
		return formatter.Failure(ExitCommandError, "failed to list records", err)
	}
	summaries := make([]RecordSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, summarize(rec))
	}

	if formatter.json() {
		return formatter.Success(summaries)
	}
	if len(summaries) == 0 {
		formatter.Printf("No records")
		return nil
	}
	for _, s := range summaries {
		formatter.Printf("%s  %-24s %3d nodes  %v", s.UUID, s.Flow, s.Nodes, s.Runtimes)
	}
	return nil
}

func runRecordsShow(opts *RootOptions, arg string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	id, err := uuid.Parse(arg)
	if err != nil {
		return formatter.Failure(ExitCommandError, "invalid record id", err)
	}
	rec, err := opts.loadRecord(cmd.Context(), id)
	if err != nil {
		return formatter.Failure(GetExitCode(err), "failed to load record", err)
	}
	data, err := encodeRecord(rec, formatter.json())
	if err != nil {
		return formatter.Failure(ExitFailure, "failed to encode record", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runRecordsDelete(opts *RootOptions, arg string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	id, err := uuid.Parse(arg)
	if err != nil {
		return formatter.Failure(ExitCommandError, "invalid record id", err)
	}
	st, err := opts.openStore()
	if err != nil {
		return formatter.Failure(ExitCommandError, "failed to delete record", err)
	}
	defer st.Close()

	if err := st.Delete(cmd.Context(), id); err != nil {
		return formatter.Failure(ExitFailure, "failed to delete record", err)
	}
	if formatter.json() {
		return formatter.Success(map[string]string{"deleted": id.String()})
	}
	formatter.Printf("Deleted %s", id)
	return nil
}

func (o *RootOptions) saveRecord(ctx context.Context, rec *model.Record) error {
	st, err := o.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Save(ctx, rec)
}

func (o *RootOptions) loadRecord(ctx context.Context, id uuid.UUID) (*model.Record, error) {
	st, err := o.openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()
	rec, err := st.Load(ctx, id)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "load record", err)
	}
	return rec, nil
}
