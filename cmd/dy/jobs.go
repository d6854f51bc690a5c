package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/docyard/internal/dispatch"
)

func newEnqueueCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "enqueue <doc-id>...",
		Short: "Dispatch processing jobs for existing documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, configPath, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Docyard config file")
	return cmd
}

func runEnqueue(cmd *cobra.Command, configPath string, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	n, err := a.disp.EnqueueMany(cmd.Context(), ids)
	fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d of %d documents\n", n, len(ids))
	return err
}

func newReprocessCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "reprocess <doc-id>",
		Short: "Discard a document's jobs and run them again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReprocess(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Docyard config file")
	return cmd
}

func runReprocess(cmd *cobra.Command, configPath, arg string) error {
	ids, err := parseIDs([]string{arg})
	if err != nil {
		return err
	}
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	jobs, err := a.disp.Reprocess(cmd.Context(), ids[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reprocessing document %d with %d jobs\n", ids[0], len(jobs))
	return nil
}

func newJobsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "jobs <doc-id>",
		Short: "Show the processing jobs of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Docyard config file")
	return cmd
}

func runJobs(cmd *cobra.Command, configPath, arg string) error {
	ids, err := parseIDs([]string{arg})
	if err != nil {
		return err
	}
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	doc, err := a.store.GetDocument(ctx, ids[0])
	if err != nil {
		return err
	}
	jobs, err := a.disp.ListJobs(ctx, doc.ID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Document %d: %s [%s]\n", doc.ID, doc.Title, doc.Status)
	printJobs(cmd, jobs)
	return nil
}

func printJobs(cmd *cobra.Command, jobs []dispatch.JobView) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPROGRESS\tMESSAGE")
	for _, j := range jobs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d%%\t%s\n", j.ID, j.JobType, j.Status, j.Progress, j.ErrorMessage)
	}
	w.Flush()
}
