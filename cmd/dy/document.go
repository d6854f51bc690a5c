package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDocumentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "document",
		Aliases: []string{"doc"},
		Short:   "Register and list documents",
	}

	cmd.AddCommand(newDocumentAddCmd())
	cmd.AddCommand(newDocumentListCmd())
	return cmd
}

func newDocumentAddCmd() *cobra.Command {
	var (
		configPath string
		title      string
		language   string
		noEnqueue  bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an uploaded document and dispatch its jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocumentAdd(cmd, configPath, title, language, !noEnqueue)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Docyard config file")
	cmd.Flags().StringVar(&title, "title", "", "uploaded file name (required)")
	cmd.Flags().StringVar(&language, "language", "eng", "OCR language")
	cmd.Flags().BoolVar(&noEnqueue, "no-enqueue", false, "register without dispatching jobs")
	cmd.MarkFlagRequired("title")
	return cmd
}

func runDocumentAdd(cmd *cobra.Command, configPath, title, language string, enqueue bool) error {
	out := cmd.OutOrStdout()
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	doc, err := a.store.CreateDocument(ctx, title, language)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Created document %d: %s\n", doc.ID, doc.Title)
	if !enqueue {
		return nil
	}
	jobs, err := a.disp.EnqueueProcessing(ctx, doc.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Dispatched %d jobs\n", len(jobs))
	return nil
}

func newDocumentListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocumentList(cmd, configPath, status, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Docyard config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (new, ready, error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of documents")
	return cmd
}

func runDocumentList(cmd *cobra.Command, configPath, status string, limit int) error {
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	docs, err := a.store.ListDocuments(cmd.Context(), status, limit)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No documents found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tLANG\tTITLE")
	for _, d := range docs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.ID, d.Status, d.Language, d.Title)
	}
	return w.Flush()
}
