package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "List or delete documents",
}

var documentsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List documents, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		page, err := newClient().ListDocuments(cmd.Context(), limit, offset)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCHUNKS\tCREATED")
		for _, d := range page.Documents {
			status := d.Status
			if d.Status == "failed" {
				status = color.RedString(d.Status)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.Name, status, d.ChunkCount, d.CreatedAt.Format("2006-01-02 15:04"))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d documents\n", len(page.Documents), page.Total)
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:     "delete ID...",
	Aliases: []string{"rm"},
	Short:   "Delete documents with their chunks and vectors",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		for _, id := range args {
			if err := client.DeleteDocument(cmd.Context(), id); err != nil {
				return fmt.Errorf("deleting %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("deleted"), id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(documentsCmd)
	documentsCmd.AddCommand(documentsListCmd, documentsDeleteCmd)

	documentsListCmd.Flags().Int("limit", 20, "page size")
	documentsListCmd.Flags().Int("offset", 0, "page offset")
}
