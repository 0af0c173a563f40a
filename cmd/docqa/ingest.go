package main

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Upload plain-text documents",
	Long: `Upload UTF-8 text files. Each file becomes one document named after the
file unless --name is given for a single file.

Examples:
  docqa ingest resume.txt
  docqa ingest notes/*.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().String("name", "", "document name (single file only)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	if name != "" && len(args) > 1 {
		return fmt.Errorf("--name requires exactly one file")
	}

	client := newClient()
	out := cmd.OutOrStdout()
	var failed int
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !utf8.Valid(data) {
			fmt.Fprintf(out, "%s %s: not UTF-8 text\n", color.RedString("skip"), path)
			failed++
			continue
		}

		docName := name
		if docName == "" {
			docName = filepath.Base(path)
		}
		doc, err := client.Upload(cmd.Context(), docName, string(data))
		if err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", color.RedString("fail"), path, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "%s %s  id=%s chunks=%d\n", color.GreenString("ok"), doc.Name, doc.ID, doc.ChunkCount)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}
