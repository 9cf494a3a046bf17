package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"signserver/internal/inference"
	"signserver/internal/labels"
	"signserver/internal/repository"
	"signserver/internal/storage"
)

var reindexOpts struct {
	dir      string
	db       string
	metadata string
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild snapshot metadata from the files in the snapshot directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := labels.Actions()
		if reindexOpts.metadata != "" {
			md, err := inference.LoadMetadata(reindexOpts.metadata)
			if err != nil {
				return err
			}
			names = md.Labels()
		}

		files, err := storage.ListSnapshots(reindexOpts.dir)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No snapshots found to index")
			return nil
		}

		repo, err := repository.Open(cmd.Context(), reindexOpts.db)
		if err != nil {
			return err
		}
		defer repo.Close()

		fmt.Printf("Indexing %d snapshots from %s into %s\n", len(files), reindexOpts.dir, reindexOpts.db)
		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("🗂️  Reindexing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		res, err := storage.Reindex(cmd.Context(), files, repo, names, func() { bar.Add(1) })
		bar.Finish()
		fmt.Fprintln(os.Stderr)
		for _, name := range res.Skipped {
			fmt.Fprintf(os.Stderr, "⚠️  Skipped %s\n", name)
		}
		if err != nil {
			return err
		}

		fmt.Printf("✅ Inserted %d, already indexed %d, skipped %d\n", res.Inserted, res.Existing, len(res.Skipped))
		return nil
	},
}

func init() {
	reindexCmd.Flags().StringVar(&reindexOpts.dir, "dir", cfg.SnapshotDirectory, "Snapshot directory")
	reindexCmd.Flags().StringVar(&reindexOpts.db, "db", cfg.DatabaseURL, "SQLite path or postgres:// URL")
	reindexCmd.Flags().StringVar(&reindexOpts.metadata, "metadata", "", "Model metadata JSON for class ids (default: built-in action list)")
	rootCmd.AddCommand(reindexCmd)
}
