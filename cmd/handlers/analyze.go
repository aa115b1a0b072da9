package handlers

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAnalyzeCmd creates the analyze command: one full pipeline run.
func NewAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Run one full analysis pass over the unprocessed article batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.Pipeline.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Run %s complete\n", stats.RunID)
			fmt.Printf("  articles: %d fetched, %d processed, %d failed\n",
				stats.ArticlesFetched, stats.ArticlesProcessed, stats.ArticlesFailed)
			fmt.Printf("  graph: %d edges persisted, %d clusters detected\n",
				stats.EdgesPersisted, stats.ClustersDetected)
			fmt.Printf("  stories: %d created (%d continuations), %d rejected, %d failed\n",
				stats.StoriesCreated, stats.Continuations, stats.ClustersRejected, stats.ClustersFailed)
			return nil
		},
	}
}
