package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"storyline/internal/vectorstore"
)

// NewMigrateCmd creates the migrate command: apply the schema and build
// the vector indexes.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and vector indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}

			retriever := vectorstore.NewPgVectorRetriever(store.DB())
			if err := retriever.CreateIndex(cmd.Context()); err != nil {
				return err
			}

			fmt.Println("Migration complete")
			return nil
		},
	}
}
