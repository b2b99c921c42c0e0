package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/livecapture/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:         "delete <session_id>",
	Short:       "Remove a stored session and its photos",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := uuid.Parse(args[0])
		if err != nil {
			utils.ShowError("Invalid session ID", err, nil)
			return err
		}
		return runDelete(cmd.Context(), id)
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(ctx context.Context, id uuid.UUID) error {
	if err := DB.DeleteSession(ctx, id); err != nil {
		utils.ShowError("Failed to delete session", err, nil)
		return err
	}

	fmt.Printf("✅ Session %s deleted\n", id)
	return nil
}
