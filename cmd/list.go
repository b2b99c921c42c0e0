package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/livecapture/internal/store"
	"github.com/andresmejia3/livecapture/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List all stored capture sessions",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) error {
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		utils.ShowError("Failed to list sessions", err, nil)
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return nil
	}
	printSessions(os.Stdout, sessions)
	return nil
}

func printSessions(out io.Writer, sessions []store.SessionSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPHOTOS\tSIZE\tDURATION\tCOMPLETED")
	fmt.Fprintln(w, "--\t------\t----\t--------\t---------")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			s.ID,
			s.Photos,
			fmtBytes(s.Bytes),
			s.CompletedAt.Sub(s.StartedAt).Round(time.Second),
			s.CompletedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
}

func fmtBytes(n int64) string {
	switch {
	case n >= megabyte:
		return fmt.Sprintf("%.1f MB", float64(n)/megabyte)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
