package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/livecapture/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetSessions bool
	resetFiles    bool
	resetDir      string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (stored sessions, exported photos)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		// If no flags are set, default to clearing EVERYTHING
		if !resetSessions && !resetFiles {
			resetSessions = true
			resetFiles = true
		}

		reader := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		if resetSessions && confirm(reader, out, "⚠️  Are you sure you want to DROP all session tables?") {
			if err := openDB(cmd.Context()); err != nil {
				utils.ShowError("Failed to open the session store", err, nil)
				return err
			}
			fmt.Fprintln(out, "🗑️  Clearing Database...")
			if err := DB.Reset(cmd.Context()); err != nil {
				utils.ShowError("Failed to reset database", err, nil)
				return err
			}
		}

		if resetFiles && resetDir != "" {
			if confirm(reader, out, fmt.Sprintf("⚠️  Are you sure you want to delete everything under %s?", resetDir)) {
				fmt.Fprintln(out, "🗑️  Clearing Output Files...")
				removeDir(resetDir)
			}
		}

		fmt.Fprintln(out, "✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetSessions, "sessions", false, "Drop the stored sessions")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear the photo output directory")
	resetCmd.Flags().StringVarP(&resetDir, "output", "o", "", "Photo output directory to clear")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
