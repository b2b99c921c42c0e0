package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/livecapture/internal/session"
	"github.com/andresmejia3/livecapture/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var exportDir string

var exportCmd = &cobra.Command{
	Use:         "export <session_id>",
	Short:       "Write the photos of a stored session to a directory",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := uuid.Parse(args[0])
		if err != nil {
			utils.ShowError("Invalid session ID", err, nil)
			return err
		}
		return runExport(cmd.Context(), id, exportDir)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportDir, "output", "o", ".", "Destination directory (a subdirectory per session is created)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(ctx context.Context, id uuid.UUID, dir string) error {
	res, err := DB.GetSession(ctx, id)
	if err != nil {
		utils.ShowError("Failed to load session", err, nil)
		return err
	}

	paths, err := writePhotos(filepath.Join(dir, id.String()), res)
	if err != nil {
		utils.ShowError("Failed to write photos", err, nil)
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	fmt.Fprintf(os.Stderr, "📁 Exported %d photos\n", len(paths))
	return nil
}

// dirSink writes completed sessions into <dir>/<session id>/.
type dirSink struct {
	dir string
}

func (s dirSink) Submit(_ context.Context, r session.Result) error {
	paths, err := writePhotos(filepath.Join(s.dir, r.SessionID.String()), r)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "📁 Wrote %d photos to %s\n", len(paths), filepath.Dir(paths[0]))
	return nil
}

// writePhotos stores each photo as NN_<phase>.jpg, numbered in capture order.
func writePhotos(dir string, r session.Result) ([]string, error) {
	if len(r.Photos) == 0 {
		return nil, fmt.Errorf("session %s has no photos", r.SessionID)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(r.Photos))
	for i, p := range r.Photos {
		path := filepath.Join(dir, photoName(i, p))
		if err := os.WriteFile(path, p.Data, 0644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func photoName(i int, p session.Photo) string {
	return fmt.Sprintf("%02d_%s.jpg", i+1, p.Phase)
}
