package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/livecapture/internal/facecheck"
	"github.com/andresmejia3/livecapture/internal/stability"
	"github.com/andresmejia3/livecapture/internal/types"
	"github.com/andresmejia3/livecapture/internal/utils"
	"github.com/andresmejia3/livecapture/internal/worker"
	"github.com/spf13/cobra"
)

var detectOpts Options

var detectCmd = &cobra.Command{
	Use:   "detect <image_path>",
	Short: "Run the face detector on one image and check it against every phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDetect(cmd.Context(), args[0], detectOpts)
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectOpts.DetectorCmd, "detector", "", "Face detector command (speaks the FD 3 protocol)")
	detectCmd.MarkFlagRequired("detector")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(ctx context.Context, imagePath string, opts Options) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting face detector...")
	// We use ID 0 for this ad-hoc worker
	w, err := worker.NewDetectorWorker(ctx, 0, opts.DetectorCmd)
	if err != nil {
		utils.ShowError("Failed to start face detector", err, nil)
		return err
	}
	defer w.Close()

	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	frame, err := w.Detect(imgData)
	if err != nil {
		utils.ShowError("Face detection failed", err, w.Cmd)
		return err
	}

	if frame.Face == nil {
		fmt.Println("❌ No face detected in the provided image.")
		return nil
	}
	printPhaseReport(os.Stdout, frame)
	return nil
}

// printPhaseReport shows how a single detection fares in each capture phase.
// One frame can never be stable, so passing every check reads "hold still".
func printPhaseReport(out io.Writer, frame types.Frame) {
	f := frame.Face
	fmt.Fprintf(out, "Face %.0fx%.0f in a %dx%d frame, yaw %.1f pitch %.1f roll %.1f\n\n",
		f.Box.Width(), f.Box.Height(), frame.Width, frame.Height, f.Yaw, f.Pitch, f.Roll)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PHASE\tRESULT\tREASON")
	fmt.Fprintln(w, "-----\t------\t------")
	for _, phase := range types.CapturePhases() {
		v, _ := facecheck.Validate(f, frame.Width, phase, stability.Reset())
		result := "❌"
		reason := v.Reason
		if v.Failure == facecheck.KindHoldStill {
			result = "✅"
			reason = "ready"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", phase, result, reason)
	}
	w.Flush()
}
