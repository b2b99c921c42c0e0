package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/livecapture/internal/facecheck"
	"github.com/andresmejia3/livecapture/internal/stability"
	"github.com/andresmejia3/livecapture/internal/types"
	"github.com/andresmejia3/livecapture/internal/utils"
	"github.com/spf13/cobra"
)

var validateOpts Options

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Print the verdict for every recorded face record of one phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		phase, err := types.ParsePhase(validateOpts.Phase)
		if err != nil || phase == types.Completed {
			err = fmt.Errorf("invalid phase %q", validateOpts.Phase)
			utils.ShowError("Invalid phase", err, nil)
			return err
		}

		in := cmd.InOrStdin()
		if validateOpts.FacesPath != "" && validateOpts.FacesPath != "-" {
			f, err := os.Open(validateOpts.FacesPath)
			if err != nil {
				utils.ShowError("Failed to open face records", err, nil)
				return err
			}
			defer f.Close()
			in = f
		}

		sum, err := runValidate(in, cmd.OutOrStdout(), phase, validateOpts.Quick)
		if err != nil {
			utils.ShowError("Failed to read face records", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🔎 %d frames, %d valid, first valid at frame %d\n", sum.frames, sum.valid, sum.firstValid)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateOpts.FacesPath, "faces", "f", "-", "Recorded face records (JSON Lines, '-' for stdin)")
	validateCmd.Flags().StringVar(&validateOpts.Phase, "phase", types.FrontalCenter.String(), "Phase to validate against (frontal_center, turn_left, turn_right)")
	validateCmd.Flags().BoolVar(&validateOpts.Quick, "quick", false, "Use the mid-capture check instead of the full pipeline")
	rootCmd.AddCommand(validateCmd)
}

type validateSummary struct {
	frames     int
	valid      int
	firstValid int // 0 when no frame passed
}

// runValidate feeds every record through the validator in order, carrying the
// stability state from frame to frame, and prints one row per frame.
func runValidate(in io.Reader, out io.Writer, phase types.ScanPhase, quick bool) (validateSummary, error) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FRAME\tVALID\tKIND\tSTABLE\tREASON\tFLAGS")

	var sum validateSummary
	st := stability.Reset()
	err := decodeFrames(in, func(f types.Frame) error {
		var v facecheck.Verdict
		if quick {
			v, st = facecheck.QuickCheck(f.Face, phase, st)
		} else {
			v, st = facecheck.Validate(f.Face, f.Width, phase, st)
		}

		sum.frames++
		mark := "✗"
		if v.Valid {
			mark = "✓"
			sum.valid++
			if sum.firstValid == 0 {
				sum.firstValid = f.Index
			}
		}
		kind := string(v.Failure)
		if kind == "" {
			kind = "-"
		}
		reason := v.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", f.Index, mark, kind, st.Consecutive, reason, fmtFlags(v.Flags))
		return nil
	})
	w.Flush()
	return sum, err
}

func fmtFlags(f facecheck.Flags) string {
	var parts []string
	if f.HasMask {
		parts = append(parts, "mask")
	}
	if f.HasSunglasses {
		parts = append(parts, "sunglasses")
	}
	if f.IsObstructed {
		parts = append(parts, "obstructed")
	}
	if !f.EyesOpen {
		parts = append(parts, "eyes-closed")
	}
	if !f.IsCloseEnough {
		parts = append(parts, "too-far")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}
