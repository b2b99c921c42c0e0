package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/livecapture/internal/capture"
	"github.com/andresmejia3/livecapture/internal/config"
	"github.com/andresmejia3/livecapture/internal/session"
	"github.com/andresmejia3/livecapture/internal/types"
	"github.com/andresmejia3/livecapture/internal/utils"
	"github.com/andresmejia3/livecapture/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var scanOpts Options

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a guided capture session (frontal, left, right)",
	Long: `Runs a full capture session. Face records come either from a recorded
JSON Lines file (--faces) or from an external detector process (--detector)
fed with the frames of --video. Photos are taken from --video.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runScan(cmd.Context(), scanOpts)
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.FacesPath, "faces", "f", "", "Recorded face records (JSON Lines)")
	scanCmd.Flags().StringVar(&scanOpts.DetectorCmd, "detector", "", "Face detector command (speaks the FD 3 protocol)")
	scanCmd.Flags().StringVarP(&scanOpts.VideoPath, "video", "i", "", "Camera source (MJPEG stream, or any video with --detector)")
	scanCmd.Flags().StringVarP(&scanOpts.ProfilePath, "profile", "p", "", "Capture profile (YAML)")
	scanCmd.Flags().StringVarP(&scanOpts.OutputDir, "output", "o", "", "Write the captured photos to this directory")
	scanCmd.Flags().StringVar(&scanOpts.FrameInterval, "frame-interval", "33ms", "Pacing of replayed face records")
	scanCmd.Flags().BoolVar(&scanOpts.Save, "save", false, "Store the completed session in PostgreSQL")

	scanCmd.MarkFlagRequired("video")
	scanCmd.MarkFlagsMutuallyExclusive("faces", "detector")
	rootCmd.AddCommand(scanCmd)
}

// runScan wires a frame source, the capture camera and the session loop, then
// hands the result to the configured sinks.
func runScan(ctx context.Context, opts Options) error {
	if err := validateScanFlags(&opts); err != nil {
		utils.ShowError("Invalid scan options", err, nil)
		return err
	}

	profile, err := config.LoadProfile(opts.ProfilePath)
	if err != nil {
		utils.ShowError("Failed to load capture profile", err, nil)
		return err
	}

	sinks, err := scanSinks(ctx, opts)
	if err != nil {
		return err
	}

	srcCtx, stopSource := context.WithCancel(ctx)
	defer stopSource()

	frames := make(chan types.Frame)
	srcErr := make(chan error, 1)
	var camera capture.Camera
	var det *worker.DetectorWorker

	if opts.DetectorCmd != "" {
		live := &capture.LatestFrame{}
		camera = live

		det, err = worker.NewDetectorWorker(srcCtx, 0, opts.DetectorCmd)
		if err != nil {
			utils.ShowError("Failed to start face detector", err, nil)
			return err
		}
		defer det.Close()

		ffmpeg := utils.NewFFmpegCmd(srcCtx, opts.VideoPath)
		ffmpegOut, err := ffmpeg.StdoutPipe()
		if err != nil {
			utils.ShowError("Failed to create FFmpeg stdout pipe", err, nil)
			return err
		}
		defer ffmpegOut.Close() // Ensure pipe is closed to prevent leaks/zombies
		if err := ffmpeg.Start(); err != nil {
			utils.ShowError("Failed to start FFmpeg", err, nil)
			return err
		}
		defer ffmpeg.Wait()

		go func() { srcErr <- detectFrames(srcCtx, det, ffmpegOut, live, frames) }()
	} else {
		stream, err := capture.OpenStreamCamera(opts.VideoPath, true)
		if err != nil {
			utils.ShowError("Failed to open camera stream", err, nil)
			return err
		}
		camera = stream

		faces, err := os.Open(opts.FacesPath)
		if err != nil {
			utils.ShowError("Failed to open face records", err, nil)
			return err
		}
		defer faces.Close()

		interval, _ := time.ParseDuration(opts.FrameInterval)
		go func() { srcErr <- replayFrames(srcCtx, faces, interval, frames) }()
	}

	seq := capture.NewSequencer(camera, capture.JPEGCompressor{}, profile.Capture(), log)
	sess := session.New(seq, profile.Session(), log)
	fmt.Fprintf(os.Stderr, "📸 Session %s: %d photos per phase\n", sess.ID(), profile.PhotoCount)

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("🙂 Starting"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	updates := make(chan session.Update, 16)
	var uiDone sync.WaitGroup
	uiDone.Add(1)
	go func() {
		defer uiDone.Done()
		renderUpdates(bar, updates)
	}()

	res, runErr := sess.Run(ctx, frames, updates)
	stopSource()
	close(updates)
	uiDone.Wait()

	if runErr != nil {
		fmt.Fprintln(os.Stderr)
		switch {
		case errors.Is(runErr, session.ErrCancelled):
			fmt.Fprintln(os.Stderr, "🛑 Session cancelled, no photos kept.")
		case errors.Is(runErr, session.ErrStreamEnded):
			// The source's own error explains why the stream ended early.
			if err := <-srcErr; err != nil && !errors.Is(err, context.Canceled) {
				var cmdLogs *utils.SafeCommand
				if det != nil {
					cmdLogs = det.Cmd
				}
				utils.ShowError("Frame source failed", err, cmdLogs)
				return err
			}
			utils.ShowError("Frames ran out before the scan completed", runErr, nil)
		default:
			utils.ShowError("Capture session failed", runErr, nil)
		}
		return runErr
	}

	bar.Finish()
	fmt.Fprintf(os.Stderr, "\n✅ Scan complete: %d photos in %s\n", len(res.Photos), res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))

	for _, sink := range sinks {
		if err := sink.Submit(ctx, res); err != nil {
			utils.ShowError("Failed to hand off the session", err, nil)
			return err
		}
	}
	return nil
}

// renderUpdates mirrors session snapshots onto the progress bar until updates closes.
func renderUpdates(bar *progressbar.ProgressBar, updates <-chan session.Update) {
	lastPhase := types.ScanPhase(-1)
	for u := range updates {
		if u.Phase != lastPhase {
			log.WithField("phase", u.Phase.String()).Debug("phase changed")
			lastPhase = u.Phase
		}
		msg := u.Instruction()
		if u.Capturing && u.Status != "" {
			msg = u.Status
		}
		bar.Describe(fmt.Sprintf("%s %-14s %s", phaseIcon(u.Phase), u.Phase, msg))
		bar.Set(u.Progress)
	}
}

func phaseIcon(p types.ScanPhase) string {
	switch p {
	case types.TurnLeft:
		return "👈"
	case types.TurnRight:
		return "👉"
	case types.Completed:
		return "✅"
	default:
		return "🙂"
	}
}

// scanSinks builds the hand-off targets for a completed session.
func scanSinks(ctx context.Context, opts Options) ([]session.Sink, error) {
	var sinks []session.Sink
	if opts.OutputDir != "" {
		sinks = append(sinks, dirSink{dir: opts.OutputDir})
	}
	if opts.Save {
		if err := openDB(ctx); err != nil {
			utils.ShowError("Failed to open the session store", err, nil)
			return nil, err
		}
		sinks = append(sinks, DB)
	}
	if len(sinks) == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  Neither --output nor --save given, photos will be discarded.")
	}
	return sinks, nil
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy processes.
func validateScanFlags(opts *Options) error {
	if opts.FacesPath == "" && opts.DetectorCmd == "" {
		return fmt.Errorf("one of --faces or --detector is required")
	}
	if opts.FacesPath != "" && opts.DetectorCmd != "" {
		return fmt.Errorf("--faces and --detector are mutually exclusive")
	}

	paths := []string{opts.VideoPath}
	if opts.FacesPath != "" {
		paths = append(paths, opts.FacesPath)
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("unable to access %q: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%q is a directory, expected a file", p)
		}
	}

	if opts.FrameInterval == "" {
		opts.FrameInterval = "0s"
	}
	if d, err := time.ParseDuration(opts.FrameInterval); err != nil || d < 0 {
		return fmt.Errorf("invalid frame-interval %q (use '33ms', '0s')", opts.FrameInterval)
	}
	return nil
}
