package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/andresmejia3/livecapture/internal/capture"
	"github.com/andresmejia3/livecapture/internal/types"
	"github.com/andresmejia3/livecapture/internal/utils"
	"github.com/andresmejia3/livecapture/internal/worker"
)

const megabyte = 1024 * 1024

// decodeFrames parses a JSON Lines stream of face records. Blank lines are
// skipped and a missing index defaults to the line number.
func decodeFrames(r io.Reader, fn func(types.Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*megabyte)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		frame := types.Frame{Index: line}
		if err := json.Unmarshal(raw, &frame); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// replayFrames sends recorded frames to out, one per interval, and closes out
// when the stream ends.
func replayFrames(ctx context.Context, r io.Reader, interval time.Duration, out chan<- types.Frame) error {
	defer close(out)

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	return decodeFrames(r, func(f types.Frame) error {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- f:
			return nil
		}
	})
}

// detectFrames splits an MJPEG stream, runs every frame through the detector,
// publishes the JPEG as the live camera frame and forwards the result.
func detectFrames(ctx context.Context, det *worker.DetectorWorker, r io.Reader, cam *capture.LatestFrame, out chan<- types.Frame) error {
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	index := 0
	for scanner.Scan() {
		index++
		jpeg := make([]byte, len(scanner.Bytes()))
		copy(jpeg, scanner.Bytes())

		frame, err := det.Detect(jpeg)
		if err != nil {
			return fmt.Errorf("frame %d: %w", index, err)
		}
		frame.Index = index
		cam.Publish(jpeg)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- frame:
		}
	}
	return scanner.Err()
}
