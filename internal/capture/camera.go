package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/livecapture/internal/utils"
)

const megabyte = 1024 * 1024

// ErrCameraExhausted is returned once a non-looping stream camera has handed
// out every frame.
var ErrCameraExhausted = errors.New("camera stream exhausted")

// ErrNoFrame is returned when a live camera has not produced a frame yet.
var ErrNoFrame = errors.New("no frame available")

// StreamCamera replays JPEG frames split from an MJPEG byte stream.
type StreamCamera struct {
	mu     sync.Mutex
	frames [][]byte
	next   int
	loop   bool
}

// NewStreamCamera reads every JPEG frame from r up front.
func NewStreamCamera(r io.Reader, loop bool) (*StreamCamera, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	var frames [][]byte
	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("split frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no JPEG frames found in stream")
	}
	return &StreamCamera{frames: frames, loop: loop}, nil
}

// OpenStreamCamera loads an MJPEG (or single JPEG) file.
func OpenStreamCamera(path string, loop bool) (*StreamCamera, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewStreamCamera(f, loop)
}

// Len returns the number of frames in the stream.
func (c *StreamCamera) Len() int { return len(c.frames) }

func (c *StreamCamera) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.next >= len(c.frames) {
		if !c.loop {
			return nil, ErrCameraExhausted
		}
		c.next = 0
	}
	frame := c.frames[c.next]
	c.next++
	return frame, nil
}

// LatestFrame is a camera over a live feed: the producer publishes every frame
// and a shutter request returns whatever is current.
type LatestFrame struct {
	mu    sync.RWMutex
	frame []byte
}

// Publish replaces the current frame. The slice is retained, not copied.
func (c *LatestFrame) Publish(frame []byte) {
	c.mu.Lock()
	c.frame = frame
	c.mu.Unlock()
}

func (c *LatestFrame) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.frame == nil {
		return nil, ErrNoFrame
	}
	out := make([]byte, len(c.frame))
	copy(out, c.frame)
	return out, nil
}
