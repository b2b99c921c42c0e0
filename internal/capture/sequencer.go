// Package capture runs timed photo bursts once a face has been validated.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/livecapture/internal/types"
	"github.com/sirupsen/logrus"
)

// ErrBurstAborted is returned when a slot keeps failing after its retries.
// The phase must be captured again from scratch.
var ErrBurstAborted = errors.New("capture burst aborted")

// Camera issues one shutter request and returns the raw frame bytes.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Compressor downsamples and re-encodes a captured photo.
type Compressor interface {
	Compress(raw []byte, maxDimension, quality int) ([]byte, error)
}

// Config controls a burst.
type Config struct {
	PhotoCount   int
	Interval     time.Duration
	MaxDimension int
	Quality      int
	// SlotRetries is how many extra attempts a failed slot gets.
	SlotRetries int
}

// DefaultConfig matches the production capture flow: 3 photos, 600ms apart,
// longest side 640px, JPEG quality 80, one retry per slot.
func DefaultConfig() Config {
	return Config{
		PhotoCount:   3,
		Interval:     600 * time.Millisecond,
		MaxDimension: 640,
		Quality:      80,
		SlotRetries:  1,
	}
}

// SlotEvent reports the outcome of a single shutter attempt.
type SlotEvent struct {
	Phase   types.ScanPhase
	Slot    int
	Attempt int
	Bytes   int
	Err     error
}

// OK reports whether the attempt produced a photo.
func (e SlotEvent) OK() bool { return e.Err == nil }

// SlotFailure records a failed shutter attempt.
type SlotFailure struct {
	Slot    int
	Attempt int
	Err     error
}

// BurstResult holds the compressed photos of one phase in capture order.
type BurstResult struct {
	Phase    types.ScanPhase
	Photos   [][]byte
	Failures []SlotFailure
}

// Sequencer takes PhotoCount photos spaced by Interval.
type Sequencer struct {
	camera     Camera
	compressor Compressor
	cfg        Config
	log        logrus.FieldLogger
}

func NewSequencer(camera Camera, compressor Compressor, cfg Config, log logrus.FieldLogger) *Sequencer {
	if cfg.PhotoCount < 1 {
		cfg.PhotoCount = 1
	}
	if cfg.SlotRetries < 0 {
		cfg.SlotRetries = 0
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sequencer{camera: camera, compressor: compressor, cfg: cfg, log: log}
}

// Config returns the burst settings in effect.
func (s *Sequencer) Config() Config { return s.cfg }

// RunBurst captures one phase. onSlot, if set, is called after every attempt
// from the calling goroutine.
//
// A nil error guarantees exactly PhotoCount photos. A slot that still fails
// after its retries aborts the burst with ErrBurstAborted; cancellation returns
// the context error. Either way no photos are returned.
func (s *Sequencer) RunBurst(ctx context.Context, phase types.ScanPhase, onSlot func(SlotEvent)) (BurstResult, error) {
	res := BurstResult{Phase: phase, Photos: make([][]byte, 0, s.cfg.PhotoCount)}
	log := s.log.WithField("phase", phase.String())

	for slot := 0; slot < s.cfg.PhotoCount; slot++ {
		if slot > 0 {
			if err := sleepCtx(ctx, s.cfg.Interval); err != nil {
				return BurstResult{Phase: phase, Failures: res.Failures}, err
			}
		}

		photo, err := s.shoot(ctx, phase, slot, &res, onSlot)
		if err != nil {
			log.WithError(err).Warn("burst stopped")
			return BurstResult{Phase: phase, Failures: res.Failures}, err
		}
		res.Photos = append(res.Photos, photo)
	}

	log.WithField("photos", len(res.Photos)).Debug("burst complete")
	return res, nil
}

func (s *Sequencer) shoot(ctx context.Context, phase types.ScanPhase, slot int, res *BurstResult, onSlot func(SlotEvent)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.SlotRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		photo, err := s.captureOne(ctx)
		ev := SlotEvent{Phase: phase, Slot: slot, Attempt: attempt, Bytes: len(photo), Err: err}
		if onSlot != nil {
			onSlot(ev)
		}
		if err == nil {
			s.log.WithFields(logrus.Fields{"phase": phase.String(), "slot": slot + 1, "bytes": len(photo)}).Debug("photo captured")
			return photo, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		res.Failures = append(res.Failures, SlotFailure{Slot: slot, Attempt: attempt, Err: err})
		s.log.WithFields(logrus.Fields{"phase": phase.String(), "slot": slot + 1, "attempt": attempt + 1}).
			WithError(err).Warn("capture failed")
	}
	return nil, fmt.Errorf("%w: slot %d/%d: %v", ErrBurstAborted, slot+1, s.cfg.PhotoCount, lastErr)
}

func (s *Sequencer) captureOne(ctx context.Context) ([]byte, error) {
	raw, err := s.camera.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("shutter: %w", err)
	}
	out, err := s.compressor.Compress(raw, s.cfg.MaxDimension, s.cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return out, nil
}

// sleepCtx waits on a timer so a cancelled session does not sit out the interval.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
