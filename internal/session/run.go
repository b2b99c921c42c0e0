package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/livecapture/internal/capture"
	"github.com/andresmejia3/livecapture/internal/types"
)

var (
	// ErrCancelled is returned when the caller's context ends the session.
	ErrCancelled = errors.New("session cancelled")
	// ErrStreamEnded is returned when the frame source closes before the last phase.
	ErrStreamEnded = errors.New("frame stream ended before the scan completed")
)

type slotMsg struct {
	burst int
	ev    capture.SlotEvent
}

type burstOutcome struct {
	burst int
	res   capture.BurstResult
	err   error
}

// Run consumes frames until every phase is captured, the stream closes, or ctx
// is cancelled. Updates are sent without blocking; a slow reader misses
// snapshots, never frames. updates may be nil.
//
// Bursts run on their own goroutine, but every state change happens here.
// Cancellation stops the running burst and waits for it before returning,
// and photos of an unfinished phase are discarded.
func (s *Session) Run(ctx context.Context, frames <-chan types.Frame, updates chan<- Update) (Result, error) {
	var (
		burst       int
		burstCancel context.CancelFunc
		slots       = make(chan slotMsg, 2*(s.photoCount+1))
		done        = make(chan burstOutcome, 1)
	)

	stopBurst := func() {
		if burstCancel == nil {
			return
		}
		burstCancel()
		<-done
		burstCancel = nil
	}

	startBurst := func() error {
		if err := s.BeginBurst(); err != nil {
			return err
		}
		burst++
		id, phase := burst, s.Phase()
		bctx, cancel := context.WithCancel(ctx)
		burstCancel = cancel
		go func() {
			res, err := s.seq.RunBurst(bctx, phase, func(ev capture.SlotEvent) {
				select {
				case slots <- slotMsg{burst: id, ev: ev}:
				case <-bctx.Done():
				}
			})
			done <- burstOutcome{burst: id, res: res, err: err}
		}()
		return nil
	}

	publish := func() {
		if updates == nil {
			return
		}
		select {
		case updates <- s.Snapshot():
		default:
		}
	}

	s.log.Info("session started")
	for {
		select {
		case <-ctx.Done():
			stopBurst()
			s.discard()
			s.log.WithField("phase", s.Phase().String()).Info("session cancelled")
			return Result{}, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))

		case msg := <-slots:
			if msg.burst == burst {
				s.SlotDone(msg.ev)
				publish()
			}

		case out := <-done:
			burstCancel()
			burstCancel = nil
			if err := s.FinishBurst(out.res, out.err); err != nil {
				return Result{}, err
			}
			publish()
			if s.Done() {
				s.log.WithField("photos", len(s.photos)).Info("session completed")
				return s.Result()
			}
			if frames == nil {
				return Result{}, fmt.Errorf("%w: at phase %s", ErrStreamEnded, s.Phase())
			}

		case frame, ok := <-frames:
			if !ok {
				if s.capturing {
					// Let the running burst decide the outcome.
					frames = nil
					continue
				}
				return Result{}, fmt.Errorf("%w: at phase %s", ErrStreamEnded, s.Phase())
			}
			_, action := s.HandleFrame(frame)
			switch action {
			case ActionStartBurst:
				if err := startBurst(); err != nil {
					return Result{}, err
				}
			case ActionAbortBurst:
				if burstCancel != nil {
					burstCancel()
				}
			}
			publish()
		}
	}
}
