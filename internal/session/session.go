// Package session drives one capture session: it validates frames for the
// active phase, starts a burst once the face is ready, and collects the photos
// of every phase in order.
//
// A Session is not safe for concurrent use. Run owns it on a single goroutine
// and marshals burst progress back onto that goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/livecapture/internal/capture"
	"github.com/andresmejia3/livecapture/internal/facecheck"
	"github.com/andresmejia3/livecapture/internal/stability"
	"github.com/andresmejia3/livecapture/internal/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Ring fill: the progress ring has TotalTicks ticks split evenly across the
// three capture phases.
const (
	TotalTicks    = 72
	TicksPerPhase = TotalTicks / 3
)

var (
	// ErrNotCompleted is returned by Result before the last phase finished.
	ErrNotCompleted = errors.New("scan not completed")
	// ErrBurstState is returned when the burst lifecycle is driven out of order.
	ErrBurstState = errors.New("invalid burst state")
)

// Action tells the loop what to do after a frame.
type Action int

const (
	ActionNone Action = iota
	ActionStartBurst
	ActionAbortBurst
)

// Photo is one compressed capture.
type Photo struct {
	Phase types.ScanPhase
	Seq   int
	Data  []byte
}

// Result is what a completed session hands to the upload side.
type Result struct {
	SessionID   uuid.UUID
	Photos      []Photo
	StartedAt   time.Time
	CompletedAt time.Time
}

// Bytes returns the photo buffers in order: frontal, then left, then right.
func (r Result) Bytes() [][]byte {
	out := make([][]byte, len(r.Photos))
	for i, p := range r.Photos {
		out[i] = p.Data
	}
	return out
}

// Sink receives completed sessions.
type Sink interface {
	Submit(ctx context.Context, r Result) error
}

// Update is the per-frame snapshot for the UI.
type Update struct {
	FrameIndex    int
	Phase         types.ScanPhase
	Verdict       facecheck.Verdict
	FaceDetected  bool
	Capturing     bool
	PhotosInPhase int
	PhotoCount    int
	Progress      int
	Status        string
}

// Instruction is the headline text for the UI.
func (u Update) Instruction() string {
	switch {
	case u.Phase == types.Completed:
		return "Done!"
	case !u.FaceDetected:
		return "Place your face in the frame"
	case !u.Verdict.Valid:
		return u.Verdict.Reason
	}
	switch u.Phase {
	case types.TurnLeft:
		return "Turn your head left"
	case types.TurnRight:
		return "Turn your head right"
	default:
		return "Look straight at the camera"
	}
}

// Options tune session behaviour beyond the burst settings.
type Options struct {
	// AbortOnSpoof cancels a running burst when the mid-capture check sees a
	// mask or sunglasses.
	AbortOnSpoof bool
}

type Session struct {
	id           uuid.UUID
	machine      *PhaseMachine
	seq          *capture.Sequencer
	photoCount   int
	abortOnSpoof bool
	log          logrus.FieldLogger

	stab          stability.State
	verdict       facecheck.Verdict
	faceDetected  bool
	lastFrame     int
	photos        []Photo
	photosInPhase int
	capturing     bool
	status        string
	startedAt     time.Time
	completedAt   time.Time
}

// New creates a session at FrontalCenter.
func New(seq *capture.Sequencer, opts Options, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	id := uuid.New()
	return &Session{
		id:           id,
		machine:      NewPhaseMachine(),
		seq:          seq,
		photoCount:   seq.Config().PhotoCount,
		abortOnSpoof: opts.AbortOnSpoof,
		log:          log.WithField("session_id", id.String()),
		verdict:      facecheck.NoFace,
		startedAt:    time.Now(),
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) Phase() types.ScanPhase { return s.machine.Current() }

func (s *Session) Done() bool { return s.machine.Done() }

func (s *Session) Capturing() bool { return s.capturing }

func (s *Session) Stability() stability.State { return s.stab }

// Photos returns the photos of every finished phase.
func (s *Session) Photos() []Photo {
	out := make([]Photo, len(s.photos))
	copy(out, s.photos)
	return out
}

// HandleFrame validates one frame for the active phase. While a burst runs
// only the lightweight check is applied and no new burst is requested.
func (s *Session) HandleFrame(frame types.Frame) (Update, Action) {
	if s.Done() {
		return s.Snapshot(), ActionNone
	}

	s.lastFrame = frame.Index
	s.faceDetected = frame.Face != nil
	phase := s.machine.Current()

	if s.capturing {
		s.verdict, s.stab = facecheck.QuickCheck(frame.Face, phase, s.stab)
		if s.abortOnSpoof && s.verdict.Spoof() {
			s.log.WithFields(logrus.Fields{"phase": phase.String(), "reason": s.verdict.Failure}).Warn("spoof detected mid-burst")
			return s.Snapshot(), ActionAbortBurst
		}
		return s.Snapshot(), ActionNone
	}

	s.verdict, s.stab = facecheck.Validate(frame.Face, frame.Width, phase, s.stab)
	if s.verdict.Valid {
		return s.Snapshot(), ActionStartBurst
	}
	return s.Snapshot(), ActionNone
}

// BeginBurst marks the active phase as capturing.
func (s *Session) BeginBurst() error {
	if s.capturing || s.Done() {
		return fmt.Errorf("%w: begin while capturing=%v phase=%s", ErrBurstState, s.capturing, s.Phase())
	}
	s.capturing = true
	s.photosInPhase = 0
	s.status = "Starting capture..."
	s.log.WithField("phase", s.Phase().String()).Info("burst started")
	return nil
}

// SlotDone records progress inside the running burst.
func (s *Session) SlotDone(ev capture.SlotEvent) {
	if !s.capturing || ev.Phase != s.Phase() {
		return
	}
	if ev.OK() {
		s.photosInPhase++
		s.status = fmt.Sprintf("✓ Captured %d/%d", s.photosInPhase, s.photoCount)
		return
	}
	s.status = "✗ Capture error"
}

// FinishBurst closes the running burst. On success the burst's photos are
// appended as a block and the phase advances. On failure the photos are
// dropped and the same phase starts over. The stability state is reset in
// both cases.
func (s *Session) FinishBurst(res capture.BurstResult, burstErr error) error {
	if !s.capturing {
		return fmt.Errorf("%w: finish without a running burst", ErrBurstState)
	}
	phase := s.Phase()
	s.capturing = false
	s.photosInPhase = 0
	s.status = ""
	s.stab = stability.Reset()

	log := s.log.WithField("phase", phase.String())
	if burstErr != nil {
		log.WithError(burstErr).Warn("burst failed, phase will be captured again")
		return nil
	}
	if res.Phase != phase || len(res.Photos) != s.photoCount {
		log.WithFields(logrus.Fields{"got_phase": res.Phase.String(), "photos": len(res.Photos)}).Warn("burst result rejected")
		return nil
	}

	for i, data := range res.Photos {
		s.photos = append(s.photos, Photo{Phase: phase, Seq: i, Data: data})
	}

	next, err := s.machine.Advance()
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"next": next.String(), "total_photos": len(s.photos)}).Info("phase complete")
	if next == types.Completed {
		s.completedAt = time.Now()
	}
	return nil
}

// discard drops any in-flight burst state after cancellation.
func (s *Session) discard() {
	s.capturing = false
	s.photosInPhase = 0
	s.status = ""
	s.stab = stability.Reset()
}

// Progress returns the ring fill in percent.
func (s *Session) Progress() int {
	phase := s.Phase()
	if phase == types.Completed {
		return 100
	}
	ticks := int(phase) * TicksPerPhase
	if s.photoCount > 0 {
		ticks += s.photosInPhase * TicksPerPhase / s.photoCount
	}
	return min(ticks, TotalTicks) * 100 / TotalTicks
}

// Snapshot builds the UI update for the current state.
func (s *Session) Snapshot() Update {
	return Update{
		FrameIndex:    s.lastFrame,
		Phase:         s.Phase(),
		Verdict:       s.verdict,
		FaceDetected:  s.faceDetected,
		Capturing:     s.capturing,
		PhotosInPhase: s.photosInPhase,
		PhotoCount:    s.photoCount,
		Progress:      s.Progress(),
		Status:        s.status,
	}
}

// Result returns the ordered photo collection of a completed session.
func (s *Session) Result() (Result, error) {
	if !s.Done() {
		return Result{}, fmt.Errorf("%w: at phase %s", ErrNotCompleted, s.Phase())
	}
	return Result{
		SessionID:   s.id,
		Photos:      s.Photos(),
		StartedAt:   s.startedAt,
		CompletedAt: s.completedAt,
	}, nil
}
