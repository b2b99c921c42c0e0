package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/livecapture/internal/capture"
	"github.com/andresmejia3/livecapture/internal/facecheck"
	"github.com/andresmejia3/livecapture/internal/types"
	"github.com/sirupsen/logrus"
)

const frameWidth = 480

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// countingCamera returns the shutter count as the photo payload.
type countingCamera struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCamera) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return []byte{byte(c.calls)}, nil
}

type passthrough struct{}

func (passthrough) Compress(raw []byte, _, _ int) ([]byte, error) { return raw, nil }

func newTestSession(interval time.Duration, opts Options) *Session {
	cfg := capture.DefaultConfig()
	cfg.Interval = interval
	seq := capture.NewSequencer(&countingCamera{}, passthrough{}, cfg, quietLogger())
	return New(seq, opts, quietLogger())
}

func prob(v float64) *float64 { return &v }

func points(n int) []types.Point {
	pts := make([]types.Point, n)
	for i := range pts {
		pts[i] = types.Point{X: float64(i), Y: float64(i)}
	}
	return pts
}

// faceFor returns a face that satisfies every check for the given phase.
func faceFor(phase types.ScanPhase) *types.FaceRecord {
	f := &types.FaceRecord{
		Box:          types.Box{Left: 140, Top: 100, Right: 340, Bottom: 350},
		Landmarks:    map[types.Landmark]types.Point{},
		Contours:     map[types.Contour][]types.Point{},
		LeftEyeOpen:  prob(0.9),
		RightEyeOpen: prob(0.9),
	}
	for _, l := range []types.Landmark{
		types.LeftEye, types.RightEye, types.NoseBase, types.MouthLeft,
		types.MouthRight, types.MouthBottom, types.LeftCheek, types.RightCheek,
	} {
		f.Landmarks[l] = types.Point{X: 1, Y: 1}
	}
	for _, c := range []types.Contour{
		types.LeftEyeContour, types.RightEyeContour, types.UpperLipTop, types.LowerLipBottom,
		types.NoseBridge, types.NoseBottom, types.LeftEyebrowTop, types.RightEyebrowTop,
	} {
		f.Contours[c] = points(5)
	}
	f.Contours[types.FaceOutline] = points(36)

	switch phase {
	case types.TurnLeft:
		f.Yaw = 30
	case types.TurnRight:
		f.Yaw = -30
	}
	return f
}

func frameFor(i int, phase types.ScanPhase) types.Frame {
	return types.Frame{Index: i, Width: frameWidth, Height: 640, Face: faceFor(phase)}
}

func burstOf(phase types.ScanPhase, n int) capture.BurstResult {
	res := capture.BurstResult{Phase: phase}
	for i := 0; i < n; i++ {
		res.Photos = append(res.Photos, []byte{byte(phase), byte(i)})
	}
	return res
}

func TestPhaseMachine(t *testing.T) {
	m := NewPhaseMachine()
	want := []types.ScanPhase{types.TurnLeft, types.TurnRight, types.Completed}
	for _, w := range want {
		got, err := m.Advance()
		if err != nil || got != w {
			t.Fatalf("Advance() = %s, %v; want %s", got, err, w)
		}
	}
	if !m.Done() {
		t.Error("Expected machine to be done")
	}
	if _, err := m.Advance(); !errors.Is(err, ErrPhaseCompleted) {
		t.Errorf("Expected ErrPhaseCompleted, got %v", err)
	}
}

func TestHandleFrameRequestsBurstOnThirdValidFrame(t *testing.T) {
	s := newTestSession(0, Options{})
	for i := 1; i <= facecheck.RequiredStableFrames; i++ {
		upd, action := s.HandleFrame(frameFor(i, types.FrontalCenter))
		if i < facecheck.RequiredStableFrames {
			if action != ActionNone || upd.Verdict.Reason != facecheck.MsgHoldStill {
				t.Fatalf("frame %d: got action %d, verdict %+v", i, action, upd.Verdict)
			}
			continue
		}
		if action != ActionStartBurst || !upd.Verdict.Valid {
			t.Fatalf("frame %d: expected a burst request, got %d %+v", i, action, upd.Verdict)
		}
	}
}

func TestHandleFrameWrongPoseForPhase(t *testing.T) {
	s := newTestSession(0, Options{})
	upd, action := s.HandleFrame(frameFor(1, types.TurnLeft))
	if action != ActionNone || upd.Verdict.Failure != facecheck.KindPose {
		t.Errorf("A turned face must not pass the frontal phase, got %+v", upd.Verdict)
	}
	if upd.Instruction() != facecheck.MsgLookStraight {
		t.Errorf("Instruction() = %q", upd.Instruction())
	}
}

func TestHandleFrameNoFace(t *testing.T) {
	s := newTestSession(0, Options{})
	upd, _ := s.HandleFrame(types.Frame{Index: 1, Width: frameWidth})
	if upd.FaceDetected || upd.Instruction() != "Place your face in the frame" {
		t.Errorf("Unexpected update for an empty frame: %+v", upd)
	}
}

func TestQuickCheckWhileCapturing(t *testing.T) {
	s := newTestSession(0, Options{})
	if err := s.BeginBurst(); err != nil {
		t.Fatal(err)
	}
	// A single frame would normally only earn "hold still".
	upd, action := s.HandleFrame(frameFor(1, types.FrontalCenter))
	if action != ActionNone || !upd.Verdict.Valid || !upd.Capturing {
		t.Errorf("Expected a passing quick check, got %d %+v", action, upd)
	}
	if s.Stability().Consecutive != 0 {
		t.Errorf("Quick check must not count stable frames, got %d", s.Stability().Consecutive)
	}
}

func TestAbortOnSpoof(t *testing.T) {
	sunglasses := func() types.Frame {
		f := frameFor(1, types.FrontalCenter)
		f.Face.LeftEyeOpen, f.Face.RightEyeOpen = nil, nil
		delete(f.Face.Landmarks, types.LeftEye)
		delete(f.Face.Landmarks, types.RightEye)
		return f
	}

	tests := []struct {
		name  string
		abort bool
		want  Action
	}{
		{"Abort enabled", true, ActionAbortBurst},
		{"Abort disabled", false, ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(0, Options{AbortOnSpoof: tt.abort})
			if err := s.BeginBurst(); err != nil {
				t.Fatal(err)
			}
			upd, action := s.HandleFrame(sunglasses())
			if action != tt.want {
				t.Errorf("Expected action %d, got %d", tt.want, action)
			}
			if !upd.Verdict.Flags.HasSunglasses {
				t.Errorf("Expected sunglasses flag, got %+v", upd.Verdict)
			}
		})
	}
}

func TestBurstLifecycle(t *testing.T) {
	s := newTestSession(0, Options{})

	if err := s.FinishBurst(burstOf(types.FrontalCenter, 3), nil); !errors.Is(err, ErrBurstState) {
		t.Fatalf("Finishing without a burst should fail, got %v", err)
	}
	if err := s.BeginBurst(); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginBurst(); !errors.Is(err, ErrBurstState) {
		t.Fatalf("Nested burst should fail, got %v", err)
	}

	s.SlotDone(capture.SlotEvent{Phase: types.FrontalCenter, Slot: 0})
	s.SlotDone(capture.SlotEvent{Phase: types.FrontalCenter, Slot: 1, Err: errors.New("boom")})
	if snap := s.Snapshot(); snap.PhotosInPhase != 1 || snap.Status != "✗ Capture error" {
		t.Errorf("Unexpected snapshot after slots: %+v", snap)
	}

	if err := s.FinishBurst(burstOf(types.FrontalCenter, 3), nil); err != nil {
		t.Fatal(err)
	}
	if s.Phase() != types.TurnLeft || s.Capturing() {
		t.Fatalf("Expected turn_left idle, got %s capturing=%v", s.Phase(), s.Capturing())
	}
	if got := len(s.Photos()); got != 3 {
		t.Errorf("Expected 3 photos, got %d", got)
	}
}

func TestAdvanceResetsStability(t *testing.T) {
	s := newTestSession(0, Options{})
	for i := 1; i <= facecheck.RequiredStableFrames; i++ {
		s.HandleFrame(frameFor(i, types.FrontalCenter))
	}
	if st := s.Stability(); !st.HasPrev || st.Consecutive != facecheck.RequiredStableFrames {
		t.Fatalf("Unexpected stability before the burst: %+v", st)
	}

	if err := s.BeginBurst(); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishBurst(burstOf(types.FrontalCenter, 3), nil); err != nil {
		t.Fatal(err)
	}
	if s.Phase() != types.TurnLeft {
		t.Fatalf("Expected turn_left, got %s", s.Phase())
	}
	if st := s.Stability(); st.HasPrev || st.Consecutive != 0 {
		t.Errorf("Expected stability reset on advance, got %+v", st)
	}

	upd, action := s.HandleFrame(frameFor(4, types.TurnLeft))
	if action != ActionNone || upd.Verdict.Failure != facecheck.KindHoldStill {
		t.Errorf("First turn_left frame should hold still, got %d %+v", action, upd.Verdict)
	}
	if got := s.Stability().Consecutive; got != 1 {
		t.Errorf("Expected counter 1, got %d", got)
	}
}

func TestHandleFrameIgnoredWhenCompleted(t *testing.T) {
	s := newTestSession(0, Options{})
	s.HandleFrame(frameFor(3, types.FrontalCenter))
	for _, phase := range types.CapturePhases() {
		if err := s.BeginBurst(); err != nil {
			t.Fatal(err)
		}
		if err := s.FinishBurst(burstOf(phase, 3), nil); err != nil {
			t.Fatal(err)
		}
	}
	if !s.Done() {
		t.Fatalf("Expected completed, got %s", s.Phase())
	}

	before := s.Snapshot()
	upd, action := s.HandleFrame(frameFor(99, types.FrontalCenter))
	if action != ActionNone {
		t.Errorf("Expected no action, got %d", action)
	}
	if upd.FrameIndex != before.FrameIndex || upd.Phase != types.Completed || upd.Progress != 100 {
		t.Errorf("Frame changed a completed session: %+v", upd)
	}
	if len(s.Photos()) != 9 {
		t.Errorf("Expected 9 photos, got %d", len(s.Photos()))
	}
	if err := s.BeginBurst(); !errors.Is(err, ErrBurstState) {
		t.Errorf("Expected ErrBurstState after completion, got %v", err)
	}
}

func TestFailedBurstRetriesPhase(t *testing.T) {
	s := newTestSession(0, Options{})
	for i := 1; i <= 3; i++ {
		s.HandleFrame(frameFor(i, types.FrontalCenter))
	}
	if err := s.BeginBurst(); err != nil {
		t.Fatal(err)
	}
	s.SlotDone(capture.SlotEvent{Phase: types.FrontalCenter})

	if err := s.FinishBurst(capture.BurstResult{Phase: types.FrontalCenter}, capture.ErrBurstAborted); err != nil {
		t.Fatal(err)
	}
	if s.Phase() != types.FrontalCenter {
		t.Errorf("Phase must not advance after a failed burst, got %s", s.Phase())
	}
	if len(s.Photos()) != 0 || s.Progress() != 0 {
		t.Errorf("Failed burst leaked state: %d photos, %d%%", len(s.Photos()), s.Progress())
	}
	if st := s.Stability(); st.HasPrev || st.Consecutive != 0 {
		t.Errorf("Expected stability reset, got %+v", st)
	}
}

func TestShortBurstIsRejected(t *testing.T) {
	s := newTestSession(0, Options{})
	_ = s.BeginBurst()
	if err := s.FinishBurst(burstOf(types.FrontalCenter, 2), nil); err != nil {
		t.Fatal(err)
	}
	if s.Phase() != types.FrontalCenter || len(s.Photos()) != 0 {
		t.Errorf("A short burst must not be merged")
	}
}

func TestProgress(t *testing.T) {
	s := newTestSession(0, Options{})
	step := func(photos int) {
		t.Helper()
		_ = s.BeginBurst()
		for i := 0; i < photos; i++ {
			s.SlotDone(capture.SlotEvent{Phase: s.Phase(), Slot: i})
		}
	}

	if got := s.Progress(); got != 0 {
		t.Errorf("Start: got %d%%", got)
	}

	step(1)
	if got := s.Progress(); got != 11 { // 8 of 72 ticks
		t.Errorf("1 frontal photo: got %d%%", got)
	}
	_ = s.FinishBurst(burstOf(types.FrontalCenter, 3), nil)

	if got := s.Progress(); got != 33 {
		t.Errorf("Turn left start: got %d%%", got)
	}
	step(3)
	_ = s.FinishBurst(burstOf(types.TurnLeft, 3), nil)

	step(2)
	if got := s.Progress(); got != 88 { // 64 of 72 ticks
		t.Errorf("2 right photos: got %d%%", got)
	}
	_ = s.FinishBurst(burstOf(types.TurnRight, 3), nil)

	if got := s.Progress(); got != 100 {
		t.Errorf("Completed: got %d%%", got)
	}
}

func TestResultBeforeCompletion(t *testing.T) {
	s := newTestSession(0, Options{})
	if _, err := s.Result(); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("Expected ErrNotCompleted, got %v", err)
	}
}

// feed plays the user: it shows the pose the latest update asks for until the
// scan completes or stop is closed.
func feed(frames chan<- types.Frame, updates <-chan Update, stop <-chan struct{}) {
	phase := types.FrontalCenter
	for i := 0; ; i++ {
	drain:
		for {
			select {
			case u := <-updates:
				phase = u.Phase
			default:
				break drain
			}
		}
		if phase == types.Completed {
			return
		}
		select {
		case frames <- frameFor(i, phase):
		case <-stop:
			return
		}
	}
}

func TestRunCompletesAllPhases(t *testing.T) {
	s := newTestSession(0, Options{})
	frames := make(chan types.Frame)
	updates := make(chan Update, 4096)
	stop := make(chan struct{})
	defer close(stop)
	go feed(frames, updates, stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.Run(ctx, frames, updates)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.SessionID != s.ID() {
		t.Errorf("Result carries the wrong session id")
	}
	if len(res.Photos) != 9 {
		t.Fatalf("Expected 9 photos, got %d", len(res.Photos))
	}

	wantPhases := []types.ScanPhase{types.FrontalCenter, types.TurnLeft, types.TurnRight}
	for i, p := range res.Photos {
		if p.Phase != wantPhases[i/3] || p.Seq != i%3 {
			t.Errorf("Photo %d: got %s #%d", i, p.Phase, p.Seq)
		}
		if i > 0 && p.Data[0] <= res.Photos[i-1].Data[0] {
			t.Errorf("Photo %d out of capture order", i)
		}
	}
	if len(res.Bytes()) != 9 {
		t.Errorf("Bytes() returned %d buffers", len(res.Bytes()))
	}
	if res.CompletedAt.Before(res.StartedAt) {
		t.Error("CompletedAt precedes StartedAt")
	}
}

// awaitFrame reads updates until the one produced by frame index i.
func awaitFrame(t *testing.T, updates <-chan Update, i int) Update {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.FrameIndex == i && u.FaceDetected {
				return u
			}
		case <-timeout:
			t.Fatalf("No update for frame %d", i)
		}
	}
}

func TestRunNewPhaseStartsCountingAgain(t *testing.T) {
	s := newTestSession(0, Options{})
	frames := make(chan types.Frame)
	updates := make(chan Update, 64)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx, frames, updates)
		errc <- err
	}()

	for i := 1; i <= facecheck.RequiredStableFrames; i++ {
		frames <- frameFor(i, types.FrontalCenter)
	}
	timeout := time.After(5 * time.Second)
wait:
	for {
		select {
		case u := <-updates:
			if u.Phase == types.TurnLeft && !u.Capturing {
				break wait
			}
		case <-timeout:
			t.Fatal("Frontal burst never finished")
		}
	}

	frames <- frameFor(10, types.TurnLeft)
	upd := awaitFrame(t, updates, 10)
	if upd.Phase != types.TurnLeft || upd.Capturing {
		t.Fatalf("Unexpected update: %+v", upd)
	}
	if upd.Verdict.Failure != facecheck.KindHoldStill || upd.Instruction() != facecheck.MsgHoldStill {
		t.Errorf("First turn_left frame should read hold still, got %+v", upd.Verdict)
	}

	// The second frame is still short of the required count.
	frames <- frameFor(11, types.TurnLeft)
	if upd := awaitFrame(t, updates, 11); upd.Verdict.Valid {
		t.Errorf("Second turn_left frame must not be valid yet")
	}

	cancel()
	if err := <-errc; !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
}

func TestRunCancelledMidBurst(t *testing.T) {
	s := newTestSession(time.Hour, Options{})
	frames := make(chan types.Frame)
	updates := make(chan Update, 64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for i := 1; i <= facecheck.RequiredStableFrames; i++ {
			frames <- frameFor(i, types.FrontalCenter)
		}
		for u := range updates {
			if u.Capturing {
				cancel()
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx, frames, updates)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Expected ErrCancelled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if s.Capturing() || len(s.Photos()) != 0 || s.Phase() != types.FrontalCenter {
		t.Errorf("Cancellation left partial state: capturing=%v photos=%d phase=%s", s.Capturing(), len(s.Photos()), s.Phase())
	}
}

func TestRunStreamEnded(t *testing.T) {
	s := newTestSession(0, Options{})
	frames := make(chan types.Frame, 2)
	frames <- frameFor(1, types.FrontalCenter)
	frames <- frameFor(2, types.FrontalCenter)
	close(frames)

	_, err := s.Run(context.Background(), frames, nil)
	if !errors.Is(err, ErrStreamEnded) {
		t.Errorf("Expected ErrStreamEnded, got %v", err)
	}
}
