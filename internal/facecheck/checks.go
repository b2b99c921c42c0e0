package facecheck

import (
	"math"

	"github.com/andresmejia3/livecapture/internal/types"
)

// Thresholds.
const (
	EyeOpenMinProb = 0.25

	// Head yaw above which far-side features are hidden by geometry, not by
	// an accessory. Sunglasses and mask checks are skipped past it.
	HeadTurnedYaw = 18.0
	// Yaw under which a frontal-phase face is treated as facing forward for
	// the landmark count.
	HeadForwardYaw = 20.0

	MinFaceRatio         = 0.35
	TooFarFaceRatio      = 0.20
	TurnMinFaceRatio     = 0.20
	TurnTooFarFaceRatio  = 0.15
	AspectRatioMin       = 0.50
	AspectRatioMax       = 1.40
	MinFaceContourPoints = 15

	MaskMissingLowerFace    = 3
	FrontalMissingContours  = 4
	TurnMissingContours     = 6
	OutlineMissingContours  = 2
	FrontalMissingLandmarks = 3
	TurnMissingLandmarks    = 5

	YawCenterMax   = 12.0
	YawLeftMin     = 20.0
	YawRightMax    = -20.0
	PitchMax       = 15.0
	RollMax        = 15.0
	TurnRollMargin = 5.0
)

var lowerFaceLandmarks = []types.Landmark{
	types.MouthLeft,
	types.MouthRight,
	types.MouthBottom,
	types.NoseBase,
	types.LeftCheek,
	types.RightCheek,
}

// Ears are left out, the detector reports them unreliably.
var coreLandmarks = []types.Landmark{
	types.LeftEye,
	types.RightEye,
	types.NoseBase,
	types.MouthLeft,
	types.MouthRight,
	types.MouthBottom,
	types.LeftCheek,
	types.RightCheek,
}

var trackedContours = []types.Contour{
	types.FaceOutline,
	types.LeftEyeContour,
	types.RightEyeContour,
	types.UpperLipTop,
	types.LowerLipBottom,
	types.NoseBridge,
	types.NoseBottom,
	types.LeftEyebrowTop,
	types.RightEyebrowTop,
}

// env is the per-frame context a check may consult.
type env struct {
	phase      types.ScanPhase
	frameWidth int
}

func (e env) turnPhase() bool { return e.phase.IsTurn() }

// check inspects one aspect of a face. It returns nil when the face passes.
type check func(f *types.FaceRecord, e env) *failure

func headTurned(f *types.FaceRecord) bool {
	return math.Abs(f.Yaw) > HeadTurnedYaw
}

func checkSunglasses(f *types.FaceRecord, _ env) *failure {
	if headTurned(f) {
		return nil
	}

	if f.LeftEyeOpen == nil && f.RightEyeOpen == nil &&
		!f.HasLandmark(types.LeftEye) && !f.HasLandmark(types.RightEye) {
		r := fail(KindSunglasses, MsgSunglasses).obstructed()
		r.flags.HasSunglasses = true
		return r
	}

	if f.LeftEyeOpen != nil && f.RightEyeOpen != nil &&
		*f.LeftEyeOpen < EyeOpenMinProb && *f.RightEyeOpen < EyeOpenMinProb {
		r := fail(KindEyesClosed, MsgEyesClosed)
		r.flags.HasSunglasses = true
		r.flags.EyesOpen = false
		return r
	}
	return nil
}

func checkMask(f *types.FaceRecord, _ env) *failure {
	if headTurned(f) {
		return nil
	}

	if countMissingLandmarks(f, lowerFaceLandmarks) >= MaskMissingLowerFace ||
		(!f.HasContour(types.LowerLipBottom) && !f.HasContour(types.UpperLipTop) && f.HasContour(types.NoseBridge)) {
		r := fail(KindMask, MsgMask).obstructed()
		r.flags.HasMask = true
		return r
	}
	return nil
}

// checkContours counts tracked contours that are absent or empty. Turn phases
// tolerate more, since far-side eye, brow and lip contours vanish on their own.
func checkContours(f *types.FaceRecord, e env) *failure {
	missing := 0
	for _, c := range trackedContours {
		if len(f.ContourPoints(c)) == 0 {
			missing++
		}
	}

	threshold := FrontalMissingContours
	if e.turnPhase() {
		threshold = TurnMissingContours
	}
	if missing >= threshold {
		return fail(KindContours, MsgPartiallyCover).obstructed()
	}

	if !e.turnPhase() && f.HasContour(types.FaceOutline) {
		outline := len(f.ContourPoints(types.FaceOutline))
		if outline < MinFaceContourPoints && missing >= OutlineMissingContours {
			return fail(KindContours, MsgPartiallyCover).obstructed()
		}
	}
	return nil
}

// checkAspect is frontal only; a turned face's box narrows naturally.
func checkAspect(f *types.FaceRecord, e env) *failure {
	if e.turnPhase() {
		return nil
	}
	w, h := f.Box.Width(), f.Box.Height()
	if w <= 0 || h <= 0 {
		return nil
	}
	if ratio := w / h; ratio < AspectRatioMin || ratio > AspectRatioMax {
		return fail(KindAspect, MsgPartiallyCover).obstructed()
	}
	return nil
}

func checkLandmarks(f *types.FaceRecord, e env) *failure {
	missing := countMissingLandmarks(f, coreLandmarks)

	threshold := TurnMissingLandmarks
	if !e.turnPhase() && e.phase != types.Completed && math.Abs(f.Yaw) < HeadForwardYaw {
		threshold = FrontalMissingLandmarks
	}
	if missing >= threshold {
		return fail(KindLandmarks, MsgObstructed).obstructed()
	}
	return nil
}

func checkSize(f *types.FaceRecord, e env) *failure {
	width := e.frameWidth
	if width < 1 {
		width = 1
	}
	ratio := f.Box.Width() / float64(width)

	near, far := MinFaceRatio, TooFarFaceRatio
	if e.turnPhase() {
		near, far = TurnMinFaceRatio, TurnTooFarFaceRatio
	}

	var r *failure
	switch {
	case ratio < far:
		r = fail(KindTooFar, MsgMuchCloser)
	case ratio < near:
		r = fail(KindTooSmall, MsgCloser)
	default:
		return nil
	}
	r.flags.IsCloseEnough = false
	return r
}

// Angle checks treat NaN as out of range.
func checkRoll(f *types.FaceRecord, e env) *failure {
	limit := RollMax
	if e.turnPhase() {
		limit += TurnRollMargin
	}
	if math.IsNaN(f.Roll) || math.Abs(f.Roll) > limit {
		return fail(KindRoll, MsgHeadStraight)
	}
	return nil
}

func checkPitch(f *types.FaceRecord, _ env) *failure {
	if !math.IsNaN(f.Pitch) && math.Abs(f.Pitch) <= PitchMax {
		return nil
	}
	if f.Pitch > 0 {
		return fail(KindPitch, MsgChinDown)
	}
	return fail(KindPitch, MsgChinUp)
}

func checkPose(f *types.FaceRecord, e env) *failure {
	switch e.phase {
	case types.FrontalCenter:
		if math.IsNaN(f.Yaw) || math.Abs(f.Yaw) > YawCenterMax {
			return fail(KindPose, MsgLookStraight)
		}
	case types.TurnLeft:
		if math.IsNaN(f.Yaw) || f.Yaw < YawLeftMin {
			return fail(KindPose, MsgTurnFurtherLeft)
		}
	case types.TurnRight:
		if math.IsNaN(f.Yaw) || f.Yaw > YawRightMax {
			return fail(KindPose, MsgTurnFurtherRght)
		}
	}
	return nil
}

func countMissingLandmarks(f *types.FaceRecord, set []types.Landmark) int {
	n := 0
	for _, l := range set {
		if !f.HasLandmark(l) {
			n++
		}
	}
	return n
}

// fullChecks is the pipeline for frames outside a burst, in evaluation order.
var fullChecks = []check{
	checkSunglasses,
	checkMask,
	checkContours,
	checkAspect,
	checkLandmarks,
	checkSize,
	checkRoll,
	checkPitch,
	checkPose,
}

// quickChecks only look for spoofing and obstruction; pose drift between
// shutter events is expected.
var quickChecks = []check{
	checkSunglasses,
	checkMask,
	checkContours,
	checkAspect,
	checkLandmarks,
}

func firstFailure(checks []check, f *types.FaceRecord, e env) *failure {
	for _, c := range checks {
		if r := c(f, e); r != nil {
			return r
		}
	}
	return nil
}
