// Package facecheck decides, frame by frame, whether a detected face is fit to
// be photographed for the current scan phase.
//
// Every check is a pure function over the face record. The only memory across
// frames is the stability.State the caller threads through Validate.
package facecheck

import (
	"github.com/andresmejia3/livecapture/internal/stability"
	"github.com/andresmejia3/livecapture/internal/types"
)

// RequiredStableFrames is how many clean frames in a row are needed before a
// frame is reported valid.
const RequiredStableFrames = 3

// NoFace is the verdict for a frame without a detection.
var NoFace = Verdict{Reason: MsgNoFace, Flags: defaultFlags, Failure: KindNoFace}

// Validate runs the full check pipeline against one frame.
//
// A failing face check returns an empty stability state. A stability failure
// keeps the previous box but zeroes the counter. When everything passes the
// counter is incremented and the verdict turns valid once it reaches
// RequiredStableFrames.
func Validate(face *types.FaceRecord, frameWidth int, phase types.ScanPhase, st stability.State) (Verdict, stability.State) {
	if face == nil {
		return NoFace, stability.Reset()
	}

	e := env{phase: phase, frameWidth: frameWidth}
	if r := firstFailure(fullChecks, face, e); r != nil {
		return r.verdict(), stability.Reset()
	}

	stable, next := stability.Update(face.Box, st)
	if !stable {
		return unstable(), next
	}

	next.Consecutive++
	if next.Consecutive < RequiredStableFrames {
		return Verdict{Reason: MsgHoldStill, Flags: defaultFlags, Failure: KindHoldStill}, next
	}
	return Valid, next
}

// QuickCheck is the lighter variant used while a burst is running. It skips
// size, tilt and pose, has no stable-frame requirement and never increments
// the consecutive counter. Like Validate, a failing face check resets the
// stability state.
func QuickCheck(face *types.FaceRecord, phase types.ScanPhase, st stability.State) (Verdict, stability.State) {
	if face == nil {
		return NoFace, stability.Reset()
	}

	if r := firstFailure(quickChecks, face, env{phase: phase}); r != nil {
		return r.verdict(), stability.Reset()
	}

	stable, next := stability.Update(face.Box, st)
	if !stable {
		return unstable(), next
	}
	return Valid, next
}

func unstable() Verdict {
	return fail(KindUnstable, MsgPartiallyCover).obstructed().verdict()
}
