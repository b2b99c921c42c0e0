package facecheck

// Kind tags which check produced a verdict.
type Kind string

const (
	KindNone       Kind = ""
	KindNoFace     Kind = "no_face"
	KindSunglasses Kind = "sunglasses"
	KindEyesClosed Kind = "eyes_closed"
	KindMask       Kind = "mask"
	KindContours   Kind = "contours"
	KindAspect     Kind = "aspect"
	KindLandmarks  Kind = "landmarks"
	KindTooFar     Kind = "too_far"
	KindTooSmall   Kind = "too_small"
	KindRoll       Kind = "roll"
	KindPitch      Kind = "pitch"
	KindPose       Kind = "pose"
	KindUnstable   Kind = "unstable"
	KindHoldStill  Kind = "hold_still"
)

// User-facing messages.
const (
	MsgNoFace          = "No face detected"
	MsgSunglasses      = "Please remove your sunglasses"
	MsgEyesClosed      = "Open your eyes or remove sunglasses"
	MsgMask            = "Please remove your mask"
	MsgPartiallyCover  = "Face is partially covered.\nPlease remove any objects"
	MsgObstructed      = "Face is obstructed.\nPlease remove any objects"
	MsgMuchCloser      = "Move much closer to the camera"
	MsgCloser          = "Move closer — fill the circle with your face"
	MsgHeadStraight    = "Keep your head straight"
	MsgChinDown        = "Tilt your chin down slightly"
	MsgChinUp          = "Lift your chin up slightly"
	MsgLookStraight    = "Look straight at the camera"
	MsgTurnFurtherLeft = "Turn your head further left"
	MsgTurnFurtherRght = "Turn your head further right"
	MsgHoldStill       = "Hold still..."
)

// Flags highlight which problem the UI should call out.
type Flags struct {
	HasMask       bool `json:"has_mask"`
	HasSunglasses bool `json:"has_sunglasses"`
	IsObstructed  bool `json:"is_obstructed"`
	EyesOpen      bool `json:"eyes_open"`
	IsCloseEnough bool `json:"is_close_enough"`
}

// Verdict is the outcome of validating one frame.
type Verdict struct {
	Valid   bool   `json:"valid"`
	Reason  string `json:"reason"`
	Flags   Flags  `json:"flags"`
	Failure Kind   `json:"failure,omitempty"`
}

// defaultFlags are the flags of a frame with nothing wrong.
var defaultFlags = Flags{EyesOpen: true, IsCloseEnough: true}

// Valid is the verdict of a frame that passed every check.
var Valid = Verdict{Valid: true, Flags: defaultFlags}

// failure is what a single check returns when it rejects a frame.
type failure struct {
	kind   Kind
	reason string
	flags  Flags
}

func fail(kind Kind, reason string) *failure {
	return &failure{kind: kind, reason: reason, flags: defaultFlags}
}

func (f *failure) obstructed() *failure {
	f.flags.IsObstructed = true
	return f
}

func (f *failure) verdict() Verdict {
	return Verdict{Valid: false, Reason: f.reason, Flags: f.flags, Failure: f.kind}
}

// Highlighted reports whether the verdict names a spoofing or obstruction
// problem, as opposed to a pose or distance hint.
func (v Verdict) Highlighted() bool {
	return v.Flags.HasMask || v.Flags.HasSunglasses || v.Flags.IsObstructed || !v.Flags.EyesOpen
}

// Spoof reports whether the verdict is a clear mask or sunglasses rejection.
func (v Verdict) Spoof() bool {
	return v.Flags.HasMask || v.Flags.HasSunglasses
}
