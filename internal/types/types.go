package types

import (
	"fmt"
	"strings"
)

// Box is a face bounding box in frame pixel space.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

func (b Box) Width() float64   { return b.Right - b.Left }
func (b Box) Height() float64  { return b.Bottom - b.Top }
func (b Box) CenterX() float64 { return (b.Left + b.Right) / 2 }
func (b Box) CenterY() float64 { return (b.Top + b.Bottom) / 2 }

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmark names a single facial point reported by the detector.
type Landmark string

const (
	LeftEye     Landmark = "left_eye"
	RightEye    Landmark = "right_eye"
	NoseBase    Landmark = "nose_base"
	MouthLeft   Landmark = "mouth_left"
	MouthRight  Landmark = "mouth_right"
	MouthBottom Landmark = "mouth_bottom"
	LeftCheek   Landmark = "left_cheek"
	RightCheek  Landmark = "right_cheek"
	LeftEar     Landmark = "left_ear"
	RightEar    Landmark = "right_ear"
)

// Contour names a polyline outlining a facial feature.
type Contour string

const (
	FaceOutline       Contour = "face"
	LeftEyeContour    Contour = "left_eye"
	RightEyeContour   Contour = "right_eye"
	LeftEyebrowTop    Contour = "left_eyebrow_top"
	LeftEyebrowBottom Contour = "left_eyebrow_bottom"
	RightEyebrowTop   Contour = "right_eyebrow_top"
	RightEyebrowBot   Contour = "right_eyebrow_bottom"
	UpperLipTop       Contour = "upper_lip_top"
	UpperLipBottom    Contour = "upper_lip_bottom"
	LowerLipTop       Contour = "lower_lip_top"
	LowerLipBottom    Contour = "lower_lip_bottom"
	NoseBridge        Contour = "nose_bridge"
	NoseBottom        Contour = "nose_bottom"
	LeftCheekContour  Contour = "left_cheek"
	RightCheekContour Contour = "right_cheek"
)

// FaceRecord is one detector output for a single camera frame.
// A landmark or contour missing from its map was not detected.
type FaceRecord struct {
	Box          Box                 `json:"box"`
	Landmarks    map[Landmark]Point  `json:"landmarks,omitempty"`
	Contours     map[Contour][]Point `json:"contours,omitempty"`
	LeftEyeOpen  *float64            `json:"left_eye_open,omitempty"`
	RightEyeOpen *float64            `json:"right_eye_open,omitempty"`
	Yaw          float64             `json:"euler_y"`
	Pitch        float64             `json:"euler_x"`
	Roll         float64             `json:"euler_z"`
}

// HasLandmark reports whether the detector located the landmark.
func (f *FaceRecord) HasLandmark(l Landmark) bool {
	_, ok := f.Landmarks[l]
	return ok
}

// HasContour reports whether the contour was reported at all, even with no points.
func (f *FaceRecord) HasContour(c Contour) bool {
	_, ok := f.Contours[c]
	return ok
}

// ContourPoints returns the contour's points, nil when absent.
func (f *FaceRecord) ContourPoints(c Contour) []Point {
	return f.Contours[c]
}

// Frame is a single camera frame as seen by the validation loop.
// Face is nil when no face was detected.
type Frame struct {
	Index  int         `json:"index"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Face   *FaceRecord `json:"face"`
}

// ScanPhase is a step of the capture flow. Phases only move forward.
type ScanPhase int

const (
	FrontalCenter ScanPhase = iota
	TurnLeft
	TurnRight
	Completed
)

var phaseNames = [...]string{"frontal_center", "turn_left", "turn_right", "completed"}

func (p ScanPhase) String() string {
	if p < FrontalCenter || p > Completed {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Next returns the successor phase. Completed is its own successor.
func (p ScanPhase) Next() ScanPhase {
	if p >= Completed {
		return Completed
	}
	return p + 1
}

// IsTurn reports whether the phase asks the user to turn their head.
func (p ScanPhase) IsTurn() bool {
	return p == TurnLeft || p == TurnRight
}

// CapturePhases lists the phases that produce photos, in execution order.
func CapturePhases() []ScanPhase {
	return []ScanPhase{FrontalCenter, TurnLeft, TurnRight}
}

// ParsePhase accepts the names produced by String.
func ParsePhase(s string) (ScanPhase, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range phaseNames {
		if n == name {
			return ScanPhase(i), nil
		}
	}
	switch name {
	case "frontal", "center":
		return FrontalCenter, nil
	case "left":
		return TurnLeft, nil
	case "right":
		return TurnRight, nil
	}
	return 0, fmt.Errorf("unknown scan phase %q", s)
}

func (p ScanPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ScanPhase) UnmarshalText(text []byte) error {
	v, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ErrorResult captures the error object returned by the detector on failure
type ErrorResult struct {
	Error string `json:"error"`
}
