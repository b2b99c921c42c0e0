// Package stability tracks bounding box drift between consecutive frames.
//
// A hand or object sliding over the face rarely removes the detection outright;
// the detector keeps inferring landmarks but the box jumps. Comparing each box
// with the last accepted one catches that case.
package stability

import (
	"math"

	"github.com/andresmejia3/livecapture/internal/types"
)

const (
	// MaxSizeChange is the largest allowed relative change of box width or height.
	MaxSizeChange = 0.25
	// MaxCenterShift is the largest allowed center shift, relative to the previous box size.
	MaxCenterShift = 0.20
)

// State is the tracker memory carried between frames. The zero value means
// "no previous frame".
type State struct {
	PrevWidth   float64
	PrevHeight  float64
	PrevCenterX float64
	PrevCenterY float64
	HasPrev     bool
	// Consecutive counts frames in a row that passed every check.
	Consecutive int
}

// Reset returns the empty state.
func Reset() State { return State{} }

// Remember stores box as the comparison baseline, keeping the counter.
func (s State) Remember(box types.Box) State {
	s.PrevWidth = box.Width()
	s.PrevHeight = box.Height()
	s.PrevCenterX = box.CenterX()
	s.PrevCenterY = box.CenterY()
	s.HasPrev = true
	return s
}

// Drift describes how far a box moved relative to the previous one.
type Drift struct {
	WidthChange  float64
	HeightChange float64
	ShiftX       float64
	ShiftY       float64
}

// Exceeded reports whether any component is over its limit.
func (d Drift) Exceeded() bool {
	return d.WidthChange > MaxSizeChange || d.HeightChange > MaxSizeChange ||
		d.ShiftX > MaxCenterShift || d.ShiftY > MaxCenterShift
}

// Measure compares box against the stored baseline. ok is false when there is
// nothing meaningful to compare (no baseline or a degenerate box).
func Measure(box types.Box, s State) (d Drift, ok bool) {
	w, h := box.Width(), box.Height()
	if !s.HasPrev || w <= 0 || h <= 0 || s.PrevWidth <= 0 || s.PrevHeight <= 0 {
		return Drift{}, false
	}
	return Drift{
		WidthChange:  math.Abs(w-s.PrevWidth) / s.PrevWidth,
		HeightChange: math.Abs(h-s.PrevHeight) / s.PrevHeight,
		ShiftX:       math.Abs(box.CenterX()-s.PrevCenterX) / s.PrevWidth,
		ShiftY:       math.Abs(box.CenterY()-s.PrevCenterY) / s.PrevHeight,
	}, true
}

// Update checks box against the previous frame. An unstable box leaves the
// baseline untouched and zeroes the consecutive counter. A stable box becomes
// the new baseline; the caller increments the counter.
func Update(box types.Box, s State) (bool, State) {
	if d, ok := Measure(box, s); ok && d.Exceeded() {
		s.Consecutive = 0
		return false, s
	}
	return true, s.Remember(box)
}
