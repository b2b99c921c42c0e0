package session

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/livecapture/internal/types"
)

// ErrPhaseCompleted is returned when advancing past the terminal phase.
var ErrPhaseCompleted = errors.New("scan already completed")

// PhaseMachine walks FrontalCenter -> TurnLeft -> TurnRight -> Completed.
// There is no way back and no way to skip a phase.
type PhaseMachine struct {
	current types.ScanPhase
}

func NewPhaseMachine() *PhaseMachine {
	return &PhaseMachine{current: types.FrontalCenter}
}

func (m *PhaseMachine) Current() types.ScanPhase { return m.current }

// Done reports whether the terminal phase was reached.
func (m *PhaseMachine) Done() bool { return m.current == types.Completed }

// Advance moves to the next phase and returns it.
func (m *PhaseMachine) Advance() (types.ScanPhase, error) {
	if m.Done() {
		return m.current, ErrPhaseCompleted
	}
	if m.current < types.FrontalCenter || m.current > types.Completed {
		return m.current, fmt.Errorf("invalid phase %d", int(m.current))
	}
	m.current = m.current.Next()
	return m.current, nil
}
