package calib

import (
	"fmt"

	"github.com/golang/geo/r3"
)

type State int

const (
	StateRightSideUp State = iota
	StateUpsideDown
	StateNoseDown
	StateNoseUp
	StateWingDown
	StateWingUp
	StateSanityCheck
	StateCompleteOK
	StateCompleteFailed
)

func (s State) String() string {
	switch s {
	case StateRightSideUp:
		return "right side up"
	case StateUpsideDown:
		return "upside down"
	case StateNoseDown:
		return "nose down"
	case StateNoseUp:
		return "nose up"
	case StateWingDown:
		return "right wing down"
	case StateWingUp:
		return "right wing up"
	case StateSanityCheck:
		return "sanity check"
	case StateCompleteOK:
		return "complete ok"
	case StateCompleteFailed:
		return "complete failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Prompt is the operator instruction for pose states.
func (s State) Prompt() string {
	switch s {
	case StateRightSideUp:
		return "Place level and right side up"
	case StateUpsideDown:
		return "Place up side down"
	case StateNoseDown:
		return "Place nose down"
	case StateNoseUp:
		return "Place nose up"
	case StateWingDown:
		return "Place right wing down"
	case StateWingUp:
		return "Place right wing up"
	default:
		return ""
	}
}

func (s State) Terminal() bool {
	return s == StateCompleteOK || s == StateCompleteFailed
}

// Axis is the body axis currently pointing away from gravity's pull, as seen
// by the accelerometer.
type Axis int

const (
	AxisNone Axis = iota
	AxisXPos
	AxisXNeg
	AxisYPos
	AxisYNeg
	AxisZPos
	AxisZNeg
)

func (a Axis) String() string {
	switch a {
	case AxisXPos:
		return "x-pos"
	case AxisXNeg:
		return "x-neg"
	case AxisYPos:
		return "y-pos"
	case AxisYNeg:
		return "y-neg"
	case AxisZPos:
		return "z-pos"
	case AxisZNeg:
		return "z-neg"
	default:
		return "none"
	}
}

// detectUp checks x, then y, then z against the dominance threshold.
func detectUp(v r3.Vector) Axis {
	switch {
	case v.X > upThreshold:
		return AxisXPos
	case v.X < -upThreshold:
		return AxisXNeg
	case v.Y > upThreshold:
		return AxisYPos
	case v.Y < -upThreshold:
		return AxisYNeg
	case v.Z > upThreshold:
		return AxisZPos
	case v.Z < -upThreshold:
		return AxisZNeg
	}
	return AxisNone
}
