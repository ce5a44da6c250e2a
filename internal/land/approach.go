package land

import (
	"fmt"

	"uas-mission/internal/geo"
)

// Approach describes the touchdown point and pattern shape.
type Approach struct {
	HomeLat         float64
	HomeLon         float64
	FinalHeadingDeg float64
	TurnRadiusM     float64
	ExtendFinalLegM float64
	LateralOffsetM  float64
	// Side is -1 for a left-hand pattern, +1 for right.
	Side float64
}

// Waypoint is a polar offset from home, bearing relative to the final
// heading.
type Waypoint struct {
	DistM      float64
	BearingDeg float64
}

// Plan is the geometry derived from an Approach.
type Plan struct {
	FinalLegM       float64
	CircleOffsetM   float64
	CircleOffsetDeg float64
	CircleLat       float64
	CircleLon       float64
	// Waypoints are the start of the final leg and the touchdown point.
	Waypoints    [2]Waypoint
	RouteRequest string
}

// Side maps a pattern direction to its lateral sign. Anything other than
// "right" flies a left-hand pattern.
func Side(direction string) float64 {
	if direction == "right" {
		return 1
	}
	return -1
}

// BuildApproach places a descent circle tangent to the extended final
// approach course and lays out the two-point final leg.
func BuildApproach(a Approach) Plan {
	var p Plan
	p.FinalLegM = 2*a.TurnRadiusM + a.ExtendFinalLegM

	dist, deg := geo.CartToPolar(a.TurnRadiusM*a.Side, -p.FinalLegM)
	p.CircleOffsetM = dist
	p.CircleOffsetDeg = geo.Wrap360(a.FinalHeadingDeg + deg)
	p.CircleLat, p.CircleLon = geo.Project(a.HomeLat, a.HomeLon, p.CircleOffsetDeg, p.CircleOffsetM)

	d0, b0 := geo.CartToPolar(a.LateralOffsetM*a.Side, -p.FinalLegM)
	d1, b1 := geo.CartToPolar(a.LateralOffsetM*a.Side, 0)
	p.Waypoints = [2]Waypoint{{DistM: d0, BearingDeg: b0}, {DistM: d1, BearingDeg: b1}}
	p.RouteRequest = fmt.Sprintf("0,%.2f,%.2f,-,0,%.2f,%.2f,-", d0, b0, d1, b1)
	return p
}
