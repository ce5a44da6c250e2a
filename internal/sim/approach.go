package sim

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"uas-mission/internal/geo"
	"uas-mission/internal/props"
)

const (
	waypointCaptureM = 20.0
	maxClimbFps      = 8.0
	flareSinkFps     = 3.0
)

// ApproachSim stands in for the navigation and flight-control layers during
// a landing dry run. Each Step moves the aircraft one tick along the circle
// or route that the landing task requested and writes position, ground
// speed and IMU time back to the store.
type ApproachSim struct {
	home    props.Node
	circle  props.Node
	route   props.Node
	ap      props.Node
	targets props.Node
	nav     props.Node
	pos     props.Node
	vel     props.Node
	imu     props.Node
	task    props.Node

	trackDeg float64
	wpIndex  int
	wpKey    string
	wps      [][2]float64
}

// ApproachStart is the initial aircraft state.
type ApproachStart struct {
	LatDeg   float64
	LonDeg   float64
	AGLFt    float64
	TrackDeg float64
}

func NewApproachSim(store props.Store, start ApproachStart) *ApproachSim {
	s := &ApproachSim{
		home:     store.Node("/task/home"),
		circle:   store.Node("/task/circle"),
		route:    store.Node("/task/route"),
		ap:       store.Node("/autopilot"),
		targets:  store.Node("/autopilot/targets"),
		nav:      store.Node("/navigation"),
		pos:      store.Node("/position"),
		vel:      store.Node("/velocity"),
		imu:      store.Node("/sensors/imu"),
		task:     store.Node("/task"),
		trackDeg: start.TrackDeg,
	}
	s.pos.SetFloat("latitude_deg", start.LatDeg)
	s.pos.SetFloat("longitude_deg", start.LonDeg)
	s.pos.SetFloat("altitude_agl_ft", start.AGLFt)
	s.task.SetBool("is_airborne", start.AGLFt > 0)
	return s
}

func (s *ApproachSim) TrackDeg() float64 {
	return s.trackDeg
}

func (s *ApproachSim) Step(dt float64) {
	if dt <= 0 {
		return
	}
	s.imu.SetFloat("timestamp", s.imu.GetFloat("timestamp")+dt)

	gs := s.targets.GetFloat("airspeed_kt") * geo.KtToMps
	lat := s.pos.GetFloat("latitude_deg")
	lon := s.pos.GetFloat("longitude_deg")

	switch s.nav.GetString("mode") {
	case "circle":
		s.trackDeg = s.circleTrack(lat, lon)
	case "route":
		s.trackDeg = s.routeTrack(lat, lon)
	}

	agl := s.pos.GetFloat("altitude_agl_ft")
	if agl > 0 {
		lat, lon = geo.Project(lat, lon, s.trackDeg, gs*dt)
		s.pos.SetFloat("latitude_deg", lat)
		s.pos.SetFloat("longitude_deg", lon)
	} else {
		gs = 0
	}
	s.vel.SetFloat("groundspeed_ms", gs)

	agl = s.stepAltitude(agl, dt)
	s.pos.SetFloat("altitude_agl_ft", agl)
	s.task.SetBool("is_airborne", agl > 0)
}

// circleTrack flies tangent to the requested circle, blending toward or away
// from the center in proportion to the radial error.
func (s *ApproachSim) circleTrack(lat, lon float64) float64 {
	r := s.circle.GetFloat("radius_m")
	if r <= 0 {
		return s.trackDeg
	}
	side := -1.0
	if s.circle.GetString("direction") == "right" {
		side = 1
	}
	crs, _, d := geo.Inverse(s.circle.GetFloat("latitude_deg"), s.circle.GetFloat("longitude_deg"), lat, lon)
	blend := 90 * (d - r) / (0.5 * r)
	blend = math.Max(-90, math.Min(90, blend))
	return geo.Wrap360(crs + side*(90+blend))
}

// routeTrack follows the requested waypoints leader style and publishes the
// remaining distance. Past the last waypoint it extends the last leg.
func (s *ApproachSim) routeTrack(lat, lon float64) float64 {
	req := s.route.GetString("route_request")
	if req != s.wpKey {
		wps, err := s.resolveRoute(req)
		if err != nil {
			return s.trackDeg
		}
		s.wps = wps
		s.wpKey = req
		s.wpIndex = 0
	}
	if len(s.wps) == 0 {
		return s.trackDeg
	}

	for s.wpIndex < len(s.wps) {
		wp := s.wps[s.wpIndex]
		_, _, d := geo.Inverse(lat, lon, wp[0], wp[1])
		if d > waypointCaptureM {
			break
		}
		s.wpIndex++
	}
	if s.wpIndex >= len(s.wps) {
		s.route.SetFloat("dist_remaining_m", 0)
		n := len(s.wps)
		if n < 2 {
			return s.trackDeg
		}
		crs, _, _ := geo.Inverse(s.wps[n-2][0], s.wps[n-2][1], s.wps[n-1][0], s.wps[n-1][1])
		return crs
	}

	wp := s.wps[s.wpIndex]
	crs, _, dist := geo.Inverse(lat, lon, wp[0], wp[1])
	for i := s.wpIndex + 1; i < len(s.wps); i++ {
		_, _, leg := geo.Inverse(s.wps[i-1][0], s.wps[i-1][1], s.wps[i][0], s.wps[i][1])
		dist += leg
	}
	s.route.SetFloat("dist_remaining_m", dist)
	return crs
}

// resolveRoute turns a route request into absolute waypoints. Each waypoint
// is "0,<dist_m>,<bearing_deg>,-" relative to home and the home azimuth.
func (s *ApproachSim) resolveRoute(req string) ([][2]float64, error) {
	wps, err := ParseRouteRequest(req)
	if err != nil {
		return nil, err
	}
	homeLat := s.home.GetFloat("latitude_deg")
	homeLon := s.home.GetFloat("longitude_deg")
	az := s.home.GetFloat("azimuth_deg")
	out := make([][2]float64, 0, len(wps))
	for _, w := range wps {
		lat, lon := geo.Project(homeLat, homeLon, geo.Wrap360(az+w[1]), w[0])
		out = append(out, [2]float64{lat, lon})
	}
	return out, nil
}

// ParseRouteRequest returns (dist_m, bearing_deg) pairs.
func ParseRouteRequest(req string) ([][2]float64, error) {
	fields := strings.Split(req, ",")
	if len(fields)%4 != 0 || len(fields) == 0 {
		return nil, fmt.Errorf("route request has %d fields, want a multiple of 4", len(fields))
	}
	var out [][2]float64
	for i := 0; i < len(fields); i += 4 {
		dist, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
		if err != nil {
			return nil, fmt.Errorf("waypoint %d dist: %w", i/4, err)
		}
		brg, err := strconv.ParseFloat(strings.TrimSpace(fields[i+2]), 64)
		if err != nil {
			return nil, fmt.Errorf("waypoint %d bearing: %w", i/4, err)
		}
		out = append(out, [2]float64{dist, brg})
	}
	return out, nil
}

// stepAltitude tracks the AGL target at a limited rate. In basic mode the
// altitude hold is off and the aircraft settles at a fixed sink rate.
func (s *ApproachSim) stepAltitude(agl, dt float64) float64 {
	if agl <= 0 {
		return 0
	}
	if s.ap.GetString("mode") == "basic" {
		return math.Max(0, agl-flareSinkFps*dt)
	}
	target := s.targets.GetFloat("altitude_agl_ft")
	step := maxClimbFps * dt
	switch {
	case target > agl+step:
		agl += step
	case target < agl-step:
		agl -= step
	default:
		agl = target
	}
	return math.Max(0, agl)
}
