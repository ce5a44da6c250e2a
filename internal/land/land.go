package land

import (
	"math"

	"uas-mission/internal/events"
	"uas-mission/internal/geo"
	"uas-mission/internal/props"
)

const (
	circleCaptureLow   = 0.75
	circleCaptureHigh  = 1.25
	exitWindowDeg      = 10.0
	gsCaptureDeg       = 1.0
	minGroundSpeedMps  = 0.01
	noTouchdownSeconds = 1000.0
	minFlareSeconds    = 0.01

	fcsApproach = "basic+alt+speed"
	fcsFlare    = "basic"
)

type Status struct {
	Active          bool    `json:"active"`
	NavMode         string  `json:"nav_mode"`
	CircleCapture   bool    `json:"circle_capture"`
	GSCapture       bool    `json:"gs_capture"`
	Flare           bool    `json:"flare"`
	DistRemainingM  float64 `json:"dist_remaining_m"`
	TargetAGLFt     float64 `json:"target_agl_ft"`
	GSErrorDeg      float64 `json:"gs_error_deg"`
	ExitDiffDeg     float64 `json:"exit_diff_deg"`
	TouchdownSecond float64 `json:"seconds_to_touchdown"`
}

type saved struct {
	fcsMode    string
	navMode    string
	aglFt      float64
	airspeedKt float64
}

// Task flies a descending circle onto the glideslope, hands off to a
// two-point final route at the tangent point, and flares near touchdown.
type Task struct {
	cfg Config
	log events.Logger

	home    props.Node
	land    props.Node
	circle  props.Node
	route   props.Node
	ap      props.Node
	targets props.Node
	nav     props.Node
	pos     props.Node
	vel     props.Node
	flight  props.Node
	engine  props.Node
	imu     props.Node

	active bool
	saved  saved
	plan   Plan

	side            float64
	finalHeadingDeg float64
	turnRadiusM     float64

	circleCapture    bool
	gsCapture        bool
	flare            bool
	flareStart       float64
	approachThrottle float64
	approachPitch    float64

	status Status
}

// New applies defaults and copies the parameters into /task/land.
func New(store props.Store, cfg Config, log events.Logger) *Task {
	if log == nil {
		log = events.Discard{}
	}
	t := &Task{
		cfg:     cfg.WithDefaults(),
		log:     log,
		home:    store.Node("/task/home"),
		land:    store.Node("/task/land"),
		circle:  store.Node("/task/circle"),
		route:   store.Node("/task/route"),
		ap:      store.Node("/autopilot"),
		targets: store.Node("/autopilot/targets"),
		nav:     store.Node("/navigation"),
		pos:     store.Node("/position"),
		vel:     store.Node("/velocity"),
		flight:  store.Node("/controls/flight"),
		engine:  store.Node("/controls/engine"),
		imu:     store.Node("/sensors/imu"),
	}
	t.cfg.writeTo(t.land)
	return t
}

func (t *Task) Config() Config {
	return t.cfg
}

func (t *Task) Plan() Plan {
	return t.plan
}

func (t *Task) Activate() {
	if !t.active {
		t.buildApproach()
		t.saved = saved{
			fcsMode:    t.ap.GetString("mode"),
			navMode:    t.nav.GetString("mode"),
			aglFt:      t.targets.GetFloat("altitude_agl_ft"),
			airspeedKt: t.targets.GetFloat("airspeed_kt"),
		}
	}

	t.ap.SetString("mode", fcsApproach)
	writeNavMode(t.nav, NavCircle)
	t.targets.SetFloat("airspeed_kt", t.land.GetFloat("approach_speed_kt"))
	t.flight.SetFloat("flaps_setpoint", t.cfg.FlapsSetpoint())

	t.circleCapture = false
	t.gsCapture = false
	t.flare = false

	t.active = true
	t.log.Log("mission", "land")
}

// buildApproach reads the pattern parameters from the store and publishes
// the circle and route for the navigation layer.
func (t *Task) buildApproach() {
	dir := t.land.GetString("direction")
	t.side = Side(dir)
	t.turnRadiusM = t.land.GetFloat("turn_radius_m")
	t.finalHeadingDeg = t.home.GetFloat("azimuth_deg")

	t.plan = BuildApproach(Approach{
		HomeLat:         t.home.GetFloat("latitude_deg"),
		HomeLon:         t.home.GetFloat("longitude_deg"),
		FinalHeadingDeg: t.finalHeadingDeg,
		TurnRadiusM:     t.turnRadiusM,
		ExtendFinalLegM: t.land.GetFloat("extend_final_leg_m"),
		LateralOffsetM:  t.land.GetFloat("lateral_offset_m"),
		Side:            t.side,
	})

	t.circle.SetFloat("latitude_deg", t.plan.CircleLat)
	t.circle.SetFloat("longitude_deg", t.plan.CircleLon)
	t.circle.SetString("direction", dir)
	t.circle.SetFloat("radius_m", t.turnRadiusM)

	t.route.SetString("route_request", t.plan.RouteRequest)
	t.route.SetString("start_mode", "first_wpt")
	t.route.SetString("follow_mode", "leader")
	t.route.SetString("completion_mode", "extend_last_leg")
	// Seed so a stale value from an earlier route is never used.
	t.route.SetFloat("dist_remaining_m", t.plan.FinalLegM)
}

func (t *Task) Update(dt float64) bool {
	if !t.active {
		return false
	}

	glideslopeRad := t.land.GetFloat("glideslope_deg") * geo.D2R
	altBiasFt := t.land.GetFloat("altitude_bias_ft")

	mode := readNavMode(t.nav)
	var distM float64
	if mode == NavCircle {
		distM = t.updateCircle()
	} else {
		distM = t.route.GetFloat("dist_remaining_m")
		t.status.ExitDiffDeg = 0
	}

	targetFt := distM*math.Tan(glideslopeRad)*geo.MToFt + altBiasFt
	t.targets.SetFloat("altitude_agl_ft", targetFt)

	altErrFt := t.pos.GetFloat("altitude_agl_ft") - targetFt
	gsErrDeg := math.Atan2(altErrFt*geo.FtToM, distM) * geo.R2D
	if t.circleCapture && !t.gsCapture && glideslopeCaptured(gsErrDeg) {
		t.log.Log("land", "glide slope capture")
		t.gsCapture = true
	}

	ttd := timeToTouchdown(distM, t.vel.GetFloat("groundspeed_ms"))

	flarePitch := t.land.GetFloat("flare_pitch_deg")
	flareSeconds := t.land.GetFloat("flare_seconds")
	if ttd <= flareSeconds && !t.flare {
		t.flare = true
		t.flareStart = t.imu.GetFloat("timestamp")
		t.approachThrottle = t.engine.GetFloat("throttle")
		t.approachPitch = t.targets.GetFloat("pitch_deg")
		t.ap.SetString("mode", fcsFlare)
		t.log.Log("land", "flare")
	}
	if t.flare {
		pitch, throttle := flareBlend(t.approachPitch, t.approachThrottle, flarePitch, flareSeconds,
			t.imu.GetFloat("timestamp")-t.flareStart)
		t.targets.SetFloat("pitch_deg", pitch)
		t.engine.SetFloat("throttle", throttle)
	}

	t.status.NavMode = readNavMode(t.nav).String()
	t.status.DistRemainingM = distM
	t.status.TargetAGLFt = targetFt
	t.status.GSErrorDeg = gsErrDeg
	t.status.TouchdownSecond = ttd
	return true
}

// updateCircle handles the descent circle and returns the along-path
// distance to touchdown.
func (t *Task) updateCircle() float64 {
	courseDeg, _, curDistM := geo.Inverse(
		t.circle.GetFloat("latitude_deg"), t.circle.GetFloat("longitude_deg"),
		t.pos.GetFloat("latitude_deg"), t.pos.GetFloat("longitude_deg"))

	if !t.circleCapture && circleCaptured(curDistM, t.turnRadiusM) {
		t.log.Log("land", "descent circle capture")
		t.circleCapture = true
	}

	currentCrs := geo.Wrap360(courseDeg + t.side*90)
	diff := geo.Wrap180(currentCrs - t.finalHeadingDeg)
	t.status.ExitDiffDeg = diff

	var distM float64
	if t.circleCapture && diff > -exitWindowDeg {
		distM = diff*geo.D2R*curDistM + t.plan.FinalLegM
	} else {
		distM = math.Pi*curDistM + t.plan.FinalLegM
	}

	if t.circleCapture && t.gsCapture && math.Abs(diff) <= exitWindowDeg {
		t.log.Log("land", "transition to final")
		writeNavMode(t.nav, NavRoute)
	}
	return distM
}

func circleCaptured(distM, radiusM float64) bool {
	if radiusM <= 0 {
		return false
	}
	ratio := distM / radiusM
	return ratio > circleCaptureLow && ratio < circleCaptureHigh
}

func glideslopeCaptured(errDeg float64) bool {
	return errDeg <= gsCaptureDeg
}

func timeToTouchdown(distM, groundSpeedMps float64) float64 {
	if groundSpeedMps > minGroundSpeedMps {
		return distM / groundSpeedMps
	}
	return noTouchdownSeconds
}

// flareBlend moves pitch toward the flare pitch and throttle toward idle
// linearly over flareSeconds.
func flareBlend(approachPitch, approachThrottle, flarePitch, flareSeconds, elapsed float64) (pitch, throttle float64) {
	if flareSeconds <= minFlareSeconds {
		return flarePitch, 0
	}
	p := elapsed / flareSeconds
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return approachPitch - p*(approachPitch-flarePitch), approachThrottle * (1 - p)
}

func (t *Task) IsComplete() bool {
	return false
}

// Close restores the modes and targets saved on activation.
func (t *Task) Close() bool {
	if !t.active {
		return true
	}
	t.ap.SetString("mode", t.saved.fcsMode)
	t.nav.SetString("mode", t.saved.navMode)
	t.targets.SetFloat("airspeed_kt", t.saved.airspeedKt)
	t.targets.SetFloat("altitude_agl_ft", t.saved.aglFt)
	t.flight.SetFloat("flaps_setpoint", 0)
	t.active = false
	return true
}

func (t *Task) Status() Status {
	s := t.status
	s.Active = t.active
	s.CircleCapture = t.circleCapture
	s.GSCapture = t.gsCapture
	s.Flare = t.flare
	if s.NavMode == "" {
		s.NavMode = readNavMode(t.nav).String()
	}
	return s
}
