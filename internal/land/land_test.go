package land

import (
	"math"
	"testing"

	"uas-mission/internal/events"
	"uas-mission/internal/geo"
	"uas-mission/internal/props"
)

const (
	homeLat = 45.0
	homeLon = -93.0
)

func newRig(t *testing.T, cfg Config) (*props.Tree, *Task, *events.Recorder) {
	t.Helper()
	tree := props.NewTree()
	home := tree.Node("/task/home")
	home.SetFloat("latitude_deg", homeLat)
	home.SetFloat("longitude_deg", homeLon)
	home.SetFloat("azimuth_deg", 0)
	rec := &events.Recorder{}
	return tree, New(tree, cfg, rec), rec
}

// placeOnCircle puts the aircraft at the given course and distance from the
// descent circle center.
func placeOnCircle(tree *props.Tree, plan Plan, courseDeg, distM float64) {
	lat, lon := geo.Project(plan.CircleLat, plan.CircleLon, courseDeg, distM)
	pos := tree.Node("/position")
	pos.SetFloat("latitude_deg", lat)
	pos.SetFloat("longitude_deg", lon)
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	if c.GlideslopeDeg != 6 || c.TurnRadiusM != 75 || c.Direction != "left" ||
		c.ApproachSpeedKt != 25 || c.FlareSeconds != 5 || c.FlapsSetpoint() != 0 {
		t.Fatalf("unexpected defaults: %+v", c)
	}

	flaps := 0.5
	c = Config{GlideslopeDeg: 3, TurnRadiusM: 120, Direction: "right", ApproachSpeedKt: 30, FlareSeconds: 2, Flaps: &flaps}.WithDefaults()
	if c.GlideslopeDeg != 3 || c.TurnRadiusM != 120 || c.Direction != "right" ||
		c.ApproachSpeedKt != 30 || c.FlareSeconds != 2 || c.FlapsSetpoint() != 0.5 {
		t.Fatalf("explicit values overridden: %+v", c)
	}
}

func TestNew_CopiesConfigToStore(t *testing.T) {
	tree, _, _ := newRig(t, Config{FlarePitchDeg: 7, AltBiasFt: 12})
	n := tree.Node("/task/land")
	if got := n.GetFloat("glideslope_deg"); got != 6 {
		t.Fatalf("glideslope_deg=%v want=6", got)
	}
	if got := n.GetString("direction"); got != "left" {
		t.Fatalf("direction=%q want=left", got)
	}
	if got := n.GetFloat("flare_pitch_deg"); got != 7 {
		t.Fatalf("flare_pitch_deg=%v want=7", got)
	}
	if got := n.GetFloat("altitude_bias_ft"); got != 12 {
		t.Fatalf("altitude_bias_ft=%v want=12", got)
	}
}

func TestBuildApproach_Geometry(t *testing.T) {
	cases := []struct {
		name      string
		side      float64
		offsetDeg float64
		route     string
	}{
		{"left", -1, 230.55604521958347, "0,200.25,-177.14,-,0,10.00,-90.00,-"},
		{"right", 1, 189.44395478041653, "0,200.25,177.14,-,0,10.00,90.00,-"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := BuildApproach(Approach{
				HomeLat:         homeLat,
				HomeLon:         homeLon,
				FinalHeadingDeg: 30,
				TurnRadiusM:     75,
				ExtendFinalLegM: 50,
				LateralOffsetM:  10,
				Side:            tc.side,
			})
			if p.FinalLegM != 200 {
				t.Fatalf("final leg=%v want=200", p.FinalLegM)
			}
			if !near(p.CircleOffsetM, 213.60009363293827, 1e-9) {
				t.Fatalf("offset dist=%v", p.CircleOffsetM)
			}
			if !near(p.CircleOffsetDeg, tc.offsetDeg, 1e-9) {
				t.Fatalf("offset deg=%v want=%v", p.CircleOffsetDeg, tc.offsetDeg)
			}
			crs, _, dist := geo.Inverse(homeLat, homeLon, p.CircleLat, p.CircleLon)
			if !near(crs, tc.offsetDeg, 1e-6) || !near(dist, 213.60009363293827, 1e-4) {
				t.Fatalf("center at crs=%v dist=%v", crs, dist)
			}
			if p.RouteRequest != tc.route {
				t.Fatalf("route=%q want=%q", p.RouteRequest, tc.route)
			}
		})
	}
}

func TestSide(t *testing.T) {
	if Side("left") != -1 || Side("right") != 1 || Side("") != -1 {
		t.Fatalf("unexpected side mapping")
	}
}

func TestActivate_PublishesApproach(t *testing.T) {
	tree, task, rec := newRig(t, Config{Direction: "right", ExtendFinalLegM: 25})
	task.Activate()

	circle := tree.Node("/task/circle")
	if got := circle.GetFloat("radius_m"); got != 75 {
		t.Fatalf("radius_m=%v want=75", got)
	}
	if got := circle.GetString("direction"); got != "right" {
		t.Fatalf("direction=%q want=right", got)
	}
	if got := circle.GetFloat("latitude_deg"); got != task.Plan().CircleLat {
		t.Fatalf("circle lat=%v want=%v", got, task.Plan().CircleLat)
	}
	route := tree.Node("/task/route")
	for key, want := range map[string]string{
		"start_mode":      "first_wpt",
		"follow_mode":     "leader",
		"completion_mode": "extend_last_leg",
		"route_request":   task.Plan().RouteRequest,
	} {
		if got := route.GetString(key); got != want {
			t.Fatalf("%s=%q want=%q", key, got, want)
		}
	}
	if got := route.GetFloat("dist_remaining_m"); got != 175 {
		t.Fatalf("dist_remaining_m=%v want=175", got)
	}
	if got := tree.Node("/autopilot").GetString("mode"); got != "basic+alt+speed" {
		t.Fatalf("fcs mode=%q", got)
	}
	if got := tree.Node("/navigation").GetString("mode"); got != "circle" {
		t.Fatalf("nav mode=%q", got)
	}
	if got := tree.Node("/autopilot/targets").GetFloat("airspeed_kt"); got != 25 {
		t.Fatalf("airspeed=%v want=25", got)
	}
	if !rec.Has("mission", "land") {
		t.Fatalf("missing mission/land event: %v", rec.Events())
	}
}

func TestCircleCaptured(t *testing.T) {
	cases := []struct {
		d    float64
		want bool
	}{
		{75, true},
		{60, true},
		{90, true},
		{56.25, false},
		{93.75, false},
		{150, false},
		{0, false},
	}
	for _, tc := range cases {
		if got := circleCaptured(tc.d, 75); got != tc.want {
			t.Fatalf("circleCaptured(%v)=%v want=%v", tc.d, got, tc.want)
		}
	}
	if circleCaptured(10, 0) {
		t.Fatalf("zero radius should never capture")
	}
}

func TestUpdate_CircleCaptureIsOneWay(t *testing.T) {
	tree, task, rec := newRig(t, Config{})
	task.Activate()
	tree.Node("/position").SetFloat("altitude_agl_ft", 10000)

	placeOnCircle(tree, task.Plan(), 180, 150)
	task.Update(0.1)
	if task.Status().CircleCapture {
		t.Fatalf("captured at twice the radius")
	}

	placeOnCircle(tree, task.Plan(), 180, 75)
	task.Update(0.1)
	if !task.Status().CircleCapture {
		t.Fatalf("not captured at d=r")
	}
	if !rec.Has("land", "descent circle capture") {
		t.Fatalf("missing capture event")
	}

	placeOnCircle(tree, task.Plan(), 180, 225)
	task.Update(0.1)
	if !task.Status().CircleCapture {
		t.Fatalf("capture released after leaving the circle")
	}
}

func TestUpdate_CircleDistanceRemaining(t *testing.T) {
	tree, task, _ := newRig(t, Config{})
	task.Activate()
	tree.Node("/position").SetFloat("altitude_agl_ft", 10000)

	// Before capture the whole circle is assumed.
	placeOnCircle(tree, task.Plan(), 180, 150)
	task.Update(0.1)
	if got, want := task.Status().DistRemainingM, math.Pi*150+150; !near(got, want, 1e-3) {
		t.Fatalf("dist=%v want=%v", got, want)
	}

	// Captured with the exit 90 degrees ahead: a quarter circle plus final.
	placeOnCircle(tree, task.Plan(), 180, 75)
	task.Update(0.1)
	st := task.Status()
	if !near(st.ExitDiffDeg, 90, 1e-6) {
		t.Fatalf("diff=%v want=90", st.ExitDiffDeg)
	}
	if want := math.Pi/2*75 + 150; !near(st.DistRemainingM, want, 1e-3) {
		t.Fatalf("dist=%v want=%v", st.DistRemainingM, want)
	}
	wantAGL := st.DistRemainingM * math.Tan(6*geo.D2R) * geo.MToFt
	if got := tree.Node("/autopilot/targets").GetFloat("altitude_agl_ft"); !near(got, wantAGL, 1e-9) {
		t.Fatalf("target agl=%v want=%v", got, wantAGL)
	}
}

func TestGlideslopeCaptured(t *testing.T) {
	if !glideslopeCaptured(1.0) {
		t.Fatalf("1.0 deg should capture")
	}
	if glideslopeCaptured(1.01) {
		t.Fatalf("1.01 deg should not capture")
	}
	if !glideslopeCaptured(-20) {
		t.Fatalf("below the glideslope should capture")
	}
}

func TestUpdate_GlideslopeCaptureBoundary(t *testing.T) {
	tree, task, rec := newRig(t, Config{})
	task.Activate()
	pos := tree.Node("/position")
	pos.SetFloat("altitude_agl_ft", 10000)
	placeOnCircle(tree, task.Plan(), 180, 75)
	task.Update(0.1)
	st := task.Status()
	if !st.CircleCapture || st.GSCapture {
		t.Fatalf("unexpected captures: %+v", st)
	}

	aglFor := func(errDeg float64) float64 {
		return st.TargetAGLFt + st.DistRemainingM*math.Tan(errDeg*geo.D2R)/geo.FtToM
	}

	pos.SetFloat("altitude_agl_ft", aglFor(1.01))
	task.Update(0.1)
	if task.Status().GSCapture {
		t.Fatalf("captured at 1.01 deg error (gs err=%v)", task.Status().GSErrorDeg)
	}

	pos.SetFloat("altitude_agl_ft", aglFor(0.99))
	task.Update(0.1)
	if !task.Status().GSCapture {
		t.Fatalf("not captured at 0.99 deg error (gs err=%v)", task.Status().GSErrorDeg)
	}
	if !rec.Has("land", "glide slope capture") {
		t.Fatalf("missing gs capture event")
	}
	if got := tree.Node("/navigation").GetString("mode"); got != "circle" {
		t.Fatalf("nav mode=%q want circle away from the exit", got)
	}
}

func TestUpdate_HandOffToRoute(t *testing.T) {
	tree, task, rec := newRig(t, Config{})
	task.Activate()
	placeOnCircle(tree, task.Plan(), 90, 75)

	task.Update(0.1)
	st := task.Status()
	if !st.CircleCapture || !st.GSCapture {
		t.Fatalf("expected both captures: %+v", st)
	}
	if st.NavMode != "circle" {
		t.Fatalf("handed off before glideslope capture was seen")
	}

	task.Update(0.1)
	if got := tree.Node("/navigation").GetString("mode"); got != "route" {
		t.Fatalf("nav mode=%q want=route", got)
	}
	if !rec.Has("land", "transition to final") {
		t.Fatalf("missing transition event")
	}

	tree.Node("/task/route").SetFloat("dist_remaining_m", 120)
	task.Update(0.1)
	if got := task.Status().DistRemainingM; got != 120 {
		t.Fatalf("route dist=%v want=120", got)
	}
}

func flareRig(t *testing.T) (*props.Tree, *Task) {
	t.Helper()
	tree, task, _ := newRig(t, Config{FlarePitchDeg: 8})
	task.Activate()
	tree.Node("/navigation").SetString("mode", "route")
	tree.Node("/velocity").SetFloat("groundspeed_ms", 10)
	tree.Node("/sensors/imu").SetFloat("timestamp", 100)
	tree.Node("/controls/engine").SetFloat("throttle", 0.6)
	tree.Node("/autopilot/targets").SetFloat("pitch_deg", 2)
	return tree, task
}

func TestUpdate_FlareLatchAndBlend(t *testing.T) {
	tree, task := flareRig(t)
	route := tree.Node("/task/route")
	imu := tree.Node("/sensors/imu")
	targets := tree.Node("/autopilot/targets")
	engine := tree.Node("/controls/engine")

	route.SetFloat("dist_remaining_m", 51)
	task.Update(0.1)
	if task.Status().Flare {
		t.Fatalf("flare at 5.1 s to touchdown")
	}
	if got := task.Status().TouchdownSecond; !near(got, 5.1, 1e-9) {
		t.Fatalf("ttd=%v want=5.1", got)
	}

	route.SetFloat("dist_remaining_m", 49)
	task.Update(0.1)
	if !task.Status().Flare {
		t.Fatalf("no flare at 4.9 s to touchdown")
	}
	if got := tree.Node("/autopilot").GetString("mode"); got != "basic" {
		t.Fatalf("fcs mode=%q want=basic", got)
	}
	if got := targets.GetFloat("pitch_deg"); got != 2 {
		t.Fatalf("pitch at latch=%v want=2", got)
	}

	steps := []struct {
		ts       float64
		pitch    float64
		throttle float64
	}{
		{102.5, 5, 0.3},
		{103.75, 6.5, 0.15},
		{105, 8, 0},
		{110, 8, 0},
	}
	for _, s := range steps {
		imu.SetFloat("timestamp", s.ts)
		task.Update(0.1)
		if got := targets.GetFloat("pitch_deg"); !near(got, s.pitch, 1e-9) {
			t.Fatalf("t=%v pitch=%v want=%v", s.ts, got, s.pitch)
		}
		if got := engine.GetFloat("throttle"); !near(got, s.throttle, 1e-9) {
			t.Fatalf("t=%v throttle=%v want=%v", s.ts, got, s.throttle)
		}
	}

	// The latch holds even if the estimate moves back out.
	route.SetFloat("dist_remaining_m", 500)
	task.Update(0.1)
	if !task.Status().Flare {
		t.Fatalf("flare released")
	}
}

func TestUpdate_FlareWithoutDurationSnaps(t *testing.T) {
	tree, task := flareRig(t)
	tree.Node("/task/land").SetFloat("flare_seconds", 0)
	tree.Node("/task/route").SetFloat("dist_remaining_m", 0)
	task.Update(0.1)
	if got := tree.Node("/autopilot/targets").GetFloat("pitch_deg"); got != 8 {
		t.Fatalf("pitch=%v want=8", got)
	}
	if got := tree.Node("/controls/engine").GetFloat("throttle"); got != 0 {
		t.Fatalf("throttle=%v want=0", got)
	}
}

func TestUpdate_NearZeroGroundSpeed(t *testing.T) {
	tree, task := flareRig(t)
	tree.Node("/velocity").SetFloat("groundspeed_ms", 0.005)
	tree.Node("/task/route").SetFloat("dist_remaining_m", 1)
	task.Update(0.1)
	st := task.Status()
	if st.TouchdownSecond != 1000 {
		t.Fatalf("ttd=%v want=1000", st.TouchdownSecond)
	}
	if st.Flare {
		t.Fatalf("flare without ground speed")
	}
}

func TestFlareBlendClamps(t *testing.T) {
	p, th := flareBlend(2, 0.6, 8, 5, -1)
	if p != 2 || th != 0.6 {
		t.Fatalf("before start pitch=%v throttle=%v", p, th)
	}
	p, th = flareBlend(2, 0.6, 8, 5, 50)
	if p != 8 || th != 0 {
		t.Fatalf("after end pitch=%v throttle=%v", p, th)
	}
}

func TestClose_RestoresSavedState(t *testing.T) {
	flaps := 0.5
	tree, task, _ := newRig(t, Config{Flaps: &flaps})
	ap := tree.Node("/autopilot")
	nav := tree.Node("/navigation")
	targets := tree.Node("/autopilot/targets")
	flight := tree.Node("/controls/flight")
	ap.SetString("mode", "auto")
	nav.SetString("mode", "route")
	targets.SetFloat("altitude_agl_ft", 300)
	targets.SetFloat("airspeed_kt", 30)

	task.Activate()
	if got := flight.GetFloat("flaps_setpoint"); got != 0.5 {
		t.Fatalf("flaps=%v want=0.5", got)
	}
	// A second activation must not overwrite what was saved.
	task.Activate()
	task.Update(0.1)

	if !task.Close() {
		t.Fatalf("close should return true")
	}
	if got := ap.GetString("mode"); got != "auto" {
		t.Fatalf("fcs mode=%q want=auto", got)
	}
	if got := nav.GetString("mode"); got != "route" {
		t.Fatalf("nav mode=%q want=route", got)
	}
	if got := targets.GetFloat("altitude_agl_ft"); got != 300 {
		t.Fatalf("agl=%v want=300", got)
	}
	if got := targets.GetFloat("airspeed_kt"); got != 30 {
		t.Fatalf("airspeed=%v want=30", got)
	}
	if got := flight.GetFloat("flaps_setpoint"); got != 0 {
		t.Fatalf("flaps=%v want=0", got)
	}

	if task.Update(0.1) {
		t.Fatalf("update after close should report false")
	}
	if !task.Close() {
		t.Fatalf("second close should return true")
	}
	if got := ap.GetString("mode"); got != "auto" {
		t.Fatalf("fcs mode after second close=%q", got)
	}
	if task.IsComplete() {
		t.Fatalf("IsComplete should be false")
	}
}

func TestNavModeRoundTrip(t *testing.T) {
	for _, m := range []NavMode{NavCircle, NavRoute} {
		if got := ParseNavMode(m.String()); got != m {
			t.Fatalf("ParseNavMode(%q)=%v", m.String(), got)
		}
	}
	if ParseNavMode("loiter") != NavOther {
		t.Fatalf("unknown mode should be other")
	}
}
