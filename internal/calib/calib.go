package calib

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"

	"uas-mission/internal/events"
	"uas-mission/internal/lowpass"
	"uas-mission/internal/props"
	"uas-mission/internal/solver"
)

// G is standard gravity in the accelerometer's units.
const G = 9.81

const (
	stableThreshold = 0.04
	upThreshold     = 8.0
	fastTimeFactor  = 0.2
	slowTimeFactor  = 2.0
	unitTolerance   = 0.9
	persistTimeout  = 5 * time.Second

	eventCategory = "calibrate accels"
)

var (
	ErrSequence = errors.New("calib: did not observe 6 unique orientations")
	ErrSanity   = errors.New("calib: rotation failed sanity check")
	ErrPersist  = errors.New("calib: persist calibration")
)

// References holds the expected specific force for each pose, indexed by
// State (RightSideUp..WingUp).
var References = [6]r3.Vector{
	{X: 0, Y: 0, Z: -G},
	{X: 0, Y: 0, Z: G},
	{X: -G, Y: 0, Z: 0},
	{X: G, Y: 0, Z: 0},
	{X: 0, Y: -G, Z: 0},
	{X: 0, Y: G, Z: 0},
}

// Persister stores a finished calibration somewhere durable.
type Persister interface {
	SaveCalibration(ctx context.Context, res Result) error
}

type Config struct {
	// IMUPath holds ax_nocal, ay_nocal, az_nocal.
	IMUPath string
	// DriverPath holds the current orientation and receives the new one.
	DriverPath string

	Persister Persister
	Logger    events.Logger
	Now       func() time.Time
}

type Result struct {
	At        time.Time
	Samples   [6]r3.Vector
	Fit       solver.Mat3
	Offset    r3.Vector
	Final     solver.Mat3
	Residuals [6]float64
	Mean      float64
	Std       float64
}

// Record is the persisted artifact.
type Record struct {
	Orientation [9]float64 `json:"orientation"`
	Mean        float64    `json:"calibration_mean"`
	Std         float64    `json:"calibration_std"`
}

func (r Result) Record() Record {
	return Record{Orientation: r.Final.RowMajor(), Mean: r.Mean, Std: r.Std}
}

type Status struct {
	State   string  `json:"state"`
	Prompt  string  `json:"prompt,omitempty"`
	UpAxis  string  `json:"up_axis"`
	Armed   bool    `json:"armed"`
	Stable  bool    `json:"stable"`
	Motion  float64 `json:"motion"`
	Checked int     `json:"checked"`
	Error   string  `json:"error,omitempty"`
}

// run is the per-activation state. It is replaced wholesale on Activate.
type run struct {
	state    State
	armed    bool
	checked  map[Axis]bool
	samples  [6]r3.Vector
	fast     [3]lowpass.Filter
	slow     [3]lowpass.Filter
	stable   bool
	motion   float64
	up       Axis
	fit      solver.Mat3
	offset   r3.Vector
	reported bool
}

func newRun() run {
	r := run{checked: make(map[Axis]bool, 6)}
	for i := 0; i < 3; i++ {
		r.fast[i] = lowpass.Filter{TimeFactor: fastTimeFactor}
		r.slow[i] = lowpass.Filter{TimeFactor: slowTimeFactor}
	}
	return r
}

// Task runs the six-pose accelerometer orientation calibration.
type Task struct {
	cfg    Config
	imu    props.Node
	driver props.Node
	log    events.Logger

	active bool
	run    run
	result *Result
	err    error
}

func New(store props.Store, cfg Config) *Task {
	if cfg.IMUPath == "" {
		cfg.IMUPath = "/sensors/imu"
	}
	if cfg.DriverPath == "" {
		cfg.DriverPath = "/config/drivers/imu"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	lg := cfg.Logger
	if lg == nil {
		lg = events.Discard{}
	}
	return &Task{
		cfg:    cfg,
		imu:    store.Node(cfg.IMUPath),
		driver: store.Node(cfg.DriverPath),
		log:    lg,
		run:    newRun(),
	}
}

func (t *Task) Activate() {
	t.active = true
	t.run = newRun()
	t.result = nil
	t.err = nil
	t.log.Log(eventCategory, "active")
}

func (t *Task) Update(dt float64) bool {
	if !t.active {
		return false
	}
	r := &t.run

	raw := [3]float64{
		t.imu.GetFloat("ax_nocal"),
		t.imu.GetFloat("ay_nocal"),
		t.imu.GetFloat("az_nocal"),
	}
	sumSq := 0.0
	for i := 0; i < 3; i++ {
		r.slow[i].Update(raw[i], dt)
		r.fast[i].Update(raw[i], dt)
		d := r.slow[i].Value - r.fast[i].Value
		sumSq += d * d
	}
	r.motion = math.Sqrt(sumSq)
	r.stable = r.motion < stableThreshold

	r.up = detectUp(r.fastVector())
	if r.up == AxisNone {
		r.armed = true
	}

	switch {
	case r.state < StateSanityCheck:
		if r.armed && r.stable && r.newAxis() {
			r.samples[r.state] = r.fastVector()
			r.checked[r.up] = true
			t.log.Log(eventCategory, fmt.Sprintf("captured %s (%s)", r.up, r.state))
			r.state++
			r.armed = false
		}
	case r.state == StateSanityCheck:
		t.sanityCheck()
	case r.state == StateCompleteOK:
		if !r.reported {
			r.reported = true
			t.report()
		}
	}
	return true
}

func (t *Task) sanityCheck() {
	r := &t.run
	if len(r.checked) != 6 {
		t.fail(fmt.Errorf("%w: got %d", ErrSequence, len(r.checked)))
		return
	}
	fit, offset, err := solver.FitRigid(r.samples[:], References[:])
	if err != nil {
		t.fail(err)
		return
	}
	if err := fit.CheckUnitRowsCols(unitTolerance); err != nil {
		t.fail(fmt.Errorf("%w: %v", ErrSanity, err))
		return
	}
	r.fit = fit
	r.offset = offset
	r.state = StateCompleteOK
}

func (t *Task) fail(err error) {
	t.err = err
	t.run.state = StateCompleteFailed
	t.log.Log(eventCategory, "failed: "+err.Error())
}

// report composes the fit with the existing orientation, computes residuals
// and persists the result.
func (t *Task) report() {
	r := &t.run
	current := t.currentOrientation()
	final := current.Mul(r.fit)

	res := Result{
		At:      t.cfg.Now().UTC(),
		Samples: r.samples,
		Fit:     r.fit,
		Offset:  r.offset,
		Final:   final,
	}
	sum := 0.0
	for i, v := range r.samples {
		res.Residuals[i] = References[i].Sub(final.Apply(v)).Norm()
		sum += res.Residuals[i]
	}
	res.Mean = sum / float64(len(res.Residuals))
	varSum := 0.0
	for _, e := range res.Residuals {
		varSum += (e - res.Mean) * (e - res.Mean)
	}
	res.Std = math.Sqrt(varSum / float64(len(res.Residuals)))
	t.result = &res

	t.writeDriver(res)
	t.log.Log(eventCategory, fmt.Sprintf("succeeded mean=%.4f std=%.4f", res.Mean, res.Std))

	if t.cfg.Persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := t.cfg.Persister.SaveCalibration(ctx, res); err != nil {
		t.err = fmt.Errorf("%w: %w", ErrPersist, err)
		t.log.Log(eventCategory, "persist failed: "+err.Error())
	}
}

func (t *Task) currentOrientation() solver.Mat3 {
	if !t.driver.HasChild("orientation") || t.driver.Len("orientation") < 9 {
		return solver.Identity3()
	}
	var v [9]float64
	for i := range v {
		v[i] = t.driver.GetFloatAt("orientation", i)
	}
	return solver.Mat3FromRowMajor(v)
}

func (t *Task) writeDriver(res Result) {
	v := res.Final.RowMajor()
	t.driver.SetLen("orientation", 9)
	for i := range v {
		t.driver.SetFloatAt("orientation", i, v[i])
	}
	t.driver.SetFloat("calibration_mean", res.Mean)
	t.driver.SetFloat("calibration_std", res.Std)
}

func (t *Task) IsComplete() bool {
	return false
}

func (t *Task) Close() bool {
	t.active = false
	return true
}

func (t *Task) State() State {
	return t.run.state
}

// Result is nil until the run reaches CompleteOK and reports.
func (t *Task) Result() *Result {
	return t.result
}

// Err explains a failed run, or a persistence failure after success.
func (t *Task) Err() error {
	return t.err
}

func (t *Task) Status() Status {
	r := &t.run
	s := Status{
		State:   r.state.String(),
		Prompt:  r.state.Prompt(),
		UpAxis:  r.up.String(),
		Armed:   r.armed,
		Stable:  r.stable,
		Motion:  r.motion,
		Checked: len(r.checked),
	}
	if t.err != nil {
		s.Error = t.err.Error()
	}
	return s
}

func (r *run) fastVector() r3.Vector {
	return r3.Vector{X: r.fast[0].Value, Y: r.fast[1].Value, Z: r.fast[2].Value}
}

func (r *run) newAxis() bool {
	return r.up != AxisNone && !r.checked[r.up]
}
