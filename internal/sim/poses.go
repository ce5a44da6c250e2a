package sim

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/golang/geo/r3"
	"gopkg.in/yaml.v3"

	"uas-mission/internal/calib"
	"uas-mission/internal/solver"
)

// PoseScript is a keyframed accelerometer timeline. Readings are linearly
// interpolated between keyframes.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 60s
//	keyframes:
//	  - t: 0s
//	    ax: 0
//	    ay: 0
//	    az: -9.81
//	  - t: 20s
//	    ax: 5.66
//	    ay: 5.66
//	    az: 5.66
//
// Keyframes must be sorted by t. If Duration is zero it is the last
// keyframe time.
type PoseScript struct {
	Version   int             `yaml:"version"`
	Duration  time.Duration   `yaml:"duration"`
	Keyframes []AccelKeyframe `yaml:"keyframes"`
}

type AccelKeyframe struct {
	T  time.Duration `yaml:"t"`
	AX float64       `yaml:"ax"`
	AY float64       `yaml:"ay"`
	AZ float64       `yaml:"az"`
}

func (k AccelKeyframe) Vector() r3.Vector {
	return r3.Vector{X: k.AX, Y: k.AY, Z: k.AZ}
}

func keyframe(t time.Duration, v r3.Vector) AccelKeyframe {
	return AccelKeyframe{T: t, AX: v.X, AY: v.Y, AZ: v.Z}
}

func LoadPoseScript(path string) (PoseScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PoseScript{}, err
	}
	return ParsePoseScriptYAML(b)
}

func ParsePoseScriptYAML(b []byte) (PoseScript, error) {
	var s PoseScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return PoseScript{}, err
	}
	return s, nil
}

// PoseSequence describes the six-pose calibration procedure as performed by
// an operator on a vehicle whose IMU is mounted with rotation Mount.
type PoseSequence struct {
	Mount      solver.Mat3
	Hold       time.Duration
	Transition time.Duration
}

// Script lays out tilt -> pose -> hold for each reference pose in order.
// The tilt reading has no dominant axis, so it re-arms the capture between
// poses.
func (p PoseSequence) Script() PoseScript {
	hold := p.Hold
	if hold <= 0 {
		hold = 20 * time.Second
	}
	trans := p.Transition
	if trans <= 0 {
		trans = 2 * time.Second
	}
	mount := p.Mount
	if mount == (solver.Mat3{}) {
		mount = solver.Identity3()
	}
	inv := mount.Transpose()
	tilt := inv.Apply(r3.Vector{X: 1, Y: 1, Z: 1}.Normalize().Mul(calib.G))

	var s PoseScript
	s.Version = 1
	var t time.Duration
	for _, ref := range calib.References {
		meas := inv.Apply(ref)
		s.Keyframes = append(s.Keyframes,
			keyframe(t, tilt),
			keyframe(t+trans, meas),
			keyframe(t+trans+hold, meas))
		t += trans + hold
	}
	s.Keyframes = append(s.Keyframes, keyframe(t+trans, tilt))
	return s
}

// MountFromEuler builds a body-to-IMU rotation from roll, pitch and yaw in
// degrees (Z-Y-X order).
func MountFromEuler(rollDeg, pitchDeg, yawDeg float64) solver.Mat3 {
	sr, cr := math.Sincos(rollDeg * math.Pi / 180)
	sp, cp := math.Sincos(pitchDeg * math.Pi / 180)
	sy, cy := math.Sincos(yawDeg * math.Pi / 180)
	rx := solver.Mat3{{1, 0, 0}, {0, cr, -sr}, {0, sr, cr}}
	ry := solver.Mat3{{cp, 0, sp}, {0, 1, 0}, {-sp, 0, cp}}
	rz := solver.Mat3{{cy, -sy, 0}, {sy, cy, 0}, {0, 0, 1}}
	return rz.Mul(ry).Mul(rx)
}

// PoseScenario is the validated runtime form of a PoseScript.
type PoseScenario struct {
	script   PoseScript
	duration time.Duration
}

func NewPoseScenario(script PoseScript) (*PoseScenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported pose script version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
	}
	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	return &PoseScenario{script: script, duration: dur}, nil
}

func (s *PoseScenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// SampleAt returns the reading at elapsed. If loop is true elapsed wraps
// around Duration(); otherwise it is clamped.
func (s *PoseScenario) SampleAt(elapsed time.Duration, loop bool) r3.Vector {
	if elapsed < 0 {
		elapsed = 0
	}
	if s.duration > 0 {
		if loop {
			elapsed %= s.duration
		} else if elapsed > s.duration {
			elapsed = s.duration
		}
	}
	kfs := s.script.Keyframes
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > elapsed })
	if idx <= 0 {
		return kfs[0].Vector()
	}
	if idx >= len(kfs) {
		return kfs[len(kfs)-1].Vector()
	}
	k0, k1 := kfs[idx-1], kfs[idx]
	span := k1.T - k0.T
	if span <= 0 {
		return k1.Vector()
	}
	alpha := float64(elapsed-k0.T) / float64(span)
	return r3.Vector{
		X: lerp(k0.AX, k1.AX, alpha),
		Y: lerp(k0.AY, k1.AY, alpha),
		Z: lerp(k0.AZ, k1.AZ, alpha),
	}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
