package land

import "uas-mission/internal/props"

// Config holds the landing task parameters. Zero values are replaced by
// defaults in WithDefaults.
type Config struct {
	LateralOffsetM  float64
	GlideslopeDeg   float64
	TurnRadiusM     float64
	Direction       string
	ExtendFinalLegM float64
	AltBiasFt       float64
	ApproachSpeedKt float64
	FlarePitchDeg   float64
	FlareSeconds    float64
	// Flaps is optional; nil means 0.
	Flaps *float64
}

const (
	defaultGlideslopeDeg   = 6.0
	defaultTurnRadiusM     = 75.0
	defaultDirection       = "left"
	defaultApproachSpeedKt = 25.0
	defaultFlareSeconds    = 5.0
)

func (c Config) WithDefaults() Config {
	if c.GlideslopeDeg < 0.01 {
		c.GlideslopeDeg = defaultGlideslopeDeg
	}
	if c.TurnRadiusM < 1.0 {
		c.TurnRadiusM = defaultTurnRadiusM
	}
	if c.Direction == "" {
		c.Direction = defaultDirection
	}
	if c.ApproachSpeedKt < 0.1 {
		c.ApproachSpeedKt = defaultApproachSpeedKt
	}
	if c.FlareSeconds < 0.1 {
		c.FlareSeconds = defaultFlareSeconds
	}
	return c
}

func (c Config) FlapsSetpoint() float64 {
	if c.Flaps == nil {
		return 0
	}
	return *c.Flaps
}

// writeTo copies the tunable parameters into the task node so they can be
// adjusted in flight.
func (c Config) writeTo(n props.Node) {
	n.SetFloat("lateral_offset_m", c.LateralOffsetM)
	n.SetFloat("glideslope_deg", c.GlideslopeDeg)
	n.SetFloat("turn_radius_m", c.TurnRadiusM)
	n.SetString("direction", c.Direction)
	n.SetFloat("extend_final_leg_m", c.ExtendFinalLegM)
	n.SetFloat("altitude_bias_ft", c.AltBiasFt)
	n.SetFloat("approach_speed_kt", c.ApproachSpeedKt)
	n.SetFloat("flare_pitch_deg", c.FlarePitchDeg)
	n.SetFloat("flare_seconds", c.FlareSeconds)
}
