package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Loop        LoopConfig        `yaml:"loop"`
	Home        HomeConfig        `yaml:"home"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Land        LandConfig        `yaml:"land"`
	Sim         SimConfig         `yaml:"sim"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type LoopConfig struct {
	RateHz float64 `yaml:"rate_hz"`
}

// HomeConfig is the touchdown point; azimuth is the final approach heading.
type HomeConfig struct {
	LatitudeDeg  float64 `yaml:"latitude_deg"`
	LongitudeDeg float64 `yaml:"longitude_deg"`
	AzimuthDeg   float64 `yaml:"azimuth_deg"`
}

type CalibrationConfig struct {
	ResultDir  string       `yaml:"result_dir"`
	HistoryDB  string       `yaml:"history_db"`
	RecordPath string       `yaml:"record_path"`
	Replay     ReplayConfig `yaml:"replay"`
}

type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type LandConfig struct {
	LateralOffsetM  float64  `yaml:"lateral_offset_m"`
	GlideslopeDeg   float64  `yaml:"glideslope_deg"`
	TurnRadiusM     float64  `yaml:"turn_radius_m"`
	Direction       string   `yaml:"direction"`
	ExtendFinalLegM float64  `yaml:"extend_final_leg_m"`
	AltBiasFt       float64  `yaml:"alt_bias_ft"`
	ApproachSpeedKt float64  `yaml:"approach_speed_kt"`
	FlarePitchDeg   float64  `yaml:"flare_pitch_deg"`
	FlareSeconds    float64  `yaml:"flare_seconds"`
	Flaps           *float64 `yaml:"flaps"`
}

type SimConfig struct {
	Poses    PoseSimConfig     `yaml:"poses"`
	Approach ApproachSimConfig `yaml:"approach"`
}

type PoseSimConfig struct {
	Enable        bool          `yaml:"enable"`
	ScriptPath    string        `yaml:"script_path"`
	Hold          time.Duration `yaml:"hold"`
	Transition    time.Duration `yaml:"transition"`
	MountRollDeg  float64       `yaml:"mount_roll_deg"`
	MountPitchDeg float64       `yaml:"mount_pitch_deg"`
	MountYawDeg   float64       `yaml:"mount_yaw_deg"`
}

type ApproachSimConfig struct {
	Enable          bool    `yaml:"enable"`
	StartDistanceM  float64 `yaml:"start_distance_m"`
	StartBearingDeg float64 `yaml:"start_bearing_deg"`
	StartAGLFt      float64 `yaml:"start_agl_ft"`
}

type MQTTConfig struct {
	Enable      bool   `yaml:"enable"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	BindInputs  bool   `yaml:"bind_inputs"`
}

type TelemetryConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

var linePrefix = regexp.MustCompile(`^line \d+: `)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			msgs := make([]string, 0, len(te.Errors))
			for _, m := range te.Errors {
				msgs = append(msgs, linePrefix.ReplaceAllString(m, ""))
			}
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
		}
		return Config{}, err
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults in place and rejects inconsistent
// settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg.Loop.RateHz == 0 {
		cfg.Loop.RateHz = 10
	}
	if cfg.Loop.RateHz < 0 || cfg.Loop.RateHz > 1000 {
		return fmt.Errorf("loop.rate_hz must be in (0, 1000]")
	}

	if cfg.Home.LatitudeDeg < -90 || cfg.Home.LatitudeDeg > 90 {
		return fmt.Errorf("home.latitude_deg must be in [-90, 90]")
	}
	if cfg.Home.LongitudeDeg < -180 || cfg.Home.LongitudeDeg > 180 {
		return fmt.Errorf("home.longitude_deg must be in [-180, 180]")
	}
	if cfg.Home.AzimuthDeg < 0 || cfg.Home.AzimuthDeg >= 360 {
		return fmt.Errorf("home.azimuth_deg must be in [0, 360)")
	}

	if cfg.Calibration.ResultDir == "" {
		cfg.Calibration.ResultDir = "."
	}
	if cfg.Calibration.Replay.Enable {
		if cfg.Calibration.Replay.Path == "" {
			return fmt.Errorf("calibration.replay.path is required when calibration.replay.enable is true")
		}
		if cfg.Calibration.Replay.Speed == 0 {
			cfg.Calibration.Replay.Speed = 1
		}
		if cfg.Calibration.Replay.Speed < 0 {
			return fmt.Errorf("calibration.replay.speed must be > 0")
		}
		if cfg.Calibration.RecordPath != "" {
			return fmt.Errorf("calibration.record_path and calibration.replay cannot both be used")
		}
		if cfg.Sim.Poses.Enable {
			return fmt.Errorf("calibration.replay and sim.poses cannot both be enabled")
		}
	}

	switch cfg.Land.Direction {
	case "", "left", "right":
	default:
		return fmt.Errorf("land.direction must be 'left' or 'right'")
	}
	if cfg.Land.TurnRadiusM < 0 {
		return fmt.Errorf("land.turn_radius_m must be >= 0")
	}
	if cfg.Land.ExtendFinalLegM < 0 {
		return fmt.Errorf("land.extend_final_leg_m must be >= 0")
	}

	if cfg.Sim.Poses.Hold < 0 || cfg.Sim.Poses.Transition < 0 {
		return fmt.Errorf("sim.poses.hold and sim.poses.transition must be >= 0")
	}
	if cfg.Sim.Approach.StartDistanceM <= 0 {
		cfg.Sim.Approach.StartDistanceM = 700
	}
	if cfg.Sim.Approach.StartAGLFt <= 0 {
		cfg.Sim.Approach.StartAGLFt = 250
	}
	if cfg.Sim.Approach.StartBearingDeg == 0 {
		cfg.Sim.Approach.StartBearingDeg = 180
	}

	if cfg.MQTT.Enable && strings.TrimSpace(cfg.MQTT.Broker) == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "uas-mission"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "uas"
	}

	if cfg.Telemetry.Enable && cfg.Telemetry.Dest == "" {
		return fmt.Errorf("telemetry.dest is required when telemetry.enable is true")
	}
	return nil
}
