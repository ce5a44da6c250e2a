package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r3"

	"uas-mission/internal/calib"
	"uas-mission/internal/config"
	"uas-mission/internal/events"
	"uas-mission/internal/geo"
	"uas-mission/internal/land"
	"uas-mission/internal/mqttlink"
	"uas-mission/internal/props"
	"uas-mission/internal/replay"
	"uas-mission/internal/sim"
	"uas-mission/internal/storage"
	"uas-mission/internal/task"
	"uas-mission/internal/udp"
)

const imuPath = "/sensors/imu"

// mission is one configured task plus the feeds and sinks around it.
type mission struct {
	name   string
	tree   *props.Tree
	task   task.Task
	status func() any
	log    events.Logger

	before  []task.Hook
	after   []task.Hook
	closers []func() error
}

func newMission(cfg config.Config, name string) (*mission, error) {
	m := &mission{name: name, tree: props.NewTree()}
	if err := m.setup(cfg); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *mission) setup(cfg config.Config) error {
	name := m.name
	seedHome(m.tree, cfg.Home)
	if err := seedCalibration(m.tree, cfg.Calibration.ResultDir); err != nil {
		log.Printf("stored calibration ignored: %v", err)
	}

	var link *mqttlink.Link
	if cfg.MQTT.Enable {
		var err error
		link, err = mqttlink.Dial(mqttlink.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		m.closers = append(m.closers, func() error { link.Close(); return nil })
	}
	logs := events.Multi{events.NewStd(nil)}
	if link != nil {
		logs = append(logs, link)
	}
	m.log = logs

	var err error
	switch name {
	case "calibrate":
		err = m.setupCalibrate(cfg)
	case "land":
		err = m.setupLand(cfg)
	default:
		err = fmt.Errorf("unknown task %q (want calibrate or land)", name)
	}
	if err != nil {
		return err
	}

	if link != nil {
		if cfg.MQTT.BindInputs {
			if err := link.BindInputs(m.tree); err != nil {
				return fmt.Errorf("mqtt bind inputs: %w", err)
			}
		}
		m.after = append(m.after, publishHook(link, name, m.status, cfg.Loop.RateHz))
	}

	if cfg.Telemetry.Enable {
		b, err := udp.NewBroadcaster(cfg.Telemetry.Dest)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		m.closers = append(m.closers, b.Close)
		m.after = append(m.after, telemetryHook(b, name, m.status))
		log.Printf("telemetry dest=%s", b.Dest())
	}
	return nil
}

func (m *mission) setupCalibrate(cfg config.Config) error {
	persist := storage.Multi{storage.JSONFile{Dir: cfg.Calibration.ResultDir}}
	if cfg.Calibration.HistoryDB != "" {
		hist, err := openHistory(cfg.Calibration.HistoryDB)
		if err != nil {
			return err
		}
		m.closers = append(m.closers, hist.Close)
		persist = append(persist, hist)
	}
	ct := calib.New(m.tree, calib.Config{
		IMUPath:   imuPath,
		Persister: persist,
		Logger:    m.log,
	})
	m.task = ct
	m.status = func() any { return ct.Status() }

	imu := m.tree.Node(imuPath)
	switch {
	case cfg.Sim.Poses.Enable:
		scn, err := poseScenario(cfg.Sim.Poses)
		if err != nil {
			return fmt.Errorf("pose sim: %w", err)
		}
		log.Printf("pose sim duration=%s", scn.Duration())
		m.before = append(m.before, feedHook(imu, func(at time.Duration) (r3.Vector, bool) {
			return scn.SampleAt(at, false), true
		}))
	case cfg.Calibration.Replay.Enable:
		records, err := replay.ReadFile(cfg.Calibration.Replay.Path)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		cur, err := replay.NewCursor(records, cfg.Calibration.Replay.Speed, cfg.Calibration.Replay.Loop)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		log.Printf("replay path=%s records=%d duration=%s", cfg.Calibration.Replay.Path, len(records), cur.Duration())
		m.before = append(m.before, feedHook(imu, cur.At))
	}

	if cfg.Calibration.RecordPath != "" {
		w, err := replay.CreateWriter(cfg.Calibration.RecordPath)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		m.closers = append(m.closers, w.Close)
		m.after = append(m.after, recordHook(w, imu, time.Now))
	}
	return nil
}

func (m *mission) setupLand(cfg config.Config) error {
	lt := land.New(m.tree, land.Config{
		LateralOffsetM:  cfg.Land.LateralOffsetM,
		GlideslopeDeg:   cfg.Land.GlideslopeDeg,
		TurnRadiusM:     cfg.Land.TurnRadiusM,
		Direction:       cfg.Land.Direction,
		ExtendFinalLegM: cfg.Land.ExtendFinalLegM,
		AltBiasFt:       cfg.Land.AltBiasFt,
		ApproachSpeedKt: cfg.Land.ApproachSpeedKt,
		FlarePitchDeg:   cfg.Land.FlarePitchDeg,
		FlareSeconds:    cfg.Land.FlareSeconds,
		Flaps:           cfg.Land.Flaps,
	}, m.log)
	m.task = lt
	m.status = func() any { return lt.Status() }

	if cfg.Sim.Approach.Enable {
		a := cfg.Sim.Approach
		lat, lon := geo.Project(cfg.Home.LatitudeDeg, cfg.Home.LongitudeDeg, a.StartBearingDeg, a.StartDistanceM)
		s := sim.NewApproachSim(m.tree, sim.ApproachStart{
			LatDeg:   lat,
			LonDeg:   lon,
			AGLFt:    a.StartAGLFt,
			TrackDeg: geo.Wrap360(a.StartBearingDeg + 180),
		})
		log.Printf("approach sim start bearing=%g dist_m=%g agl_ft=%g", a.StartBearingDeg, a.StartDistanceM, a.StartAGLFt)
		m.before = append(m.before, func(_ uint64, dt float64) { s.Step(dt) })
	}
	return nil
}

// Close releases sinks in reverse order of creation.
func (m *mission) Close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
	m.closers = nil
}

func seedHome(tree *props.Tree, h config.HomeConfig) {
	home := tree.Node("/task/home")
	home.SetFloat("latitude_deg", h.LatitudeDeg)
	home.SetFloat("longitude_deg", h.LongitudeDeg)
	home.SetFloat("azimuth_deg", h.AzimuthDeg)
}

// seedCalibration loads a previous result so a new run composes with it.
// A missing file is not an error.
func seedCalibration(tree *props.Tree, dir string) error {
	path := storage.JSONFile{Dir: dir}.Path()
	rec, err := storage.LoadRecord(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	storage.ApplyRecord(tree.Node("/config/drivers/imu"), rec)
	log.Printf("stored calibration loaded path=%s mean=%g", path, rec.Mean)
	return nil
}

func openHistory(dbPath string) (*storage.SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("history db dir: %w", err)
	}
	return storage.NewSqliteStore(dbPath), nil
}

func poseScenario(c config.PoseSimConfig) (*sim.PoseScenario, error) {
	if c.ScriptPath != "" {
		script, err := sim.LoadPoseScript(c.ScriptPath)
		if err != nil {
			return nil, err
		}
		return sim.NewPoseScenario(script)
	}
	return sim.NewPoseScenario(sim.PoseSequence{
		Mount:      sim.MountFromEuler(c.MountRollDeg, c.MountPitchDeg, c.MountYawDeg),
		Hold:       c.Hold,
		Transition: c.Transition,
	}.Script())
}

func writeAccel(n props.Node, v r3.Vector) {
	n.SetFloat("ax_nocal", v.X)
	n.SetFloat("ay_nocal", v.Y)
	n.SetFloat("az_nocal", v.Z)
}

// feedHook writes sample(elapsed) into the IMU node ahead of each update.
// Elapsed time is the sum of tick dt so a slow loop replays slowly rather
// than skipping samples.
func feedHook(imu props.Node, sample func(time.Duration) (r3.Vector, bool)) task.Hook {
	var elapsed time.Duration
	done := false
	return func(_ uint64, dt float64) {
		elapsed += time.Duration(dt * float64(time.Second))
		v, ok := sample(elapsed)
		if !ok {
			if !done {
				log.Printf("imu feed exhausted at=%s", elapsed)
				done = true
			}
			return
		}
		writeAccel(imu, v)
	}
}

func recordHook(w *replay.Writer, imu props.Node, now func() time.Time) task.Hook {
	failed := false
	return func(uint64, float64) {
		v := r3.Vector{
			X: imu.GetFloat("ax_nocal"),
			Y: imu.GetFloat("ay_nocal"),
			Z: imu.GetFloat("az_nocal"),
		}
		if err := w.WriteSample(now(), v); err != nil && !failed {
			log.Printf("record failed: %v", err)
			failed = true
		}
	}
}

type statusSender interface {
	SendStatus(task string, tick uint64, status any) error
}

func telemetryHook(s statusSender, name string, status func() any) task.Hook {
	return func(tick uint64, _ float64) {
		if err := s.SendStatus(name, tick, status()); err != nil {
			log.Printf("telemetry send failed tick=%d: %v", tick, err)
		}
	}
}

type statusPublisher interface {
	PublishStatus(name string, v any) error
}

// publishHook publishes the task status roughly once per second.
func publishHook(p statusPublisher, name string, status func() any, rateHz float64) task.Hook {
	every := uint64(rateHz)
	if every == 0 {
		every = 1
	}
	return func(tick uint64, _ float64) {
		if tick%every != 0 {
			return
		}
		if err := p.PublishStatus(name, status()); err != nil {
			log.Printf("mqtt publish failed: %v", err)
		}
	}
}
