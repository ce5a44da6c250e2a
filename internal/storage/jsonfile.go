package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"uas-mission/internal/calib"
	"uas-mission/internal/props"
)

// CalibrationFile is the artifact name inside the result directory.
const CalibrationFile = "imu_calib.json"

// JSONFile writes the latest calibration to <Dir>/imu_calib.json.
type JSONFile struct {
	Dir string
}

func (j JSONFile) Path() string {
	return filepath.Join(j.Dir, CalibrationFile)
}

func (j JSONFile) SaveCalibration(ctx context.Context, res calib.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(res.Record(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}
	b = append(b, '\n')
	if err := os.MkdirAll(j.Dir, 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	unlock, err := lockPath(ctx, j.Path())
	if err != nil {
		return err
	}
	defer unlock()
	return writeAtomic(j.Path(), b)
}

// writeAtomic writes through a temp file in the same directory so the
// rename is atomic.
func writeAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadRecord reads a calibration artifact.
func LoadRecord(path string) (calib.Record, error) {
	var rec calib.Record
	b, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("parse %s: %w", path, err)
	}
	return rec, nil
}

// ApplyRecord seeds a driver node with a stored calibration so the next run
// composes with it.
func ApplyRecord(n props.Node, rec calib.Record) {
	n.SetLen("orientation", len(rec.Orientation))
	for i, v := range rec.Orientation {
		n.SetFloatAt("orientation", i, v)
	}
	n.SetFloat("calibration_mean", rec.Mean)
	n.SetFloat("calibration_std", rec.Std)
}

// Multi saves to every persister and joins their errors.
type Multi []calib.Persister

func (m Multi) SaveCalibration(ctx context.Context, res calib.Result) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.SaveCalibration(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
