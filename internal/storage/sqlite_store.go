package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"uas-mission/internal/calib"
)

// Entry is one stored calibration run.
type Entry struct {
	ID          string
	CreatedAt   time.Time
	Orientation [9]float64
	Mean        float64
	Std         float64
	Residuals   [6]float64
	Samples     [6][3]float64
}

// SqliteStore keeps a history of calibration runs.
type SqliteStore struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error

	newID func() string
}

func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath, newID: func() string { return uuid.NewString() }}
}

func (s *SqliteStore) getDB() (*sql.DB, error) {
	s.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.dbErr = fmt.Errorf("opening connection: %w", err)
			return
		}
		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		s.db = db
	})
	return s.db, s.dbErr
}

func (s *SqliteStore) SaveCalibration(ctx context.Context, res calib.Result) error {
	_, err := s.Save(ctx, res)
	return err
}

// Save inserts a run and returns its id.
func (s *SqliteStore) Save(ctx context.Context, res calib.Result) (id string, err error) {
	db, err := s.getDB()
	if err != nil {
		return "", fmt.Errorf("getting connection: %w", err)
	}

	orientation, err := json.Marshal(res.Final.RowMajor())
	if err != nil {
		return "", fmt.Errorf("marshaling orientation: %w", err)
	}
	residuals, err := json.Marshal(res.Residuals)
	if err != nil {
		return "", fmt.Errorf("marshaling residuals: %w", err)
	}
	var samples [6][3]float64
	for i, v := range res.Samples {
		samples[i] = [3]float64{v.X, v.Y, v.Z}
	}
	samplesJSON, err := json.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("marshaling samples: %w", err)
	}

	at := res.At
	if at.IsZero() {
		at = time.Now()
	}

	stmt, err := db.PrepareContext(ctx, insertCalibrationSQL)
	if err != nil {
		return "", fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	id = s.newID()
	if _, err = stmt.ExecContext(ctx, id, at.UTC(), string(orientation), res.Mean, res.Std, string(residuals), string(samplesJSON)); err != nil {
		return "", fmt.Errorf("inserting calibration: %w", err)
	}
	return id, nil
}

// List returns up to limit runs, newest first.
func (s *SqliteStore) List(ctx context.Context, limit int) (entries []Entry, err error) {
	if limit <= 0 {
		limit = -1
	}
	db, err := s.getDB()
	if err != nil {
		return nil, fmt.Errorf("getting connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectCalibrationsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("querying calibrations: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var e Entry
		var orientation, residuals, samples string
		if err = rows.Scan(&e.ID, &e.CreatedAt, &orientation, &e.Mean, &e.Std, &residuals, &samples); err != nil {
			return nil, fmt.Errorf("scanning calibration: %w", err)
		}
		if err = json.Unmarshal([]byte(orientation), &e.Orientation); err != nil {
			return nil, fmt.Errorf("decoding orientation %s: %w", e.ID, err)
		}
		if err = json.Unmarshal([]byte(residuals), &e.Residuals); err != nil {
			return nil, fmt.Errorf("decoding residuals %s: %w", e.ID, err)
		}
		if err = json.Unmarshal([]byte(samples), &e.Samples); err != nil {
			return nil, fmt.Errorf("decoding samples %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating calibrations: %w", err)
	}
	return entries, nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
			s.db = nil
		}
	})
	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
