package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS calibrations (
    id          TEXT PRIMARY KEY,
    created_at  TIMESTAMP NOT NULL,
    orientation TEXT NOT NULL,
    mean        REAL NOT NULL,
    std         REAL NOT NULL,
    residuals   TEXT NOT NULL,
    samples     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calibrations_created_at ON calibrations (created_at);`

	insertCalibrationSQL = `
INSERT INTO calibrations (
                          id,
                          created_at,
                          orientation,
                          mean,
                          std,
                          residuals,
                          samples)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectCalibrationsSQL = `
SELECT
    id,
    created_at,
    orientation,
    mean,
    std,
    residuals,
    samples
FROM calibrations
ORDER BY created_at DESC, rowid DESC
LIMIT ?`
)
