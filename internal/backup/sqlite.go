package backup

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

// SQLite stores entries in a single table using the pure Go driver.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; the monitor appends once per interval.
	db.SetMaxOpenConns(1)

	schema := `CREATE TABLE IF NOT EXISTS readings (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		check_number  INTEGER NOT NULL,
		timestamp     TEXT NOT NULL,
		timestamp_ms  INTEGER NOT NULL,
		temperature   REAL,
		feels_like    REAL,
		humidity      INTEGER,
		pressure      INTEGER,
		description   TEXT,
		wind_speed    REAL,
		cloudiness    INTEGER,
		api_call_time TEXT
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Backend() string { return "sqlite" }

func (s *SQLite) Append(ctx context.Context, e models.BackupEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO readings(check_number, timestamp, timestamp_ms, temperature, feels_like,
		humidity, pressure, description, wind_speed, cloudiness, api_call_time) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.CheckNumber, e.Timestamp, e.TimestampMs, e.Temperature, e.FeelsLike,
		e.Humidity, e.Pressure, e.Description, e.WindSpeed, e.Cloudiness, e.APICallTime)
	if err != nil {
		observability.BackupWritesTotal.WithLabelValues(s.Backend(), "error").Inc()
		return fmt.Errorf("insert backup entry: %w", err)
	}
	observability.BackupWritesTotal.WithLabelValues(s.Backend(), "success").Inc()
	return nil
}

func (s *SQLite) Recent(ctx context.Context, n int) ([]models.BackupEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT check_number, timestamp, timestamp_ms, temperature, feels_like, humidity,
		pressure, description, wind_speed, cloudiness, api_call_time FROM readings ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query backup entries: %w", err)
	}
	defer rows.Close()

	var out []models.BackupEntry
	for rows.Next() {
		var e models.BackupEntry
		if err := rows.Scan(&e.CheckNumber, &e.Timestamp, &e.TimestampMs, &e.Temperature, &e.FeelsLike, &e.Humidity,
			&e.Pressure, &e.Description, &e.WindSpeed, &e.Cloudiness, &e.APICallTime); err != nil {
			return nil, fmt.Errorf("scan backup entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
