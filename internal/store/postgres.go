// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/ricemaid/ricemaid/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a PostgreSQL-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store from a postgres:// DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("PostgresStore failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore ready")
	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) AddWaterLevel(wl models.WaterLevel) (models.WaterLevel, error) {
	if wl.CreateTime.IsZero() {
		wl.CreateTime = time.Now().UTC()
	}
	if wl.ID > 0 {
		_, err := s.db.Exec(
			`INSERT INTO water_levels (id, device_id, water_level, create_time) VALUES ($1, $2, $3, $4)`,
			wl.ID, wl.DeviceID, wl.WaterLevel, wl.CreateTime,
		)
		if err != nil {
			return models.WaterLevel{}, fmt.Errorf("failed to insert water level: %w", err)
		}
		return wl, nil
	}
	err := s.db.QueryRow(
		`INSERT INTO water_levels (device_id, water_level, create_time) VALUES ($1, $2, $3) RETURNING id`,
		wl.DeviceID, wl.WaterLevel, wl.CreateTime,
	).Scan(&wl.ID)
	if err != nil {
		return models.WaterLevel{}, fmt.Errorf("failed to insert water level: %w", err)
	}
	return wl, nil
}

func (s *PostgresStore) GetWaterLevelByDevice(deviceID string) (*models.WaterLevel, error) {
	row := s.db.QueryRow(
		`SELECT id, device_id, water_level, create_time FROM water_levels WHERE device_id = $1 ORDER BY create_time DESC LIMIT 1`,
		deviceID,
	)
	var wl models.WaterLevel
	if err := row.Scan(&wl.ID, &wl.DeviceID, &wl.WaterLevel, &wl.CreateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query water level: %w", err)
	}
	return &wl, nil
}

func (s *PostgresStore) ListWaterLevels() ([]models.WaterLevel, error) {
	return s.queryWaterLevels(`SELECT id, device_id, water_level, create_time FROM water_levels ORDER BY create_time`)
}

func (s *PostgresStore) ListRecentWaterLevels(days int) ([]models.WaterLevel, error) {
	if days <= 0 {
		return nil, models.ErrDaysOutOfRange
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return s.queryWaterLevels(
		`SELECT id, device_id, water_level, create_time FROM water_levels WHERE create_time >= $1 ORDER BY create_time`,
		cutoff,
	)
}

func (s *PostgresStore) queryWaterLevels(query string, args ...any) ([]models.WaterLevel, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query water levels: %w", err)
	}
	defer rows.Close()
	var out []models.WaterLevel
	for rows.Next() {
		var wl models.WaterLevel
		if err := rows.Scan(&wl.ID, &wl.DeviceID, &wl.WaterLevel, &wl.CreateTime); err != nil {
			return nil, fmt.Errorf("failed to scan water level: %w", err)
		}
		out = append(out, wl)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddFieldStats(fs models.FieldStats) (models.FieldStats, error) {
	if fs.CreateTime.IsZero() {
		fs.CreateTime = time.Now().UTC()
	}
	if fs.ID > 0 {
		_, err := s.db.Exec(
			`INSERT INTO field_stats (id, device_id, soil_moisture, soil_status, temperature, create_time) VALUES ($1, $2, $3, $4, $5, $6)`,
			fs.ID, fs.DeviceID, fs.SoilMoisture, fs.SoilStatus, fs.Temperature, fs.CreateTime,
		)
		if err != nil {
			return models.FieldStats{}, fmt.Errorf("failed to insert field stats: %w", err)
		}
		return fs, nil
	}
	err := s.db.QueryRow(
		`INSERT INTO field_stats (device_id, soil_moisture, soil_status, temperature, create_time) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		fs.DeviceID, fs.SoilMoisture, fs.SoilStatus, fs.Temperature, fs.CreateTime,
	).Scan(&fs.ID)
	if err != nil {
		return models.FieldStats{}, fmt.Errorf("failed to insert field stats: %w", err)
	}
	return fs, nil
}

func (s *PostgresStore) GetFieldStatsByDevice(deviceID string) (*models.FieldStats, error) {
	row := s.db.QueryRow(
		`SELECT id, device_id, soil_moisture, soil_status, temperature, create_time FROM field_stats WHERE device_id = $1 ORDER BY create_time DESC LIMIT 1`,
		deviceID,
	)
	var fs models.FieldStats
	if err := row.Scan(&fs.ID, &fs.DeviceID, &fs.SoilMoisture, &fs.SoilStatus, &fs.Temperature, &fs.CreateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query field stats: %w", err)
	}
	return &fs, nil
}

func (s *PostgresStore) ListFieldStats() ([]models.FieldStats, error) {
	return s.queryFieldStats(`SELECT id, device_id, soil_moisture, soil_status, temperature, create_time FROM field_stats ORDER BY create_time`)
}

func (s *PostgresStore) ListRecentFieldStats(days int) ([]models.FieldStats, error) {
	if days <= 0 {
		return nil, models.ErrDaysOutOfRange
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return s.queryFieldStats(
		`SELECT id, device_id, soil_moisture, soil_status, temperature, create_time FROM field_stats WHERE create_time >= $1 ORDER BY create_time`,
		cutoff,
	)
}

func (s *PostgresStore) queryFieldStats(query string, args ...any) ([]models.FieldStats, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query field stats: %w", err)
	}
	defer rows.Close()
	var out []models.FieldStats
	for rows.Next() {
		var fs models.FieldStats
		if err := rows.Scan(&fs.ID, &fs.DeviceID, &fs.SoilMoisture, &fs.SoilStatus, &fs.Temperature, &fs.CreateTime); err != nil {
			return nil, fmt.Errorf("failed to scan field stats: %w", err)
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveLineUser(u models.LineUser) error {
	_, err := s.db.Exec(
		`INSERT INTO line_users (user_id, display_name, province) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name, province = EXCLUDED.province`,
		u.UserID, u.DisplayName, u.Province,
	)
	if err != nil {
		return fmt.Errorf("failed to save line user %s: %w", u.UserID, err)
	}
	return nil
}

func (s *PostgresStore) GetLineUser(userID string) (*models.LineUser, error) {
	row := s.db.QueryRow(`SELECT user_id, display_name, province FROM line_users WHERE user_id = $1`, userID)
	var u models.LineUser
	if err := row.Scan(&u.UserID, &u.DisplayName, &u.Province); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query line user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) SetLineUserProvince(userID, provinceName string) error {
	res, err := s.db.Exec(`UPDATE line_users SET province = $1 WHERE user_id = $2`, provinceName, userID)
	if err != nil {
		return fmt.Errorf("failed to update province for %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}
