// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ricemaid/ricemaid/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a file-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store. The DSN is a file path; the
// containing directory is created if needed.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("SQLiteStore failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore ready", "dsn", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) AddWaterLevel(wl models.WaterLevel) (models.WaterLevel, error) {
	if wl.CreateTime.IsZero() {
		wl.CreateTime = time.Now().UTC()
	}
	if wl.ID > 0 {
		_, err := s.db.Exec(
			`INSERT INTO water_levels (id, device_id, water_level, create_time) VALUES (?, ?, ?, ?)`,
			wl.ID, wl.DeviceID, wl.WaterLevel, wl.CreateTime,
		)
		if err != nil {
			return models.WaterLevel{}, fmt.Errorf("failed to insert water level: %w", err)
		}
		return wl, nil
	}
	res, err := s.db.Exec(
		`INSERT INTO water_levels (device_id, water_level, create_time) VALUES (?, ?, ?)`,
		wl.DeviceID, wl.WaterLevel, wl.CreateTime,
	)
	if err != nil {
		return models.WaterLevel{}, fmt.Errorf("failed to insert water level: %w", err)
	}
	wl.ID, err = res.LastInsertId()
	if err != nil {
		return models.WaterLevel{}, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return wl, nil
}

func (s *SQLiteStore) GetWaterLevelByDevice(deviceID string) (*models.WaterLevel, error) {
	row := s.db.QueryRow(
		`SELECT id, device_id, water_level, create_time FROM water_levels WHERE device_id = ? ORDER BY create_time DESC LIMIT 1`,
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

func (s *SQLiteStore) ListWaterLevels() ([]models.WaterLevel, error) {
	return s.queryWaterLevels(`SELECT id, device_id, water_level, create_time FROM water_levels ORDER BY create_time`)
}

func (s *SQLiteStore) ListRecentWaterLevels(days int) ([]models.WaterLevel, error) {
	if days <= 0 {
		return nil, models.ErrDaysOutOfRange
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return s.queryWaterLevels(
		`SELECT id, device_id, water_level, create_time FROM water_levels WHERE create_time >= ? ORDER BY create_time`,
		cutoff,
	)
}

func (s *SQLiteStore) queryWaterLevels(query string, args ...any) ([]models.WaterLevel, error) {
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

func (s *SQLiteStore) AddFieldStats(fs models.FieldStats) (models.FieldStats, error) {
	if fs.CreateTime.IsZero() {
		fs.CreateTime = time.Now().UTC()
	}
	if fs.ID > 0 {
		_, err := s.db.Exec(
			`INSERT INTO field_stats (id, device_id, soil_moisture, soil_status, temperature, create_time) VALUES (?, ?, ?, ?, ?, ?)`,
			fs.ID, fs.DeviceID, fs.SoilMoisture, fs.SoilStatus, fs.Temperature, fs.CreateTime,
		)
		if err != nil {
			return models.FieldStats{}, fmt.Errorf("failed to insert field stats: %w", err)
		}
		return fs, nil
	}
	res, err := s.db.Exec(
		`INSERT INTO field_stats (device_id, soil_moisture, soil_status, temperature, create_time) VALUES (?, ?, ?, ?, ?)`,
		fs.DeviceID, fs.SoilMoisture, fs.SoilStatus, fs.Temperature, fs.CreateTime,
	)
	if err != nil {
		return models.FieldStats{}, fmt.Errorf("failed to insert field stats: %w", err)
	}
	fs.ID, err = res.LastInsertId()
	if err != nil {
		return models.FieldStats{}, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return fs, nil
}

func (s *SQLiteStore) GetFieldStatsByDevice(deviceID string) (*models.FieldStats, error) {
	row := s.db.QueryRow(
		`SELECT id, device_id, soil_moisture, soil_status, temperature, create_time FROM field_stats WHERE device_id = ? ORDER BY create_time DESC LIMIT 1`,
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

func (s *SQLiteStore) ListFieldStats() ([]models.FieldStats, error) {
	return s.queryFieldStats(`SELECT id, device_id, soil_moisture, soil_status, temperature, create_time FROM field_stats ORDER BY create_time`)
}

func (s *SQLiteStore) ListRecentFieldStats(days int) ([]models.FieldStats, error) {
	if days <= 0 {
		return nil, models.ErrDaysOutOfRange
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return s.queryFieldStats(
		`SELECT id, device_id, soil_moisture, soil_status, temperature, create_time FROM field_stats WHERE create_time >= ? ORDER BY create_time`,
		cutoff,
	)
}

func (s *SQLiteStore) queryFieldStats(query string, args ...any) ([]models.FieldStats, error) {
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

func (s *SQLiteStore) SaveLineUser(u models.LineUser) error {
	_, err := s.db.Exec(
		`INSERT INTO line_users (user_id, display_name, province) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name, province = excluded.province`,
		u.UserID, u.DisplayName, u.Province,
	)
	if err != nil {
		return fmt.Errorf("failed to save line user %s: %w", u.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) GetLineUser(userID string) (*models.LineUser, error) {
	row := s.db.QueryRow(`SELECT user_id, display_name, province FROM line_users WHERE user_id = ?`, userID)
	var u models.LineUser
	if err := row.Scan(&u.UserID, &u.DisplayName, &u.Province); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query line user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) SetLineUserProvince(userID, provinceName string) error {
	res, err := s.db.Exec(`UPDATE line_users SET province = ? WHERE user_id = ?`, provinceName, userID)
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
