// Package store provides storage backends for IoT sensor readings and LINE
// user records. Backends share one interface; the DSN decides whether the
// SQLite or PostgreSQL implementation is used, and an in-memory store backs
// tests and scratch deployments.
package store

import (
	"strings"

	"github.com/ricemaid/ricemaid/internal/models"
)

// Store is the relational persistence interface.
type Store interface {
	// AddWaterLevel inserts a water-level row. A zero ID is assigned by the
	// store; the stored row is returned.
	AddWaterLevel(wl models.WaterLevel) (models.WaterLevel, error)
	// GetWaterLevelByDevice returns the newest reading for a device, or
	// models.ErrNotFound.
	GetWaterLevelByDevice(deviceID string) (*models.WaterLevel, error)
	// ListWaterLevels returns all readings.
	ListWaterLevels() ([]models.WaterLevel, error)
	// ListRecentWaterLevels returns readings from the past days days.
	// days must be positive.
	ListRecentWaterLevels(days int) ([]models.WaterLevel, error)

	AddFieldStats(fs models.FieldStats) (models.FieldStats, error)
	GetFieldStatsByDevice(deviceID string) (*models.FieldStats, error)
	ListFieldStats() ([]models.FieldStats, error)
	ListRecentFieldStats(days int) ([]models.FieldStats, error)

	// SaveLineUser inserts or replaces a LINE user record.
	SaveLineUser(u models.LineUser) error
	// GetLineUser returns a LINE user, or models.ErrNotFound.
	GetLineUser(userID string) (*models.LineUser, error)
	// SetLineUserProvince updates an existing user's province; returns
	// models.ErrNotFound for unknown users.
	SetLineUserProvince(userID, provinceName string) error

	Close() error
}

// Opts holds configuration options for storage backends.
type Opts struct {
	// DSN is the database connection string: a postgres:// URL or an
	// SQLite file path.
	DSN string
}

// Option configures a storage backend.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// FromDSN opens the backend matching the DSN scheme: postgres:// (or
// postgresql://) selects PostgreSQL, anything else is an SQLite file path.
func FromDSN(dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(WithDSN(dsn))
	}
	return NewSQLiteStore(WithDSN(dsn))
}
