// This file implements an in-memory store for tests and scratch deployments.
package store

import (
	"sync"
	"time"

	"github.com/ricemaid/ricemaid/internal/models"
)

// InMemoryStore is a map-backed Store. Safe for concurrent use.
type InMemoryStore struct {
	mu          sync.RWMutex
	waterLevels []models.WaterLevel
	fieldStats  []models.FieldStats
	lineUsers   map[string]models.LineUser
	nextWaterID int64
	nextStatsID int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		lineUsers:   make(map[string]models.LineUser),
		nextWaterID: 1,
		nextStatsID: 1,
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) AddWaterLevel(wl models.WaterLevel) (models.WaterLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wl.CreateTime.IsZero() {
		wl.CreateTime = time.Now().UTC()
	}
	if wl.ID == 0 {
		wl.ID = s.nextWaterID
		s.nextWaterID++
	} else if wl.ID >= s.nextWaterID {
		s.nextWaterID = wl.ID + 1
	}
	s.waterLevels = append(s.waterLevels, wl)
	return wl, nil
}

func (s *InMemoryStore) GetWaterLevelByDevice(deviceID string) (*models.WaterLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *models.WaterLevel
	for i := range s.waterLevels {
		wl := s.waterLevels[i]
		if wl.DeviceID != deviceID {
			continue
		}
		if newest == nil || wl.CreateTime.After(newest.CreateTime) {
			cp := wl
			newest = &cp
		}
	}
	if newest == nil {
		return nil, models.ErrNotFound
	}
	return newest, nil
}

func (s *InMemoryStore) ListWaterLevels() ([]models.WaterLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WaterLevel, len(s.waterLevels))
	copy(out, s.waterLevels)
	return out, nil
}

func (s *InMemoryStore) ListRecentWaterLevels(days int) ([]models.WaterLevel, error) {
	if days <= 0 {
		return nil, models.ErrDaysOutOfRange
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WaterLevel
	for _, wl := range s.waterLevels {
		if !wl.CreateTime.Before(cutoff) {
			out = append(out, wl)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddFieldStats(fs models.FieldStats) (models.FieldStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fs.CreateTime.IsZero() {
		fs.CreateTime = time.Now().UTC()
	}
	if fs.ID == 0 {
		fs.ID = s.nextStatsID
		s.nextStatsID++
	} else if fs.ID >= s.nextStatsID {
		s.nextStatsID = fs.ID + 1
	}
	s.fieldStats = append(s.fieldStats, fs)
	return fs, nil
}

func (s *InMemoryStore) GetFieldStatsByDevice(deviceID string) (*models.FieldStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *models.FieldStats
	for i := range s.fieldStats {
		fs := s.fieldStats[i]
		if fs.DeviceID != deviceID {
			continue
		}
		if newest == nil || fs.CreateTime.After(newest.CreateTime) {
			cp := fs
			newest = &cp
		}
	}
	if newest == nil {
		return nil, models.ErrNotFound
	}
	return newest, nil
}

func (s *InMemoryStore) ListFieldStats() ([]models.FieldStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FieldStats, len(s.fieldStats))
	copy(out, s.fieldStats)
	return out, nil
}

func (s *InMemoryStore) ListRecentFieldStats(days int) ([]models.FieldStats, error) {
	if days <= 0 {
		return nil, models.ErrDaysOutOfRange
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FieldStats
	for _, fs := range s.fieldStats {
		if !fs.CreateTime.Before(cutoff) {
			out = append(out, fs)
		}
	}
	return out, nil
}

func (s *InMemoryStore) SaveLineUser(u models.LineUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineUsers[u.UserID] = u
	return nil
}

func (s *InMemoryStore) GetLineUser(userID string) (*models.LineUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.lineUsers[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := u
	return &cp, nil
}

func (s *InMemoryStore) SetLineUserProvince(userID, provinceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.lineUsers[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.Province = provinceName
	s.lineUsers[userID] = u
	return nil
}
