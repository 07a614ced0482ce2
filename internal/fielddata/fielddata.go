// Package fielddata aggregates field, soil, and weather context for the
// conversation core. Sensor rows come from the relational store when
// available and fall back to generated mock data; weather is always mocked
// until a forecast provider is wired in.
package fielddata

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/ricemaid/ricemaid/internal/models"
)

// Generator produces mock sensor and weather data.
type Generator struct {
	rand *rand.Rand
	now  func() time.Time
}

// NewGenerator creates a mock-data generator.
func NewGenerator() *Generator {
	return &Generator{
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:  time.Now,
	}
}

// NewSeededGenerator creates a generator with a fixed seed and clock, for tests.
func NewSeededGenerator(seed int64, now func() time.Time) *Generator {
	return &Generator{rand: rand.New(rand.NewSource(seed)), now: now}
}

var weatherConditions = []string{"Sunny", "Cloudy", "Rainy", "Stormy", "Windy", "Snowy"}

var soilStatusOptions = []string{"Dry", "Moist", "Wet"}

// WaterLevels generates n water-level readings spread over the past day.
func (g *Generator) WaterLevels(n int) []models.WaterLevel {
	out := make([]models.WaterLevel, n)
	for i := range out {
		out[i] = models.WaterLevel{
			ID:         int64(i + 1),
			DeviceID:   fmt.Sprintf("Device_%d", g.rand.Intn(10)+1),
			WaterLevel: g.rand.Intn(16),
			CreateTime: g.now().Add(-time.Duration(g.rand.Intn(1441)) * time.Minute),
		}
	}
	return out
}

// FieldStats generates n soil snapshots spread over the past day.
func (g *Generator) FieldStats(n int) []models.FieldStats {
	out := make([]models.FieldStats, n)
	for i := range out {
		out[i] = models.FieldStats{
			ID:           int64(i + 1),
			DeviceID:     fmt.Sprintf("Device_%d", g.rand.Intn(10)+1),
			SoilMoisture: g.rand.Intn(101),
			SoilStatus:   soilStatusOptions[g.rand.Intn(len(soilStatusOptions))],
			Temperature:  15 + g.rand.Float64()*20,
			CreateTime:   g.now().Add(-time.Duration(g.rand.Intn(1441)) * time.Minute),
		}
	}
	return out
}

// Weather generates a days-long daily forecast starting at start.
func (g *Generator) Weather(start time.Time, days int) []models.WeatherDay {
	out := make([]models.WeatherDay, days)
	for i := range out {
		out[i] = models.WeatherDay{
			Date:           start.AddDate(0, 0, i),
			TemperatureMin: 5 + g.rand.Float64()*10,
			TemperatureMax: 16 + g.rand.Float64()*14,
			Humidity:       40 + g.rand.Intn(51),
			WindSpeed:      5 + g.rand.Float64()*15,
			Condition:      weatherConditions[g.rand.Intn(len(weatherConditions))],
		}
	}
	return out
}

// Overview renders the combined field and weather context block.
func (g *Generator) Overview(ctx context.Context) (string, error) {
	return renderOverview(g.WaterLevels(20), g.FieldStats(20), g.Weather(g.now(), 7)), nil
}

// SensorStore is the subset of the relational store the field-data source
// reads. The rows are treated as read-only context.
type SensorStore interface {
	ListRecentWaterLevels(days int) ([]models.WaterLevel, error)
	ListRecentFieldStats(days int) ([]models.FieldStats, error)
}

// StoreSource reads recent sensor rows and falls back to generated data when
// the store has none (or fails); weather is always generated.
type StoreSource struct {
	store    SensorStore
	fallback *Generator
}

// NewStoreSource creates a store-backed field-data source.
func NewStoreSource(store SensorStore, fallback *Generator) *StoreSource {
	return &StoreSource{store: store, fallback: fallback}
}

// Overview renders the combined field and weather context block.
func (s *StoreSource) Overview(ctx context.Context) (string, error) {
	levels, err := s.store.ListRecentWaterLevels(1)
	if err != nil || len(levels) == 0 {
		if err != nil {
			slog.Warn("fielddata.StoreSource.Overview: water-level read failed, using mock data", "error", err)
		}
		levels = s.fallback.WaterLevels(20)
	}
	stats, err := s.store.ListRecentFieldStats(1)
	if err != nil || len(stats) == 0 {
		if err != nil {
			slog.Warn("fielddata.StoreSource.Overview: field-stats read failed, using mock data", "error", err)
		}
		stats = s.fallback.FieldStats(20)
	}
	return renderOverview(levels, stats, s.fallback.Weather(s.fallback.now(), 7)), nil
}

// renderOverview formats the context block sent to users and to the model.
func renderOverview(levels []models.WaterLevel, stats []models.FieldStats, weather []models.WeatherDay) string {
	var b strings.Builder
	b.WriteString("water_levels: [")
	for i, w := range levels {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", w.WaterLevel)
	}
	b.WriteString("]\nsoil_moisture: [")
	for i, s := range stats {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", s.SoilMoisture)
	}
	b.WriteString("]\nweather_conditions: [")
	for i, w := range weather {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(w.Condition)
	}
	b.WriteString("]\nweather_temperatures_min: [")
	for i, w := range weather {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.1f", w.TemperatureMin)
	}
	b.WriteString("]\nweather_temperatures_max: [")
	for i, w := range weather {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.1f", w.TemperatureMax)
	}
	b.WriteString("]\nweather_humidity: [")
	for i, w := range weather {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", w.Humidity)
	}
	b.WriteString("]\nweather_wind_speed: [")
	for i, w := range weather {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.1f", w.WindSpeed)
	}
	b.WriteString("]")
	return b.String()
}
