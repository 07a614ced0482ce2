package fielddata

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ricemaid/ricemaid/internal/models"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestWaterLevelsWithinBounds(t *testing.T) {
	g := NewSeededGenerator(1, fixedClock())
	levels := g.WaterLevels(50)
	if len(levels) != 50 {
		t.Fatalf("generated %d readings, want 50", len(levels))
	}
	for _, wl := range levels {
		if wl.WaterLevel < 0 || wl.WaterLevel > 15 {
			t.Errorf("water level %d out of range [0,15]", wl.WaterLevel)
		}
		if !strings.HasPrefix(wl.DeviceID, "Device_") {
			t.Errorf("device id = %q", wl.DeviceID)
		}
		age := fixedClock()().Sub(wl.CreateTime)
		if age < 0 || age > 24*time.Hour+time.Minute {
			t.Errorf("create time %v outside the past day", wl.CreateTime)
		}
	}
}

func TestFieldStatsWithinBounds(t *testing.T) {
	g := NewSeededGenerator(2, fixedClock())
	for _, fs := range g.FieldStats(50) {
		if fs.SoilMoisture < 0 || fs.SoilMoisture > 100 {
			t.Errorf("soil moisture %d out of range [0,100]", fs.SoilMoisture)
		}
		if fs.Temperature < 15 || fs.Temperature >= 35 {
			t.Errorf("temperature %v out of range [15,35)", fs.Temperature)
		}
		switch fs.SoilStatus {
		case "Dry", "Moist", "Wet":
		default:
			t.Errorf("soil status = %q", fs.SoilStatus)
		}
	}
}

func TestWeatherWithinBounds(t *testing.T) {
	g := NewSeededGenerator(3, fixedClock())
	start := fixedClock()()
	days := g.Weather(start, 7)
	if len(days) != 7 {
		t.Fatalf("generated %d days, want 7", len(days))
	}
	for i, d := range days {
		if !d.Date.Equal(start.AddDate(0, 0, i)) {
			t.Errorf("day %d date = %v", i, d.Date)
		}
		if d.Humidity < 40 || d.Humidity > 90 {
			t.Errorf("humidity %d out of range [40,90]", d.Humidity)
		}
		if d.Condition == "" {
			t.Error("empty weather condition")
		}
	}
}

func TestGeneratorOverviewFormat(t *testing.T) {
	g := NewSeededGenerator(4, fixedClock())
	overview, err := g.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	for _, section := range []string{
		"water_levels: [",
		"soil_moisture: [",
		"weather_conditions: [",
		"weather_temperatures_min: [",
		"weather_temperatures_max: [",
		"weather_humidity: [",
		"weather_wind_speed: [",
	} {
		if !strings.Contains(overview, section) {
			t.Errorf("overview missing %q:\n%s", section, overview)
		}
	}
}

func TestSeededGeneratorIsDeterministic(t *testing.T) {
	a := NewSeededGenerator(7, fixedClock())
	b := NewSeededGenerator(7, fixedClock())
	ova, _ := a.Overview(context.Background())
	ovb, _ := b.Overview(context.Background())
	if ova != ovb {
		t.Error("same seed produced different overviews")
	}
}

type fakeSensorStore struct {
	levels []models.WaterLevel
	stats  []models.FieldStats
	err    error
}

func (f *fakeSensorStore) ListRecentWaterLevels(days int) ([]models.WaterLevel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.levels, nil
}

func (f *fakeSensorStore) ListRecentFieldStats(days int) ([]models.FieldStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func TestStoreSourceUsesStoredRows(t *testing.T) {
	st := &fakeSensorStore{
		levels: []models.WaterLevel{{DeviceID: "dev-1", WaterLevel: 14}},
		stats:  []models.FieldStats{{DeviceID: "dev-1", SoilMoisture: 88}},
	}
	src := NewStoreSource(st, NewSeededGenerator(5, fixedClock()))
	overview, err := src.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if !strings.Contains(overview, "water_levels: [14]") {
		t.Errorf("overview missing stored water level:\n%s", overview)
	}
	if !strings.Contains(overview, "soil_moisture: [88]") {
		t.Errorf("overview missing stored soil moisture:\n%s", overview)
	}
}

func TestStoreSourceFallsBackOnFailure(t *testing.T) {
	st := &fakeSensorStore{err: errors.New("db gone")}
	src := NewStoreSource(st, NewSeededGenerator(6, fixedClock()))
	overview, err := src.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if !strings.Contains(overview, "water_levels: [") || len(overview) == 0 {
		t.Errorf("fallback overview malformed:\n%s", overview)
	}
}

func TestStoreSourceFallsBackOnEmptyStore(t *testing.T) {
	src := NewStoreSource(&fakeSensorStore{}, NewSeededGenerator(8, fixedClock()))
	overview, err := src.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if strings.Contains(overview, "water_levels: []") {
		t.Error("empty store did not fall back to generated readings")
	}
}
