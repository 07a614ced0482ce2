package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ricemaid/ricemaid/internal/models"
)

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, st Store) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("water levels", func(t *testing.T) {
		stored, err := st.AddWaterLevel(models.WaterLevel{DeviceID: "dev-1", WaterLevel: 42, CreateTime: now.Add(-time.Hour)})
		if err != nil {
			t.Fatalf("AddWaterLevel: %v", err)
		}
		if stored.ID == 0 {
			t.Error("AddWaterLevel did not assign an ID")
		}
		newer, err := st.AddWaterLevel(models.WaterLevel{DeviceID: "dev-1", WaterLevel: 55, CreateTime: now})
		if err != nil {
			t.Fatalf("AddWaterLevel: %v", err)
		}
		if newer.ID == stored.ID {
			t.Error("consecutive inserts share an ID")
		}
		if _, err := st.AddWaterLevel(models.WaterLevel{DeviceID: "dev-2", WaterLevel: 10, CreateTime: now.AddDate(0, 0, -30)}); err != nil {
			t.Fatalf("AddWaterLevel: %v", err)
		}

		got, err := st.GetWaterLevelByDevice("dev-1")
		if err != nil {
			t.Fatalf("GetWaterLevelByDevice: %v", err)
		}
		if got.WaterLevel != 55 {
			t.Errorf("newest reading = %d, want 55", got.WaterLevel)
		}

		if _, err := st.GetWaterLevelByDevice("no-such-device"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("missing device error = %v, want ErrNotFound", err)
		}

		all, err := st.ListWaterLevels()
		if err != nil {
			t.Fatalf("ListWaterLevels: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("ListWaterLevels returned %d rows, want 3", len(all))
		}

		recent, err := st.ListRecentWaterLevels(7)
		if err != nil {
			t.Fatalf("ListRecentWaterLevels: %v", err)
		}
		if len(recent) != 2 {
			t.Errorf("recent window returned %d rows, want 2", len(recent))
		}
		for _, wl := range recent {
			if wl.DeviceID == "dev-2" {
				t.Error("recent window includes a thirty-day-old row")
			}
		}
	})

	t.Run("field stats", func(t *testing.T) {
		stored, err := st.AddFieldStats(models.FieldStats{DeviceID: "dev-1", SoilMoisture: 61, SoilStatus: "Wet", Temperature: 31.5, CreateTime: now.Add(-time.Hour)})
		if err != nil {
			t.Fatalf("AddFieldStats: %v", err)
		}
		if stored.ID == 0 {
			t.Error("AddFieldStats did not assign an ID")
		}
		if _, err := st.AddFieldStats(models.FieldStats{DeviceID: "dev-1", SoilMoisture: 70, SoilStatus: "Wet", Temperature: 30.1, CreateTime: now}); err != nil {
			t.Fatalf("AddFieldStats: %v", err)
		}
		if _, err := st.AddFieldStats(models.FieldStats{DeviceID: "dev-3", SoilMoisture: 12, SoilStatus: "Dry", Temperature: 35.0, CreateTime: now.AddDate(0, 0, -30)}); err != nil {
			t.Fatalf("AddFieldStats: %v", err)
		}

		got, err := st.GetFieldStatsByDevice("dev-1")
		if err != nil {
			t.Fatalf("GetFieldStatsByDevice: %v", err)
		}
		if got.SoilMoisture != 70 {
			t.Errorf("newest reading moisture = %d, want 70", got.SoilMoisture)
		}

		if _, err := st.GetFieldStatsByDevice("no-such-device"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("missing device error = %v, want ErrNotFound", err)
		}

		recent, err := st.ListRecentFieldStats(7)
		if err != nil {
			t.Fatalf("ListRecentFieldStats: %v", err)
		}
		if len(recent) != 2 {
			t.Errorf("recent window returned %d rows, want 2", len(recent))
		}
	})

	t.Run("line users", func(t *testing.T) {
		if err := st.SaveLineUser(models.LineUser{UserID: "U123", DisplayName: "Somchai"}); err != nil {
			t.Fatalf("SaveLineUser: %v", err)
		}
		got, err := st.GetLineUser("U123")
		if err != nil {
			t.Fatalf("GetLineUser: %v", err)
		}
		if got.DisplayName != "Somchai" || got.Province != "" {
			t.Errorf("user = %+v", got)
		}

		if err := st.SetLineUserProvince("U123", "สุพรรณบุรี"); err != nil {
			t.Fatalf("SetLineUserProvince: %v", err)
		}
		got, err = st.GetLineUser("U123")
		if err != nil {
			t.Fatalf("GetLineUser: %v", err)
		}
		if got.Province != "สุพรรณบุรี" {
			t.Errorf("province = %q, want สุพรรณบุรี", got.Province)
		}

		// Upsert keeps the province-bearing row addressable by user ID.
		if err := st.SaveLineUser(models.LineUser{UserID: "U123", DisplayName: "Somchai J.", Province: "สุพรรณบุรี"}); err != nil {
			t.Fatalf("SaveLineUser upsert: %v", err)
		}
		got, err = st.GetLineUser("U123")
		if err != nil {
			t.Fatalf("GetLineUser: %v", err)
		}
		if got.DisplayName != "Somchai J." {
			t.Errorf("display name = %q after upsert", got.DisplayName)
		}

		if _, err := st.GetLineUser("missing"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("missing user error = %v, want ErrNotFound", err)
		}
		if err := st.SetLineUserProvince("missing", "สุพรรณบุรี"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("SetLineUserProvince on missing user = %v, want ErrNotFound", err)
		}
	})
}

func TestInMemoryStore(t *testing.T) {
	st := NewInMemoryStore()
	defer st.Close()
	runStoreSuite(t, st)
}

func TestSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ricemaid.db")
	st, err := NewSQLiteStore(WithDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer st.Close()
	runStoreSuite(t, st)
}

func TestInMemoryRecentRejectsNonPositiveDays(t *testing.T) {
	st := NewInMemoryStore()
	if _, err := st.ListRecentWaterLevels(0); !errors.Is(err, models.ErrDaysOutOfRange) {
		t.Errorf("ListRecentWaterLevels(0) = %v, want ErrDaysOutOfRange", err)
	}
	if _, err := st.ListRecentFieldStats(-1); !errors.Is(err, models.ErrDaysOutOfRange) {
		t.Errorf("ListRecentFieldStats(-1) = %v, want ErrDaysOutOfRange", err)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ricemaid.db")
	st, err := NewSQLiteStore(WithDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if _, err := st.AddWaterLevel(models.WaterLevel{DeviceID: "dev-1", WaterLevel: 7}); err != nil {
		t.Fatalf("AddWaterLevel: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = NewSQLiteStore(WithDSN(dbPath))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.GetWaterLevelByDevice("dev-1")
	if err != nil {
		t.Fatalf("GetWaterLevelByDevice after reopen: %v", err)
	}
	if got.WaterLevel != 7 {
		t.Errorf("reading = %d, want 7", got.WaterLevel)
	}
}
