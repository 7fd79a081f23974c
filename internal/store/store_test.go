package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/device"
)

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()
	stores := make(map[string]Store)
	for _, driver := range []string{"bolt", "sqlite"} {
		s, err := Open(driver, filepath.Join(t.TempDir(), driver+".db"))
		if err != nil {
			t.Fatalf("open %s: %v", driver, err)
		}
		t.Cleanup(func() { s.Close() })
		stores[driver] = s
	}
	return stores
}

func testAccessory(id string) *Accessory {
	now := time.Now().Truncate(time.Millisecond)
	return &Accessory{
		ID:       id,
		DeviceID: "dev-" + id,
		Name:     "Porch " + id,
		Context: &device.Node{
			ID:       "node-" + id,
			DeviceID: "dev-" + id,
			Name:     "Porch " + id,
			Class:    device.ClassLight,
			Models:   []string{"A", "B"},
			Functions: []capability.FunctionRecord{
				{Capability: capability.Power, Keys: []capability.AttributeKey{"1"}},
				{Capability: capability.Brightness, Keys: []capability.AttributeKey{"2"},
					Meta: capability.ValueMeta{Type: "numeric", Range: &capability.Range{Min: 1, Max: 100, Step: 1}}},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveAndGetAccessory(t *testing.T) {
	for driver, s := range newTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			acc := testAccessory("a1")
			if err := s.SaveAccessory(acc); err != nil {
				t.Fatal(err)
			}

			got, err := s.GetAccessory("a1")
			if err != nil {
				t.Fatal(err)
			}
			if got.DeviceID != acc.DeviceID {
				t.Errorf("device_id = %q, want %q", got.DeviceID, acc.DeviceID)
			}
			if got.Name != acc.Name {
				t.Errorf("name = %q, want %q", got.Name, acc.Name)
			}
			if !got.CreatedAt.Equal(acc.CreatedAt) {
				t.Errorf("created_at = %v, want %v", got.CreatedAt, acc.CreatedAt)
			}
			if got.Context == nil || len(got.Context.Functions) != 2 {
				t.Fatalf("context = %+v, want 2 functions", got.Context)
			}
			if r := got.Context.Functions[1].Meta.Range; r == nil || r.Max != 100 {
				t.Errorf("range = %+v, want max 100", r)
			}
		})
	}
}

func TestSaveOverwrites(t *testing.T) {
	for driver, s := range newTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			acc := testAccessory("a1")
			if err := s.SaveAccessory(acc); err != nil {
				t.Fatal(err)
			}
			acc.Name = "Renamed"
			if err := s.SaveAccessory(acc); err != nil {
				t.Fatal(err)
			}
			got, err := s.GetAccessory("a1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Name != "Renamed" {
				t.Errorf("name = %q, want Renamed", got.Name)
			}
		})
	}
}

func TestGetAccessoryNotFound(t *testing.T) {
	for driver, s := range newTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			_, err := s.GetAccessory("missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDeleteAndList(t *testing.T) {
	for driver, s := range newTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			for _, id := range []string{"a", "b", "c"} {
				if err := s.SaveAccessory(testAccessory(id)); err != nil {
					t.Fatal(err)
				}
			}
			if err := s.DeleteAccessory("b"); err != nil {
				t.Fatal(err)
			}
			list, err := s.ListAccessories()
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 {
				t.Fatalf("len = %d, want 2", len(list))
			}
			for _, acc := range list {
				if acc.ID == "b" {
					t.Error("deleted accessory still listed")
				}
			}
		})
	}
}

func TestApply(t *testing.T) {
	for driver, s := range newTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			if err := s.SaveAccessory(testAccessory("old")); err != nil {
				t.Fatal(err)
			}
			err := s.Apply([]*Accessory{testAccessory("new1"), testAccessory("new2")}, []string{"old"})
			if err != nil {
				t.Fatal(err)
			}
			list, err := s.ListAccessories()
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 {
				t.Fatalf("len = %d, want 2", len(list))
			}
			if _, err := s.GetAccessory("old"); !errors.Is(err, ErrNotFound) {
				t.Errorf("old: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestEmptyStore(t *testing.T) {
	for driver, s := range newTestStores(t) {
		t.Run(driver, func(t *testing.T) {
			list, err := s.ListAccessories()
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 0 {
				t.Errorf("len = %d, want 0", len(list))
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Error("Open(postgres) succeeded, want error")
	}
}
