package laboratory_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/laboratory"
)

func fixtures() []laboratory.Equipment {
	return []laboratory.Equipment{
		{ID: "eq-1", Name: "Cromatógrafo HPLC", Model: "Agilent 1260", Serial: "DE123", Status: laboratory.StatusOperational},
		{ID: "eq-2", Name: "Balança analítica", Model: "AUW220D", Serial: "BA-hplc-02", Status: laboratory.StatusOperational},
		{ID: "eq-3", Name: "Cromatógrafo", Model: "Waters hplc Alliance", Serial: "WA900", Status: laboratory.StatusMaintenance},
		{ID: "eq-4", Name: "pHmetro", Model: "PH-2000", Serial: "PH77", Status: laboratory.StatusOperational},
		{ID: "eq-5", Name: "Espectrofotômetro", Model: "UV-1800", Serial: "HPLC-X", Status: laboratory.StatusCalibration},
	}
}

func ids(list []laboratory.Equipment) []string {
	out := []string{}
	for _, item := range list {
		out = append(out, item.ID)
	}
	return out
}

func TestFilterEquipment_StatusAndQuery(t *testing.T) {
	got := laboratory.FilterEquipment(fixtures(), "operational", "HPLC")
	if diff := cmp.Diff([]string{"eq-1", "eq-2"}, ids(got)); diff != "" {
		t.Fatalf("filter mismatch (-want +got):\n%s", diff)
	}
	for _, item := range got {
		if item.Status != laboratory.StatusOperational {
			t.Fatalf("unexpected status %q", item.Status)
		}
	}
}

func TestFilterEquipment_Cases(t *testing.T) {
	cases := []struct {
		name   string
		status string
		query  string
		want   []string
	}{
		{name: "all statuses", status: "all", query: "hplc", want: []string{"eq-1", "eq-2", "eq-3", "eq-5"}},
		{name: "empty status", status: "", query: "", want: []string{"eq-1", "eq-2", "eq-3", "eq-4", "eq-5"}},
		{name: "model match", status: "maintenance", query: "waters", want: []string{"eq-3"}},
		{name: "no match", status: "operational", query: "centrífuga", want: []string{}},
		{name: "accented query", status: "all", query: "BALANÇA", want: []string{"eq-2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := laboratory.FilterEquipment(fixtures(), tc.status, tc.query)
			if diff := cmp.Diff(tc.want, ids(got)); diff != "" {
				t.Fatalf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCountByStatus(t *testing.T) {
	want := map[string]int{"operational": 3, "maintenance": 1, "calibration": 1}
	if diff := cmp.Diff(want, laboratory.CountByStatus(fixtures())); diff != "" {
		t.Fatalf("count mismatch (-want +got):\n%s", diff)
	}
}

func TestCalibrationDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	list := []laboratory.Equipment{
		{ID: "a", Status: laboratory.StatusOperational, NextCalibration: now.AddDate(0, 0, 20)},
		{ID: "b", Status: laboratory.StatusOperational, NextCalibration: now.AddDate(0, 0, -2)},
		{ID: "c", Status: laboratory.StatusOperational, NextCalibration: now.AddDate(0, 2, 0)},
		{ID: "d", Status: laboratory.StatusInactive, NextCalibration: now},
		{ID: "e", Status: laboratory.StatusOperational},
	}
	got := laboratory.CalibrationDue(list, now, 30*24*time.Hour)
	if diff := cmp.Diff([]string{"b", "a"}, ids(got)); diff != "" {
		t.Fatalf("due mismatch (-want +got):\n%s", diff)
	}
}
