// Package laboratory contains the list helpers used by the laboratory
// equipment and HPLC validation screens.
package laboratory

import (
	"sort"
	"strings"
	"time"
)

// Equipment statuses.
const (
	StatusOperational = "operational"
	StatusMaintenance = "maintenance"
	StatusCalibration = "calibration"
	StatusInactive    = "inactive"

	// StatusAll disables status filtering.
	StatusAll = "all"
)

// Equipment is a laboratory instrument as listed by the API.
type Equipment struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Model           string    `json:"model"`
	Serial          string    `json:"serialNumber"`
	Manufacturer    string    `json:"manufacturer,omitempty"`
	Location        string    `json:"location,omitempty"`
	Status          string    `json:"status"`
	LastCalibration time.Time `json:"lastCalibration,omitempty"`
	NextCalibration time.Time `json:"nextCalibration,omitempty"`
}

// FilterEquipment keeps entries whose status equals status (any status when
// it is empty or "all") and whose name, model, or serial contains query,
// ignoring case. The input order is preserved and list is not modified.
func FilterEquipment(list []Equipment, status, query string) []Equipment {
	status = strings.TrimSpace(status)
	query = strings.ToLower(strings.TrimSpace(query))

	out := make([]Equipment, 0, len(list))
	for _, item := range list {
		if status != "" && status != StatusAll && item.Status != status {
			continue
		}
		if query != "" && !matches(item, query) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func matches(item Equipment, query string) bool {
	for _, candidate := range []string{item.Name, item.Model, item.Serial} {
		if strings.Contains(strings.ToLower(candidate), query) {
			return true
		}
	}
	return false
}

// CountByStatus tallies equipment per status for the summary cards.
func CountByStatus(list []Equipment) map[string]int {
	out := make(map[string]int)
	for _, item := range list {
		out[item.Status]++
	}
	return out
}

// CalibrationDue returns equipment whose next calibration falls before
// now+within, soonest first. Entries without a scheduled date are skipped.
func CalibrationDue(list []Equipment, now time.Time, within time.Duration) []Equipment {
	limit := now.Add(within)
	var out []Equipment
	for _, item := range list {
		if item.NextCalibration.IsZero() || item.Status == StatusInactive {
			continue
		}
		if item.NextCalibration.Before(limit) {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NextCalibration.Before(out[j].NextCalibration)
	})
	return out
}
