package entity

import (
	"strings"

	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
)

// Alert severities.
const (
	SeverityOK      = "OK"
	SeverityWarning = "Warning"
	SeverityError   = "Error"
)

// Water alert ids.
const (
	WaterAlertEmpty    = "4-1"
	WaterAlertLow      = "4-2"
	WaterAlertOverflow = "4-3"
)

// Water sensor states.
const (
	WaterOK       = "OK"
	WaterEmpty    = "Tank Empty"
	WaterLow      = "Tank Low"
	WaterOverfill = "Tank Overfill"
)

// Water level percentages. Alerts override the level datapoint.
const (
	WaterValueEmpty    = 0.0
	WaterValueLow      = 10.0
	WaterValueOverflow = 100.0
)

// waterLevelMap maps the level datapoint's bar count to a percentage.
var waterLevelMap = map[string]float64{
	"1": 20,
	"2": 40,
	"3": 60,
	"4": 80,
	"5": 100,
}

// Category is an alert category with its own status sensor.
type Category struct {
	ID   string
	Name string
}

// waterCategory has dedicated water sensors instead of a status.
const (
	waterCategory   = "4"
	louversCategory = "3"
)

// AlertCategories lists every alert category in id order.
var AlertCategories = []Category{
	{"1", "Fan"},
	{"2", "Pump"},
	{"3", "Louvers"},
	{"4", "Water"},
	{"5", "Temperature"},
	{"6", "Voltage"},
}

// StatusCategories returns the categories that get a status sensor for
// a device: all but water, and louvers only on models that have them.
func StatusCategories(deviceName string) []Category {
	upper := strings.ToUpper(deviceName)
	hasLouvers := strings.Contains(upper, "APEX 500") || strings.Contains(upper, "APEX 700")

	out := make([]Category, 0, len(AlertCategories))
	for _, c := range AlertCategories {
		if c.ID == waterCategory {
			continue
		}
		if c.ID == louversCategory && !hasLouvers {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Severity is Error if any alert is of type Error, else Warning if any is
// a Warning, else OK. Callers pass active alerts only.
func Severity(active []cloud.AlertRecord) string {
	warning := false
	for _, a := range active {
		switch a.AlertType {
		case SeverityError:
			return SeverityError
		case SeverityWarning:
			warning = true
		}
	}
	if warning {
		return SeverityWarning
	}
	return SeverityOK
}

// activeInCategory filters active alerts down to one category.
func activeInCategory(active []cloud.AlertRecord, category string) []cloud.AlertRecord {
	var out []cloud.AlertRecord
	for _, a := range active {
		if a.Category() == category {
			out = append(out, a)
		}
	}
	return out
}

func activeIDs(active []cloud.AlertRecord) map[string]bool {
	ids := make(map[string]bool, len(active))
	for _, a := range active {
		ids[a.AlertID] = true
	}
	return ids
}

// WaterAlert reports the tank condition from active alerts. Overfill
// wins over empty, and empty over low.
func WaterAlert(active []cloud.AlertRecord) string {
	ids := activeIDs(active)
	switch {
	case ids[WaterAlertOverflow]:
		return WaterOverfill
	case ids[WaterAlertEmpty]:
		return WaterEmpty
	case ids[WaterAlertLow]:
		return WaterLow
	default:
		return WaterOK
	}
}

// WaterLevel returns the tank level percentage. A water alert decides the
// value when present; otherwise the level datapoint's bar count is
// mapped. Nil when the level is unknown.
func WaterLevel(active []cloud.AlertRecord, raw string, ok bool) *float64 {
	ids := activeIDs(active)
	switch {
	case ids[WaterAlertOverflow]:
		return ptr(WaterValueOverflow)
	case ids[WaterAlertEmpty]:
		return ptr(WaterValueEmpty)
	case ids[WaterAlertLow]:
		return ptr(WaterValueLow)
	}
	if !ok {
		return nil
	}
	if v, found := waterLevelMap[strings.TrimSpace(raw)]; found {
		return ptr(v)
	}
	return nil
}
