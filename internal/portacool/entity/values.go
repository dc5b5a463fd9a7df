package entity

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
)

// Power datapoint values.
const (
	PowerOnValue  = "3"
	PowerOffValue = "2"
)

// Controllable entity names accepted by Command.
const (
	EntityPower    = "power"
	EntityFanSpeed = "fan_speed"
	EntityTimer    = "timer"
)

// Command errors.
var (
	ErrUnknownEntity = errors.New("entity: unknown entity")
	ErrInvalidValue  = errors.New("entity: invalid value")
)

// FanSpeedOptions are the discrete fan speeds, "0" being off.
var FanSpeedOptions = []string{"0", "1", "2", "3", "4", "5"}

// TimerOption is one auto-off timer choice.
type TimerOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// TimerOptions lists the auto-off timer choices in display order.
var TimerOptions = []TimerOption{
	{"Off", "1"},
	{"30 minutes", "2"},
	{"1 hour", "3"},
	{"2 hours", "4"},
	{"4 hours", "5"},
	{"8 hours", "6"},
}

// PowerValue returns the power datapoint value for on or off.
func PowerValue(on bool) string {
	if on {
		return PowerOnValue
	}
	return PowerOffValue
}

// TimerValue returns the datapoint value for a timer label.
func TimerValue(label string) (string, bool) {
	for _, o := range TimerOptions {
		if o.Label == label {
			return o.Value, true
		}
	}
	return "", false
}

// TimerLabel returns the label for a timer datapoint value.
func TimerLabel(value string) (string, bool) {
	for _, o := range TimerOptions {
		if o.Value == value {
			return o.Label, true
		}
	}
	return "", false
}

// Command translates an entity-level command into datapoint updates.
//
//	power:     "on", "off", "true", "false", "1", "0"
//	fan_speed: "0".."5"
//	timer:     a TimerOptions label or its value
func Command(dps config.DatapointConfig, entity, value string) (map[int]string, error) {
	value = strings.TrimSpace(value)

	switch entity {
	case EntityPower:
		switch strings.ToLower(value) {
		case "on", "true", "1":
			return map[int]string{dps.Power: PowerOnValue}, nil
		case "off", "false", "0":
			return map[int]string{dps.Power: PowerOffValue}, nil
		}
	case EntityFanSpeed:
		if slices.Contains(FanSpeedOptions, value) {
			return map[int]string{dps.FanSpeed: value}, nil
		}
	case EntityTimer:
		if v, ok := TimerValue(value); ok {
			return map[int]string{dps.Timer: v}, nil
		}
		if _, ok := TimerLabel(value); ok {
			return map[int]string{dps.Timer: value}, nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	return nil, fmt.Errorf("%w: %s=%q", ErrInvalidValue, entity, value)
}

// parseNumber parses a datapoint value as a float.
func parseNumber(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// roundInt rounds half to even, the way the device app displays values.
func roundInt(f float64) int {
	return int(math.RoundToEven(f))
}

func ptr[T any](v T) *T {
	return &v
}
