package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// parseDatapoints converts the realtime-database datapoints node into a
// map keyed by datapoint id.
//
// The node is usually an object keyed by id, but the database returns an
// array when the ids are dense from zero. Keys that are not integers are
// skipped, {"value": x} entries are unwrapped and nulls are dropped.
func parseDatapoints(body []byte) (map[int]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decoding datapoints: %w", ErrTransport, err)
	}

	out := make(map[int]string)
	switch node := doc.(type) {
	case map[string]any:
		for k, v := range node {
			id, err := strconv.Atoi(strings.TrimSpace(k))
			if err != nil {
				continue
			}
			if s, ok := datapointValue(v); ok {
				out[id] = s
			}
		}
	case []any:
		for id, v := range node {
			if s, ok := datapointValue(v); ok {
				out[id] = s
			}
		}
	}
	return out, nil
}

// datapointValue renders a datapoint entry as its string value.
func datapointValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	case map[string]any:
		inner, ok := val["value"]
		if !ok {
			return "", false
		}
		return datapointValue(inner)
	default:
		return "", false
	}
}

// parseTimerInfo returns the timer node when it is an object and an empty
// map otherwise, including on decode failure.
func parseTimerInfo(body []byte) map[string]any {
	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil || info == nil {
		return map[string]any{}
	}
	return info
}

// parseLatestAlerts picks the alert list for uniqueID out of a
// latest-alerts response. Any shape mismatch yields an empty slice.
func parseLatestAlerts(body []byte, uniqueID string) []AlertRecord {
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return []AlertRecord{}
	}

	for _, raw := range entries {
		var entry struct {
			UniqueID string          `json:"uniqueId"`
			Alerts   json.RawMessage `json:"alerts"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil || entry.UniqueID != uniqueID {
			continue
		}

		var alerts []AlertRecord
		if err := json.Unmarshal(entry.Alerts, &alerts); err != nil || alerts == nil {
			return []AlertRecord{}
		}
		return alerts
	}
	return []AlertRecord{}
}
