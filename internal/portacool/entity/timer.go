package entity

import (
	"strings"
	"time"
)

// expiryLayouts are tried in order once the fraction is normalised.
var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimerExpiry parses the timer node's TimerExpiry value, such as
// "2026-01-29T06:54:30.3051500Z". The fractional part is cut or padded to
// microseconds and a value without an offset is taken as UTC.
func ParseTimerExpiry(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = normaliseFraction(strings.TrimSpace(s))
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// normaliseFraction rewrites the digits after the seconds' "." to exactly
// six, leaving any zone suffix in place.
func normaliseFraction(s string) string {
	head, tail, found := strings.Cut(s, ".")
	if !found {
		return s
	}

	end := 0
	for end < len(tail) && tail[end] >= '0' && tail[end] <= '9' {
		end++
	}
	frac := (tail[:end] + "000000")[:6]
	return head + "." + frac + tail[end:]
}

// TimerRemaining returns the whole seconds left until expiry, never
// negative.
func TimerRemaining(expiry, now time.Time) int {
	remaining := int(expiry.Sub(now) / time.Second)
	return max(0, remaining)
}
