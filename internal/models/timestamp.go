package models

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

// msThreshold is the boundary the source and spec.md §4.4 both use to decide
// whether a bare numeric timestamp is already milliseconds (>10^12) or needs
// multiplying up from seconds. Centralized here so every comparison in the
// codebase reuses the same constant (§9 "timestamp arithmetic drift").
const msThreshold = 1_000_000_000_000

// NormalizeTimestamp resolves a record's raw timestamp value to epoch
// milliseconds, per §4.4's priority order: numeric/ISO-8601 timestamp field,
// then seconds-vs-milliseconds detection, then current wall-clock time as a
// last resort. Normalizing the result again returns it unchanged whenever it
// is above msThreshold (any instant after September 2001); a result at or
// below the threshold is read as seconds and multiplied again.
func NormalizeTimestamp(timestamp interface{}, logger *slog.Logger) int64 {
	switch ts := timestamp.(type) {
	case string:
		parsed, err := parseISOTimestamp(ts)
		if err == nil {
			return parsed.UnixMilli()
		}
		if logger != nil {
			logger.Warn("failed to parse timestamp string, using current time",
				"timestamp", ts, "error", err)
		}
		return time.Now().UnixMilli()

	case float64:
		if ts > float64(msThreshold) {
			return int64(ts)
		}
		return int64(ts * 1000)

	case int64:
		return scaleIfSeconds(ts)

	case int:
		return scaleIfSeconds(int64(ts))

	default:
		if logger != nil {
			logger.Warn("unknown timestamp type, using current time", "value", timestamp)
		}
		return time.Now().UnixMilli()
	}
}

func scaleIfSeconds(ts int64) int64 {
	if ts > msThreshold {
		return ts
	}
	return ts * 1000
}

// parseISOTimestamp tries RFC3339 and RFC3339Nano, tolerating a trailing "Z".
func parseISOTimestamp(ts string) (time.Time, error) {
	candidate := ts
	if strings.HasSuffix(candidate, "Z") {
		candidate = candidate[:len(candidate)-1] + "+00:00"
	}

	if t, err := time.Parse(time.RFC3339, candidate); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, candidate); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t, nil
	}

	return time.Time{}, errors.New("unable to parse timestamp")
}

// IsZeroTimestamp reports whether a raw timestamp value represents "absent".
func IsZeroTimestamp(timestamp interface{}) bool {
	switch ts := timestamp.(type) {
	case string:
		return ts == ""
	case float64:
		return ts == 0
	case int64:
		return ts == 0
	case int:
		return ts == 0
	default:
		return timestamp == nil
	}
}
