package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTimestamp_StringISO(t *testing.T) {
	testCases := []struct {
		name      string
		timestamp string
		expected  int64
	}{
		{
			name:      "RFC3339_with_Z",
			timestamp: "2024-01-15T10:30:00Z",
			expected:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC).UnixMilli(),
		},
		{
			name:      "RFC3339_with_timezone",
			timestamp: "2024-01-15T10:30:00+00:00",
			expected:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC).UnixMilli(),
		},
		{
			name:      "RFC3339Nano_with_Z",
			timestamp: "2024-01-15T10:30:00.123456789Z",
			expected:  time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC).UnixMilli(),
		},
		{
			name:      "RFC3339Nano_with_timezone",
			timestamp: "2024-01-15T10:30:00.123456789+00:00",
			expected:  time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC).UnixMilli(),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := NormalizeTimestamp(tc.timestamp, nil)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestNormalizeTimestamp_StringInvalid(t *testing.T) {
	before := time.Now().UnixMilli()
	result := NormalizeTimestamp("invalid-timestamp", nil)
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, result, before)
	assert.LessOrEqual(t, result, after)
}

func TestNormalizeTimestamp_Float64Milliseconds(t *testing.T) {
	result := NormalizeTimestamp(1705318200000.0, nil)
	assert.Equal(t, int64(1705318200000), result)
}

func TestNormalizeTimestamp_Float64Seconds(t *testing.T) {
	result := NormalizeTimestamp(1705318200.0, nil)
	assert.Equal(t, int64(1705318200000), result)
}

func TestNormalizeTimestamp_Int64Milliseconds(t *testing.T) {
	result := NormalizeTimestamp(int64(1705318200000), nil)
	assert.Equal(t, int64(1705318200000), result)
}

func TestNormalizeTimestamp_Int64Seconds(t *testing.T) {
	result := NormalizeTimestamp(int64(1705318200), nil)
	assert.Equal(t, int64(1705318200000), result)
}

func TestNormalizeTimestamp_IntMilliseconds(t *testing.T) {
	result := NormalizeTimestamp(int(1705318200000), nil)
	assert.Equal(t, int64(1705318200000), result)
}

func TestNormalizeTimestamp_IntSeconds(t *testing.T) {
	result := NormalizeTimestamp(int(1705318200), nil)
	assert.Equal(t, int64(1705318200000), result)
}

func TestNormalizeTimestamp_Nil(t *testing.T) {
	before := time.Now().UnixMilli()
	result := NormalizeTimestamp(nil, nil)
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, result, before)
	assert.LessOrEqual(t, result, after)
}

func TestNormalizeTimestamp_UnknownType(t *testing.T) {
	before := time.Now().UnixMilli()
	result := NormalizeTimestamp(struct{}{}, nil)
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, result, before)
	assert.LessOrEqual(t, result, after)
}

func TestNormalizeTimestamp_IsFixedPoint(t *testing.T) {
	// Normalizing an already-millisecond int64 twice is a no-op: the second
	// pass sees an already-normalized value and returns it unchanged.
	once := NormalizeTimestamp(int64(1705318200000), nil)
	twice := NormalizeTimestamp(once, nil)
	assert.Equal(t, once, twice)
}

func TestParseISOTimestamp_Success(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected time.Time
	}{
		{
			name:     "RFC3339_with_Z",
			input:    "2024-01-15T10:30:00Z",
			expected: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "RFC3339_with_timezone",
			input:    "2024-01-15T10:30:00+00:00",
			expected: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "RFC3339Nano_with_Z",
			input:    "2024-01-15T10:30:00.123Z",
			expected: time.Date(2024, 1, 15, 10, 30, 0, 123000000, time.UTC),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := parseISOTimestamp(tc.input)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected.Unix(), result.Unix())
		})
	}
}

func TestParseISOTimestamp_Error(t *testing.T) {
	testCases := []string{
		"2024-01-15 10:30:00",
		"",
		"not-a-date",
	}

	for _, input := range testCases {
		t.Run(input, func(t *testing.T) {
			_, err := parseISOTimestamp(input)
			assert.Error(t, err)
		})
	}
}

func TestNormalizeBucketPrefix(t *testing.T) {
	assert.Equal(t, DefaultBucketPrefix, NormalizeBucketPrefix(""))
	assert.Equal(t, "logs/", NormalizeBucketPrefix("logs"))
	assert.Equal(t, "logs/", NormalizeBucketPrefix("logs/"))

	once := NormalizeBucketPrefix("custom-prefix")
	twice := NormalizeBucketPrefix(once)
	assert.Equal(t, once, twice)
}
