package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
		ok    bool
	}{
		{"info", LevelInfo, true},
		{"WARNING", LevelWarning, true},
		{"warn", LevelWarning, true},
		{"Error", LevelError, true},
		{"fatal", LevelFatal, true},
		{"7", Level(7), true},
		{" 2 ", LevelError, true},
		{"loud", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLevel(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "FATAL", LevelFatal.String())
	assert.Equal(t, "12", Level(12).String())
	assert.True(t, LevelError.Reserved())
	assert.False(t, Level(4).Reserved())
}

func TestStamp(t *testing.T) {
	in := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.FixedZone("X", 3600))
	out := Stamp(in)
	assert.Equal(t, time.UTC, out.Location())
	assert.Equal(t, 123456000, out.Nanosecond())
	assert.True(t, out.Equal(in.Truncate(time.Microsecond)))
}
