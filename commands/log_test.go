package commands

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogRange(t *testing.T) {
	tests := []struct {
		name   string
		start  uint64
		count  uint64
		start2 uint64
		end    uint64
	}{
		{"plain", 5, 10, 5, 15},
		{"empty", 7, 0, 7, 7},
		{"exact max", 1, math.MaxUint64 - 1, 1, math.MaxUint64},
		{"overflow", 10, math.MaxUint64, 10, math.MaxUint64},
		{"max start", math.MaxUint64, 1, math.MaxUint64, math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := logRange(tt.start, tt.count)
			assert.Equal(t, tt.start2, start)
			assert.Equal(t, tt.end, end)
			assert.LessOrEqual(t, start, end)
		})
	}
}
