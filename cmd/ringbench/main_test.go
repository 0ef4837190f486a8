package main

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckFlags(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("overflow cases need a 64-bit int")
	}

	tests := []struct {
		name        string
		maxChunk    int64
		cancelRatio uint64
		ok          bool
	}{
		{"defaults", 4096, 0, true},
		{"largest values", math.MaxUint32, math.MaxUint32, true},
		{"zero chunk", 0, 0, false},
		{"negative chunk", -1, 0, false},
		{"chunk overflows uint32", math.MaxUint32 + 1, 0, false},
		{"cancel ratio overflows uint32", 4096, math.MaxUint32 + 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFlags(int(tt.maxChunk), uint(tt.cancelRatio))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
