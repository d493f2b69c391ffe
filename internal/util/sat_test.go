package util

import (
	"math"
	"testing"
)

func TestSaturatingAdd(t *testing.T) {
	tests := []struct {
		a, b, want uint64
	}{
		{0, 0, 0},
		{1, 2, 3},
		{math.MaxUint64, 1, math.MaxUint64},
		{math.MaxUint64, math.MaxUint64, math.MaxUint64},
		{math.MaxUint64 - 1, 1, math.MaxUint64},
	}
	for _, tt := range tests {
		if got := SaturatingAdd(tt.a, tt.b); got != tt.want {
			t.Errorf("SaturatingAdd(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSaturatingSub(t *testing.T) {
	tests := []struct {
		a, b, want uint64
	}{
		{0, 0, 0},
		{3, 2, 1},
		{0, 1, 0},
		{5, math.MaxUint64, 0},
	}
	for _, tt := range tests {
		if got := SaturatingSub(tt.a, tt.b); got != tt.want {
			t.Errorf("SaturatingSub(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBlocksToBytes(t *testing.T) {
	tests := []struct {
		blocks, want uint64
	}{
		{0, 0},
		{1, 512},
		{8, 4096},
		{1<<55 - 1, (1<<55 - 1) << 9},
		{1 << 55, math.MaxUint64},
		{math.MaxUint64, math.MaxUint64},
	}
	for _, tt := range tests {
		if got := BlocksToBytes(tt.blocks); got != tt.want {
			t.Errorf("BlocksToBytes(%d) = %d, want %d", tt.blocks, got, tt.want)
		}
	}
}

func TestClampBlocks(t *testing.T) {
	if got := ClampBlocks(MaxBlocks + 5); got != MaxBlocks {
		t.Errorf("ClampBlocks(MaxBlocks+5) = %d, want %d", got, MaxBlocks)
	}
	if got := ClampBlocks(42); got != 42 {
		t.Errorf("ClampBlocks(42) = %d, want 42", got)
	}
}

func TestClampU32(t *testing.T) {
	if got := ClampU32(math.MaxUint64); got != math.MaxUint32 {
		t.Errorf("ClampU32(MaxUint64) = %d, want %d", got, uint32(math.MaxUint32))
	}
	if got := ClampU32(7); got != 7 {
		t.Errorf("ClampU32(7) = %d, want 7", got)
	}
}
