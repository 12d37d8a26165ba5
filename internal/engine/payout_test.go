package engine

import (
	"math"
	"testing"
)

func TestPayout(t *testing.T) {
	tests := []struct {
		name                   string
		stake, winning, losing int64
		want                   int64
	}{
		{"even pools", 100, 100, 50, 150},
		{"no opposing stake", 50, 50, 0, 50},
		{"smaller winner", 20, 50, 50, 40},
		{"larger winner", 30, 50, 50, 60},
		{"floors toward zero", 1, 3, 10, 4},
		{"floors toward zero larger stake", 2, 3, 10, 8},
		{"whole pool to sole winner", 3, 3, 10, 13},
		{"product exceeds int64", 4 << 60, 4 << 60, 4 << 60, 8 << 60},
		{"max stake no losers", math.MaxInt64, math.MaxInt64, 0, math.MaxInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Payout(tt.stake, tt.winning, tt.losing); got != tt.want {
				t.Fatalf("Payout(%d, %d, %d) = %d, want %d",
					tt.stake, tt.winning, tt.losing, got, tt.want)
			}
		})
	}
}

// The sum of every winner's payout never exceeds the pool, for an arbitrary
// split of stakes.
func TestPayoutNeverOverdrawsPool(t *testing.T) {
	winners := []int64{1, 7, 13, 250, 999}
	var winning int64
	for _, s := range winners {
		winning += s
	}
	for _, losing := range []int64{0, 1, 500, 123_456_789} {
		pool := winning + losing
		var paid int64
		for _, s := range winners {
			paid += Payout(s, winning, losing)
		}
		if paid > pool {
			t.Fatalf("losing=%d: paid %d out of pool %d", losing, paid, pool)
		}
	}
}
