package allocation

import (
	"math/rand/v2"
	"slices"
	"testing"
)

func TestDailyQuota(t *testing.T) {
	tests := []struct {
		total, timeframe int
		first            bool
		want             int
	}{
		{37, 5, true, 9},
		{37, 5, false, 7},
		{10, 5, true, 2},
		{10, 5, false, 2},
		{3, 10, true, 3},
		{3, 10, false, 0},
		{1, 1, true, 1},
		{10, 0, true, 0},
		{10, -2, false, 0},
		{0, 5, true, 0},
	}

	for _, tt := range tests {
		if got := DailyQuota(tt.total, tt.timeframe, tt.first); got != tt.want {
			t.Errorf("DailyQuota(%d, %d, %v) = %d, want %d", tt.total, tt.timeframe, tt.first, got, tt.want)
		}
	}
}

func TestClampQuota(t *testing.T) {
	tests := []struct{ quota, remaining, want int }{
		{7, 10, 7},
		{7, 3, 3},
		{0, 3, 0},
		{5, 0, 0},
		{-1, 4, 0},
	}

	for _, tt := range tests {
		if got := ClampQuota(tt.quota, tt.remaining); got != tt.want {
			t.Errorf("ClampQuota(%d, %d) = %d, want %d", tt.quota, tt.remaining, got, tt.want)
		}
	}
}

func TestSchedule(t *testing.T) {
	tests := []struct {
		total, timeframe int
		want             []int
	}{
		{37, 5, []int{9, 7, 7, 7, 7}},
		{3, 10, []int{3, 0, 0, 0, 0, 0, 0, 0, 0, 0}},
		{12, 4, []int{3, 3, 3, 3}},
		{5, 0, []int{}},
	}

	for _, tt := range tests {
		got := Schedule(tt.total, tt.timeframe)
		if !slices.Equal(got, tt.want) {
			t.Errorf("Schedule(%d, %d) = %v, want %v", tt.total, tt.timeframe, got, tt.want)
		}
	}

	// The plan always sums to the image size
	for total := 1; total <= 40; total++ {
		for timeframe := 1; timeframe <= 12; timeframe++ {
			sum := 0
			for _, q := range Schedule(total, timeframe) {
				sum += q
			}
			if sum != total {
				t.Fatalf("Schedule(%d, %d) sums to %d", total, timeframe, sum)
			}
		}
	}
}

func TestRandomSelector(t *testing.T) {
	sel := NewRandomSelector(rand.NewPCG(1, 2))
	input := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	original := slices.Clone(input)

	got := sel.Select(input, 4)
	if len(got) != 4 {
		t.Fatalf("expected 4 regions, got %v", got)
	}
	if !slices.Equal(input, original) {
		t.Fatalf("input was modified: %v", input)
	}

	seen := make(map[int]bool)
	for _, id := range got {
		if seen[id] {
			t.Fatalf("region %d selected twice in %v", id, got)
		}
		if !slices.Contains(input, id) {
			t.Fatalf("region %d not in input", id)
		}
		seen[id] = true
	}

	if all := sel.Select(input, 20); len(all) != len(input) {
		t.Errorf("quota above input size should return every id, got %v", all)
	}
	if none := sel.Select(input, 0); none != nil {
		t.Errorf("zero quota should select nothing, got %v", none)
	}
	if none := sel.Select(nil, 3); none != nil {
		t.Errorf("empty input should select nothing, got %v", none)
	}
}

func TestRandomSelectorSeeded(t *testing.T) {
	input := []int{10, 20, 30, 40, 50, 60}

	a := NewRandomSelector(rand.NewPCG(42, 7)).Select(input, 3)
	b := NewRandomSelector(rand.NewPCG(42, 7)).Select(input, 3)
	if !slices.Equal(a, b) {
		t.Fatalf("same seed gave %v and %v", a, b)
	}
}

func TestDayStateTransitions(t *testing.T) {
	tests := []struct {
		from, to DayState
		ok       bool
	}{
		{StateIdle, StateAllocating, true},
		{StateIdle, StateRejected, true},
		{StateIdle, StateCommitted, false},
		{StateAllocating, StateCommitted, true},
		{StateAllocating, StateRejected, true},
		{StateAllocating, StateIdle, true},
		{StateCommitted, StateAllocating, false},
		{StateRejected, StateIdle, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
