package kitchen

import (
	"math"
	"testing"
	"time"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestCompute_States(t *testing.T) {
	tests := []struct {
		name      string
		in        Input
		wantState string
		wantScore float64
	}{
		{
			name:      "empty queue is idle",
			in:        Input{QueueLength: 0, Capacity: 10, TargetWait: time.Minute},
			wantState: LoadIdle,
			wantScore: 0,
		},
		{
			name: "light load",
			// queue 2/10 = 0.2; wait 3m/15m = 0.2
			// (0.2*0.6 + 0.2*0.4) * 100 = 20
			in:        Input{QueueLength: 2, Capacity: 10, AverageWait: 3 * time.Minute, TargetWait: 15 * time.Minute},
			wantState: LoadNormal,
			wantScore: 20,
		},
		{
			name: "busy",
			// queue 6/10 = 0.6; wait 7.5m/15m = 0.5
			// (0.6*0.6 + 0.5*0.4) * 100 = 56
			in:        Input{QueueLength: 6, Capacity: 10, AverageWait: 450 * time.Second, TargetWait: 15 * time.Minute},
			wantState: LoadBusy,
			wantScore: 56,
		},
		{
			name: "overloaded queue past capacity",
			// queue capped at 1.0; wait 12m/15m = 0.8
			// (0.6 + 0.32) * 100 = 92
			in:        Input{QueueLength: 25, Capacity: 10, AverageWait: 12 * time.Minute, TargetWait: 15 * time.Minute},
			wantState: LoadOverloaded,
			wantScore: 92,
		},
		{
			name:      "no capacity means full queue factor",
			in:        Input{QueueLength: 1},
			wantState: LoadBusy,
			wantScore: 60,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := Compute(tc.in)
			if out.State != tc.wantState {
				t.Errorf("State = %q, want %q (score %.2f)", out.State, tc.wantState, out.Score)
			}
			if !almostEqual(out.Score, tc.wantScore, 0.01) {
				t.Errorf("Score = %.2f, want %.2f", out.Score, tc.wantScore)
			}
		})
	}
}

func TestCompute_FactorsClamped(t *testing.T) {
	out := Compute(Input{QueueLength: 100, Capacity: 1, AverageWait: time.Hour, TargetWait: time.Minute})
	if out.QueueFactor != 1 || out.WaitFactor != 1 {
		t.Errorf("factors: got queue=%v wait=%v, want 1 and 1", out.QueueFactor, out.WaitFactor)
	}
	if !almostEqual(out.Score, 100, 0.001) {
		t.Errorf("Score = %v, want 100", out.Score)
	}
}

func TestClamp01(t *testing.T) {
	for _, tc := range []struct{ in, want float64 }{{-1, 0}, {0.5, 0.5}, {3, 1}} {
		if got := clamp01(tc.in); got != tc.want {
			t.Errorf("clamp01(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
