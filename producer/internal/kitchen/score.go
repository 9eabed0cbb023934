package kitchen

import "time"

// Weight constants for the load score formula. They must sum to 1.0.
const (
	weightQueue = 0.60
	weightWait  = 0.40
)

// Load states returned by the score calculator.
const (
	LoadIdle       = "idle"
	LoadNormal     = "normal"
	LoadBusy       = "busy"
	LoadOverloaded = "overloaded"
)

// Thresholds that map a score to a load state.
const (
	ThresholdBusy       = 50.0
	ThresholdOverloaded = 85.0
)

// Input holds the values fed into the load score formula.
type Input struct {
	// QueueLength is the number of open orders.
	QueueLength int

	// Capacity is the queue length the kitchen handles comfortably.
	// Zero or negative means every non-empty queue is at capacity.
	Capacity int

	// AverageWait is the mean time open orders have been waiting.
	AverageWait time.Duration

	// TargetWait is the acceptable average wait. Zero disables the wait factor.
	TargetWait time.Duration
}

// Output is the result of the load score calculation.
type Output struct {
	// Score is the composite load in the range 0-100. Higher is busier.
	Score float64

	// State is the load state derived from Score.
	State string

	// The two factor values (each 0-1) used to compute Score.
	QueueFactor float64
	WaitFactor  float64
}

// Compute calculates the kitchen load:
//
//	score = (
//	    clamp(queue/capacity)    * 0.60  +
//	    clamp(avgWait/target)    * 0.40
//	) * 100
//
// An empty queue is always idle.
func Compute(in Input) Output {
	if in.QueueLength <= 0 {
		return Output{State: LoadIdle}
	}

	queueFactor := 1.0
	if in.Capacity > 0 {
		queueFactor = clamp01(float64(in.QueueLength) / float64(in.Capacity))
	}

	var waitFactor float64
	if in.TargetWait > 0 {
		waitFactor = clamp01(float64(in.AverageWait) / float64(in.TargetWait))
	}

	score := (queueFactor*weightQueue + waitFactor*weightWait) * 100

	return Output{
		Score:       score,
		State:       stateFromScore(score),
		QueueFactor: queueFactor,
		WaitFactor:  waitFactor,
	}
}

// stateFromScore maps a numeric score to a named load state.
func stateFromScore(score float64) string {
	switch {
	case score >= ThresholdOverloaded:
		return LoadOverloaded
	case score >= ThresholdBusy:
		return LoadBusy
	default:
		return LoadNormal
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
