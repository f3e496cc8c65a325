package score

import (
	"time"

	"github.com/shopspring/decimal"
)

// Points awarded for a correct answer decay linearly with response
// latency, from MaxPoints at t=0 down to MinPoints at the deadline.
// The floor guarantees any correct answer beats any wrong one.
const (
	MinPoints int64 = 100
	MaxPoints int64 = 1000
)

// Policy maps one on-time submission to points. The zero value uses
// MinPoints and MaxPoints.
type Policy struct {
	Min int64
	Max int64
}

// Evaluate returns the points for a submission made elapsed after the
// question opened. A wrong answer is always worth 0. Callers must reject
// late submissions (elapsed > duration) before calling; Evaluate clamps
// them to the floor rather than going negative.
func (p Policy) Evaluate(answer, correct int, elapsed, duration time.Duration) int64 {
	if answer != correct {
		return 0
	}

	minPts, maxPts := p.Min, p.Max
	if maxPts == 0 {
		minPts, maxPts = MinPoints, MaxPoints
	}

	// duration is a positive config-time constant, never zero.
	ratio := decimal.NewFromFloat(elapsed.Seconds()).
		Div(decimal.NewFromFloat(duration.Seconds()))

	pts := decimal.NewFromInt(minPts).Add(
		decimal.NewFromInt(1).Sub(ratio).Mul(decimal.NewFromInt(maxPts - minPts)),
	).IntPart()

	if pts < minPts {
		pts = minPts
	}
	if pts > maxPts {
		pts = maxPts
	}

	return pts
}
