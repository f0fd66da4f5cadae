// Package strategy runs automated signal-driven trading: an exponential
// moving average crossover evaluated on live mark-price ticks.
package strategy

// EMA is an incremental exponential moving average. The first period
// samples accumulate into a simple average seed; after that each update
// applies the standard smoothing factor 2/(period+1).
type EMA struct {
	period int
	k      float64

	seedCount int
	seedSum   float64
	value     float64
}

// NewEMA creates an EMA over the given period.
func NewEMA(period int) *EMA {
	return &EMA{period: period, k: 2.0 / (float64(period) + 1)}
}

// Update feeds one sample and returns the current value. Before the seed
// completes the returned value is the running simple average.
func (e *EMA) Update(sample float64) float64 {
	if e.seedCount < e.period {
		e.seedCount++
		e.seedSum += sample
		e.value = e.seedSum / float64(e.seedCount)
		return e.value
	}
	e.value = sample*e.k + e.value*(1-e.k)
	return e.value
}

// Ready reports whether the seed window has filled.
func (e *EMA) Ready() bool { return e.seedCount >= e.period }

// Value returns the current average without feeding a sample.
func (e *EMA) Value() float64 { return e.value }
