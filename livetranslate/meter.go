package livetranslate

import (
	"math"
	"sync/atomic"
)

// meterSmoothing matches the default smoothing of a browser AnalyserNode.
const meterSmoothing = 0.8

// meter tracks the input level. The capture callback stores the latest frame
// level; the meter loop eases the published value toward it.
type meter struct {
	target atomic.Uint64 // float64 bits
	level  float64       // only touched by the meter loop
}

func (m *meter) observe(samples []float32) {
	m.target.Store(math.Float64bits(float64(calculateRMS(samples))))
}

func (m *meter) tick() float64 {
	target := math.Float64frombits(m.target.Load())
	m.level = m.level*meterSmoothing + target*(1-meterSmoothing)
	if m.level < 1e-4 {
		m.level = 0
	}
	return m.level
}

// calculateRMS returns the root mean square of samples.
func calculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
