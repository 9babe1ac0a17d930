// Package dcfilter implements the per-channel DC-removal high-pass filter
// and running-peak auto-scaler applied to EEG channels before they enter the
// audio pipeline's input buffer.
package dcfilter

import "math"

const (
	// Lambda is the exponential smoothing coefficient for the baseline
	// tracker, chosen for a ~10 s decay at the 250 Hz source rate.
	Lambda = 2.772e-4

	// initialLimit is the starting value of the running peak scaler; it only
	// ever grows from here.
	initialLimit = 1.0
)

// Filter removes a slowly-tracking DC baseline from each EEG channel and
// normalises the result by a monotonically non-decreasing running peak, so
// the output stays roughly within [-1, 1] for audio routing.
//
// Zero value is not usable; use New(channels).
type Filter struct {
	baseline    []float64
	initialized bool
	outputLimit float64
}

// New returns a Filter for the given channel count with outputLimit at its
// floor of 1.0. The baseline is uninitialized until the first sample arrives
// (see Process), matching the original device driver's warmup behavior.
func New(channels int) *Filter {
	return &Filter{
		baseline:    make([]float64, channels),
		outputLimit: initialLimit,
	}
}

// Process filters and scales one EEG sample in place. On the first call, the
// baseline for every channel is initialized to that sample's values so there
// is no multi-second startup ramp.
func (f *Filter) Process(sample []float64) {
	if !f.initialized {
		copy(f.baseline, sample)
		f.initialized = true
	}

	for c, x := range sample {
		f.baseline[c] = (1-Lambda)*f.baseline[c] + Lambda*x
		y := x - f.baseline[c]
		if abs := math.Abs(y); abs > f.outputLimit {
			f.outputLimit = abs
		}
		sample[c] = y / f.outputLimit
	}
}

// OutputLimit returns the current running peak magnitude. It never
// decreases within a session. Historical samples already written to the
// input buffer are not retroactively rescaled when this grows — only new
// samples divide by the latest value (matching the original driver).
func (f *Filter) OutputLimit() float64 { return f.outputLimit }
