// Package ratio implements the closed-loop resampling-ratio controller that
// keeps the audio output buffer near half-full despite clock drift between
// the device's 250 Hz oscillator and the host audio clock.
package ratio

import "math"

// Fill-level thresholds as fractions of output buffer capacity.
const (
	veryLow  = 0.40
	low      = 0.48
	high     = 0.52
	veryHigh = 0.60
)

// clampBand bounds currentRatio to +/-20% of nominal so a runaway estimate
// can never wind up indefinitely.
const clampBand = 0.2

// Controller is a proportional regulator with state-dependent gain: it runs
// once per audio block, observing the output buffer's fill level and
// nudging currentRatio toward an estimate that would restore half-full.
//
// Zero value is not usable; use New.
type Controller struct {
	nominal      float64
	currentRatio float64
}

// New returns a Controller for the given nominal ratio (sinkRate / 250),
// with currentRatio initialized to nominal.
func New(nominal float64) *Controller {
	return &Controller{nominal: nominal, currentRatio: nominal}
}

// Nominal returns sinkRate/250, the ideal ratio if both clocks were perfect.
func (c *Controller) Nominal() float64 { return c.nominal }

// Ratio returns the current resampling ratio.
func (c *Controller) Ratio() float64 { return c.currentRatio }

// Reset sets currentRatio back to nominal, e.g. when entering Running state.
func (c *Controller) Reset() { c.currentRatio = c.nominal }

// Tick runs one controller update. capacity and fill are output-buffer
// frame counts; blockSize is the audio block period in seconds.
func (c *Controller) Tick(capacity, fill int, blockSize float64) float64 {
	blockSizeFrames := blockSize * c.nominal * 250 // = blockSize * sinkRate
	estimate := c.nominal + (0.5*float64(capacity)-float64(fill))/blockSizeFrames
	estimate = clamp(estimate, c.nominal*(1-clampBand), c.nominal*(1+clampBand))

	lambdaSlow := 1 * blockSize
	lambdaFast := 10 * blockSize

	frac := float64(fill) / float64(capacity)
	var target, lambda float64
	switch {
	case frac < veryLow:
		target, lambda = estimate, lambdaFast
	case frac < low:
		target, lambda = estimate, lambdaSlow
	case frac <= high:
		target, lambda = c.nominal, lambdaFast
	case frac <= veryHigh:
		target, lambda = estimate, lambdaSlow
	default:
		target, lambda = estimate, lambdaFast
	}
	if lambda > 1 {
		lambda = 1
	}

	c.currentRatio = (1-lambda)*c.currentRatio + lambda*target
	c.currentRatio = clamp(c.currentRatio, c.nominal*(1-clampBand), c.nominal*(1+clampBand))
	return c.currentRatio
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
