// Package resampler implements a stateful windowed-sinc sample-rate
// converter for interleaved multi-channel float32 audio. It preserves
// interpolation phase and a small history tail across calls so that a
// caller can feed it successive chunks of a continuous stream and get
// continuous output, even as the target ratio is nudged at runtime.
package resampler

import "math"

// taps is the number of samples on each side of the interpolation center
// used to build one output sample; a larger value trades CPU time for a
// sharper cutoff and less aliasing.
const taps = 4

// rolloff shapes how quickly the kernel's passband rolls off near the
// Nyquist edge; closer to 0 is a narrower transition band.
const rolloff = 0.5

// Resampler converts between sample rates via windowed-sinc interpolation.
// Zero value is not usable; use New.
type Resampler struct {
	channels int
	ratio    float64

	// history holds the last `taps` input frames from the previous Process
	// call, interleaved, so the kernel can look backward across call
	// boundaries without discontinuity.
	history []float32

	// framePos is the position of the next output sample, in input-frame
	// units, relative to the start of the next call's `in` slice. It is never
	// negative: output samples are centred on frames of `in`, and history
	// only supplies the kernel's left-hand taps.
	framePos float64

	// work is reused across Process calls to hold history followed by the
	// new input, so steady-state calls do not allocate.
	work []float32
}

// New returns a Resampler for the given channel count and initial ratio
// (outRate / inRate).
func New(channels int, ratio float64) *Resampler {
	return &Resampler{
		channels: channels,
		ratio:    ratio,
		history:  make([]float32, taps*channels),
		framePos: 0,
	}
}

// SetRatio changes the target ratio and resets interpolation phase and
// history. Used once at startup and on any large ratio jump (e.g. entering
// Running state); see Retarget for the frequent small nudges the ratio
// controller applies every block.
func (r *Resampler) SetRatio(ratio float64) {
	r.ratio = ratio
	r.framePos = 0
	for i := range r.history {
		r.history[i] = 0
	}
}

// Retarget changes the target ratio without touching interpolation phase or
// history, so it is safe to call every block from the ratio controller:
// continuity across the adjustment is preserved because only the step size
// between future output samples changes, not where the kernel currently is.
func (r *Resampler) Retarget(ratio float64) {
	r.ratio = ratio
}

// Process consumes frames from in (interleaved, channels wide) and writes
// resampled frames into out (interleaved, channels wide), at the
// Resampler's current ratio. It returns the number of input frames
// consumed and output frames produced. Process keeps interpolation phase
// and up to `taps` frames of input history across calls, so splitting a
// stream into many Process calls does not introduce clicks at the
// boundaries.
func (r *Resampler) Process(in, out []float32) (inUsed, outProduced int) {
	ch := r.channels
	inFrames := len(in) / ch
	outCapFrames := len(out) / ch
	if inFrames == 0 || outCapFrames == 0 {
		return 0, 0
	}

	need := (taps + inFrames) * ch
	if cap(r.work) < need {
		r.work = make([]float32, need)
	}
	work := r.work[:need]
	copy(work, r.history)
	copy(work[taps*ch:], in)

	step := 1 / r.ratio
	pos := r.framePos

	for outProduced < outCapFrames {
		base := math.Floor(pos)
		baseIdx := int(base) + taps // index into work of the frame at floor(pos)
		if baseIdx-taps < 0 || baseIdx+taps+1 > taps+inFrames {
			break
		}
		frac := pos - base

		dst := out[outProduced*ch : outProduced*ch+ch]
		for c := 0; c < ch; c++ {
			var sum float32
			for t := -taps; t <= taps; t++ {
				w := kernel(frac-float64(t), rolloff)
				sum += work[(baseIdx+t)*ch+c] * float32(w)
			}
			dst[c] = sum
		}

		pos += step
		outProduced++
	}

	consumedFrames := int(math.Floor(pos)) - taps
	if consumedFrames < 0 {
		consumedFrames = 0
	}
	if consumedFrames > inFrames {
		consumedFrames = inFrames
	}
	inUsed = consumedFrames
	r.framePos = pos - float64(inUsed)

	histStart := (inUsed) * ch
	histEnd := (inUsed + taps) * ch
	if histEnd <= len(work) {
		copy(r.history, work[histStart:histEnd])
	}

	return inUsed, outProduced
}

// kernel evaluates a root-raised-cosine-windowed sinc at offset t (in input
// samples) for the given roll-off factor a: the sinc function shaped by a
// cosine taper so it decays to zero well before the edge of the tap window,
// instead of ringing indefinitely like a bare sinc.
func kernel(t, a float64) float64 {
	var sinc float64
	if t > -1e-9 && t < 1e-9 {
		sinc = 1
	} else {
		sinc = math.Sin(math.Pi*t) / (math.Pi * t)
	}

	at := a * t
	var taper float64
	if math.Abs(at) > 0.499 && math.Abs(at) < 0.501 {
		taper = math.Pi / 4
	} else {
		taper = math.Cos(math.Pi*at) / (1 - math.Pow(2*at, 2))
	}

	return sinc * taper
}
