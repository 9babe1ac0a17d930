package resampler

import (
	"math"
	"testing"
)

func makeSine(freq, rate float64, n, channels int) []float32 {
	out := make([]float32, n*channels)
	for i := 0; i < n; i++ {
		v := float32(math.Sin(2 * math.Pi * freq * float64(i) / rate))
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}

func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Invariant 7 — at ratio 1.0, total output frame count should track input
// frame count to within the kernel's transient length at the stream's
// start and end.
func TestProcessUnityRatioPreservesFrameCount(t *testing.T) {
	const channels = 1
	r := New(channels, 1.0)

	in := makeSine(110, 1000, 4000, channels)
	out := make([]float32, len(in)+4*taps*channels)

	totalIn, totalOut := 0, 0
	chunk := 256
	// Unconsumed frames are fed again on the next call, the same way the
	// audio engine only advances its input ring by inUsed.
	for off := 0; off < len(in); {
		end := off + chunk*channels
		if end > len(in) {
			end = len(in)
		}
		inUsed, outProduced := r.Process(in[off:end], out[totalOut*channels:])
		totalIn += inUsed
		totalOut += outProduced
		if inUsed == 0 && outProduced == 0 {
			break
		}
		off += inUsed * channels
	}

	gotFrames := len(in) / channels
	diff := math.Abs(float64(totalOut - gotFrames))
	if diff > float64(4*taps) {
		t.Fatalf("frame count drifted by %v frames at unity ratio (in=%d out=%d)", diff, gotFrames, totalOut)
	}
}

func TestProcessEmptyInputIsNoop(t *testing.T) {
	r := New(2, 1.0)
	inUsed, outProduced := r.Process(nil, make([]float32, 16))
	if inUsed != 0 || outProduced != 0 {
		t.Fatalf("Process(nil, ...) = (%d, %d), want (0, 0)", inUsed, outProduced)
	}
}

func TestProcessZeroOutputCapacityIsNoop(t *testing.T) {
	r := New(2, 1.0)
	in := makeSine(100, 1000, 32, 2)
	inUsed, outProduced := r.Process(in, nil)
	if inUsed != 0 || outProduced != 0 {
		t.Fatalf("Process(in, nil) = (%d, %d), want (0, 0)", inUsed, outProduced)
	}
}

// Upsampling should produce roughly ratio times as many frames as consumed,
// and should not blow up the signal's energy.
func TestProcessUpsamplePreservesRoughEnergy(t *testing.T) {
	const channels = 1
	r := New(channels, 4.0)

	in := makeSine(110, 1000, 2000, channels)
	out := make([]float32, 4*len(in))

	inUsed, outProduced := r.Process(in, out)
	if inUsed == 0 || outProduced == 0 {
		t.Fatal("Process: produced nothing")
	}

	wantOut := float64(inUsed) * 4.0
	if math.Abs(float64(outProduced)-wantOut) > wantOut*0.05+8 {
		t.Fatalf("outProduced = %d, want ~%v for ratio 4.0", outProduced, wantOut)
	}

	inRMS := rms(in[:inUsed])
	outRMS := rms(out[:outProduced])
	if outRMS > inRMS*1.5+0.05 {
		t.Fatalf("output RMS %v far exceeds input RMS %v after upsampling", outRMS, inRMS)
	}
}
