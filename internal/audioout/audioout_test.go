package audioout

import (
	"errors"
	"testing"

	"eegaudio/internal/ringbuf"
)

type fakeStream struct {
	writes  int
	writeFn func() error
	stopped bool
	closed  bool
}

func (f *fakeStream) Start() error { return nil }
func (f *fakeStream) Stop() error  { f.stopped = true; return nil }
func (f *fakeStream) Close() error { f.closed = true; return nil }
func (f *fakeStream) Write() error {
	f.writes++
	if f.writeFn != nil {
		return f.writeFn()
	}
	return nil
}

type noopResampler struct{ ratio float64 }

func (r *noopResampler) SetRatio(ratio float64)  { r.ratio = ratio }
func (r *noopResampler) Retarget(ratio float64)  { r.ratio = ratio }
func (r *noopResampler) Process(in, out []float32) (int, int) {
	n := len(in)
	if len(out) < n {
		n = len(out)
	}
	copy(out[:n], in[:n])
	return n, n
}

type noopController struct{ nominal float64 }

func (c *noopController) Nominal() float64 { return c.nominal }
func (c *noopController) Reset()           {}
func (c *noopController) Tick(capacity, fill int, blockSize float64) float64 {
	return c.nominal
}

// Invariant 8 — the callback zero-fills exactly frameCount-available frames on
// underrun.
func TestFillBlockZeroFillsOnUnderrun(t *testing.T) {
	const channels = 2
	outW, outR := ringbuf.New(16, channels)
	_, inR := ringbuf.New(16, channels)

	outW.Write([]float32{1, 1, 2, 2}) // 2 frames buffered, want 4

	buf := make([]float32, 4*channels)
	for i := range buf {
		buf[i] = -9 // sentinel so we can tell zero-fill apart from stale data
	}

	e := New(channels, 44100, buf, outR, outW, inR, &noopResampler{}, &noopController{nominal: 176.4})
	e.fillBlock()

	want := []float32{1, 1, 2, 2, 0, 0, 0, 0}
	for i, v := range want {
		if buf[i] != v {
			t.Fatalf("buf[%d] = %v, want %v (buf=%v)", i, buf[i], v, buf)
		}
	}
}

func TestFillBlockDrainsExactlyOnFullBuffer(t *testing.T) {
	const channels = 1
	outW, outR := ringbuf.New(8, channels)
	_, inR := ringbuf.New(8, channels)
	outW.Write([]float32{1, 2, 3, 4})

	buf := make([]float32, 4)
	e := New(channels, 44100, buf, outR, outW, inR, &noopResampler{}, &noopController{nominal: 1})
	e.fillBlock()

	for i, v := range []float32{1, 2, 3, 4} {
		if buf[i] != v {
			t.Fatalf("buf[%d] = %v, want %v", i, buf[i], v)
		}
	}
}

func TestEngineStartStopSequencing(t *testing.T) {
	const channels = 1
	outW, outR := ringbuf.New(8, channels)
	_, inR := ringbuf.New(8, channels)
	buf := make([]float32, 4)

	e := New(channels, 44100, buf, outR, outW, inR, &noopResampler{}, &noopController{nominal: 1})

	fs := &fakeStream{}
	// Make Write return an error after a few iterations so the goroutine
	// exits on its own without needing Stop to race it.
	calls := 0
	fs.writeFn = func() error {
		calls++
		if calls > 3 {
			return errors.New("stream finished")
		}
		return nil
	}

	if err := e.Start(func([]float32) (Stream, error) { return fs, nil }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()

	if !fs.stopped {
		t.Error("Stop: underlying stream was not stopped")
	}
	if !fs.closed {
		t.Error("Stop: underlying stream was not closed")
	}
}

func TestEnableProcessingTogglesBothFlags(t *testing.T) {
	const channels = 1
	outW, outR := ringbuf.New(8, channels)
	_, inR := ringbuf.New(8, channels)
	buf := make([]float32, 4)
	e := New(channels, 44100, buf, outR, outW, inR, &noopResampler{}, &noopController{nominal: 1})

	e.EnableProcessing(true)
	if !e.enableResample.Load() || !e.enableUpdate.Load() {
		t.Fatal("EnableProcessing(true) did not set both flags")
	}
	e.EnableProcessing(false)
	if e.enableResample.Load() || e.enableUpdate.Load() {
		t.Fatal("EnableProcessing(false) did not clear both flags")
	}
}
