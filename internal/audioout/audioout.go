// Package audioout drives the audio sink: the consumer context described in
// the concurrency model, built on blocking PortAudio stream I/O exactly the
// way the reference voice client drives its own playback stream — a plain
// goroutine looping on stream.Write(), not a native callback function.
package audioout

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"eegaudio/internal/ringbuf"
)

// Stream abstracts a PortAudio output stream for testing, mirroring the
// reference client's own paStream abstraction.
type Stream interface {
	Start() error
	Stop() error
	Close() error
	Write() error
}

// Resampler abstracts the ring-to-ring sample-rate converter.
type Resampler interface {
	SetRatio(ratio float64)
	Retarget(ratio float64)
	Process(in, out []float32) (inUsed, outProduced int)
}

// RatioController abstracts the closed-loop fill-level regulator.
type RatioController interface {
	Nominal() float64
	Reset()
	Tick(capacity, fill int, blockSize float64) float64
}

// Engine is the audio sink's consumer context: it owns the output PortAudio
// stream, drains the output ring buffer into it every block, and drives the
// resampler and ratio controller from the same goroutine so neither ever
// contends with the producer.
//
// Zero value is not usable; use New.
type Engine struct {
	channels  int
	blockSize float64 // seconds per block, FramesPerBuffer / sampleRate

	stream    Stream
	buf       []float32 // fixed destination buffer bound to the PortAudio stream
	outReader *ringbuf.Reader
	outWriter *ringbuf.Writer
	inReader  *ringbuf.Reader

	resampler Resampler
	ratio     RatioController

	inScratch  []float32
	outScratch []float32

	enableResample atomic.Bool
	enableUpdate   atomic.Bool
	keepRunning    atomic.Bool

	peakLimitBits atomic.Uint64

	mu           sync.Mutex
	wg           sync.WaitGroup
	lastRatioLog time.Time
}

// New builds an Engine bound to the given ring buffer ends. buf is the
// fixed-size float32 slice that will be handed to portaudio.OpenStream; its
// length determines the block size (buf length / channels frames per
// block).
func New(channels int, sampleRate float64, buf []float32, outReader *ringbuf.Reader, outWriter *ringbuf.Writer, inReader *ringbuf.Reader, resampler Resampler, ratio RatioController) *Engine {
	e := &Engine{
		channels:   channels,
		blockSize:  float64(len(buf)/channels) / sampleRate,
		buf:        buf,
		outReader:  outReader,
		outWriter:  outWriter,
		inReader:   inReader,
		resampler:  resampler,
		ratio:      ratio,
		inScratch:  make([]float32, inReader.Capacity()*channels),
		outScratch: make([]float32, outWriter.Capacity()*channels),
	}
	e.peakLimitBits.Store(math.Float64bits(1.0))
	return e
}

// Start opens and starts the PortAudio output stream and begins the
// consumer loop. The resample/update flags start false: the pipeline
// enables them only once the input buffer has been primed (§ Priming
// state), matching the reference client's staged startup.
func (e *Engine) Start(openStream func(buf []float32) (Stream, error)) error {
	stream, err := openStream(e.buf)
	if err != nil {
		return fmt.Errorf("audioout: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("audioout: start stream: %w", err)
	}

	e.stream = stream
	e.keepRunning.Store(true)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.playbackLoop()
	}()

	log.Printf("[audio] playback started, block=%.1fms", e.blockSize*1000)
	return nil
}

// EnableProcessing flips both the resample and update flags, matching the
// transition into Running state once the input buffer has been primed.
func (e *Engine) EnableProcessing(enable bool) {
	e.enableResample.Store(enable)
	e.enableUpdate.Store(enable)
}

// Stop halts playback and tears the stream down. Sequence matters: stopping
// the stream first unblocks any in-flight Write() call, so the goroutine can
// observe keepRunning=false and return before the stream object is closed —
// closing while the goroutine still touches it would segfault.
func (e *Engine) Stop() {
	if !e.keepRunning.CompareAndSwap(true, false) {
		return
	}

	e.mu.Lock()
	stream := e.stream
	e.mu.Unlock()
	if stream != nil {
		stream.Stop()
	}

	e.wg.Wait()

	if stream != nil {
		stream.Close()
	}
	log.Println("[audio] playback stopped")
}

func (e *Engine) playbackLoop() {
	for e.keepRunning.Load() {
		e.fillBlock()
		if err := e.stream.Write(); err != nil {
			if e.keepRunning.Load() {
				log.Printf("[audio] playback write: %v", err)
			}
			return
		}
	}
}

// fillBlock implements the audio callback contract: drain what's available,
// zero-fill the rest, refresh the informational peak, then let the
// resampler and ratio controller run if enabled.
func (e *Engine) fillBlock() {
	frameCount := len(e.buf) / e.channels
	copied := e.outReader.Read(e.buf, frameCount)
	if copied < frameCount {
		zeroFloat32(e.buf[copied*e.channels:])
	}
	e.updatePeak(e.buf[:copied*e.channels])

	if e.enableResample.Load() {
		e.runResampler()
	}
	if e.enableUpdate.Load() {
		e.tickRatio()
	}
}

// updatePeak tracks the running peak magnitude of just-emitted samples.
// This never retroactively rescales anything already written to the output
// buffer — it exists purely as a diagnostic mirror of the scaler's own
// outputLimit upstream.
func (e *Engine) updatePeak(emitted []float32) {
	limit := math.Float64frombits(e.peakLimitBits.Load())
	for _, v := range emitted {
		if abs := math.Abs(float64(v)); abs > limit {
			limit = abs
		}
	}
	e.peakLimitBits.Store(math.Float64bits(limit))
}

// PeakLimit returns the running peak magnitude observed in emitted audio.
func (e *Engine) PeakLimit() float64 {
	return math.Float64frombits(e.peakLimitBits.Load())
}

// runResampler feeds buffered input frames through the resampler into the
// output buffer. It is invoked only after fillBlock has drained the output
// buffer, so there is maximum free space; it is a no-op if the input buffer
// is empty or the output buffer is already full.
func (e *Engine) runResampler() {
	inFrames := e.inReader.Peek(e.inScratch, e.inReader.Capacity())
	if inFrames == 0 {
		return
	}
	outFree := e.outWriter.Free()
	if outFree == 0 {
		return
	}
	outCapFrames := outFree
	if max := len(e.outScratch) / e.channels; outCapFrames > max {
		outCapFrames = max
	}

	inUsed, outProduced := e.resampler.Process(
		e.inScratch[:inFrames*e.channels],
		e.outScratch[:outCapFrames*e.channels],
	)
	if outProduced > 0 {
		e.outWriter.Write(e.outScratch[:outProduced*e.channels])
	}
	if inUsed > 0 {
		e.inReader.Advance(inUsed)
	}
}

// tickRatio runs the ratio controller once and retargets the resampler,
// logging the current ratio at most once per second.
func (e *Engine) tickRatio() {
	capacity := e.outReader.Capacity()
	fill := e.outReader.Fill()
	current := e.ratio.Tick(capacity, fill, e.blockSize)
	e.resampler.Retarget(current)

	if now := time.Now(); now.Sub(e.lastRatioLog) >= time.Second {
		log.Printf("[ratio] currentRatio=%.4f fill=%d/%d", current, fill, capacity)
		e.lastRatioLog = now
	}
}

func zeroFloat32(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}

// portaudioStream adapts *portaudio.Stream to the Stream interface.
type portaudioStream struct {
	s *portaudio.Stream
}

func (p portaudioStream) Start() error { return p.s.Start() }
func (p portaudioStream) Stop() error  { return p.s.Stop() }
func (p portaudioStream) Close() error { return p.s.Close() }
func (p portaudioStream) Write() error { return p.s.Write() }

// OpenDeviceStream opens a real PortAudio output stream bound to buf, for
// use as the openStream argument to Start.
func OpenDeviceStream(device *portaudio.DeviceInfo, channels int, sampleRate float64, buf []float32) (Stream, error) {
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: len(buf) / channels,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	return portaudioStream{s: stream}, nil
}
