package main

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"eegaudio/internal/audioout"
	"eegaudio/internal/config"
	"eegaudio/internal/dcfilter"
	"eegaudio/internal/frame"
	"eegaudio/internal/ratio"
	"eegaudio/internal/resampler"
	"eegaudio/internal/ringbuf"
)

// warmupFrames is the number of initial frames discarded on every
// acquisition start; early samples carry ADC settling artefacts.
const warmupFrames = 5 * 250

// State names one stage of the pipeline's lifecycle.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateHandshaking
	StateWarmup
	StatePriming
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateHandshaking:
		return "handshaking"
	case StateWarmup:
		return "warmup"
	case StatePriming:
		return "priming"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Pipeline owns the full acquisition-to-sink lifecycle: it pulls decoded
// samples from a SerialSource, fans them out to the non-audio sinks at
// source rate, and — when an audio sink is configured — filters, scales,
// and resamples them into a PortAudio output stream driven by a closed-loop
// ratio controller.
//
// Zero value is not usable; use NewPipeline.
type Pipeline struct {
	cfg config.Config

	source      SerialSource
	sampleSinks []SampleSink

	audioChannels int
	filter        *dcfilter.Filter
	inWriter      *ringbuf.Writer
	inReader      *ringbuf.Reader
	outWriter     *ringbuf.Writer
	outReader     *ringbuf.Reader
	resampler     *resampler.Resampler
	ratioCtl      *ratio.Controller
	audio         *audioout.Engine
	openStream    func(buf []float32) (audioout.Stream, error)

	frameScratch []float32

	state       atomic.Int32
	keepRunning atomic.Bool
	wg          sync.WaitGroup
}

// NewPipeline wires a Pipeline from already-constructed components.
// openStream is nil when no audio sink is configured; otherwise it opens
// the real (or, in tests, fake) PortAudio stream bound to the buffer it is
// given.
func NewPipeline(cfg config.Config, source SerialSource, sampleSinks []SampleSink, openStream func(buf []float32) (audioout.Stream, error)) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		source:      source,
		sampleSinks: sampleSinks,
		openStream:  openStream,
	}

	if openStream != nil {
		channels := cfg.OutputChannels
		if channels > frame.EEGChannels {
			channels = frame.EEGChannels
		}
		if channels < 1 {
			channels = 1
		}
		p.audioChannels = channels
		p.filter = dcfilter.New(frame.EEGChannels)
		p.frameScratch = make([]float32, channels)

		// ringbuf.New rounds capacity up to a power of two, so the actual
		// buffered duration (and the ratio controller's "half-full" target,
		// which reads Capacity() back from the ring) ends up somewhat larger
		// than BufferSize seconds — e.g. 2s @ 44100Hz (88200 frames) rounds
		// up to 131072, i.e. ~2.97s. The clamp invariant on currentRatio
		// still holds regardless; only the target latency shifts.
		inCapacity := int(cfg.BufferSize * 250)
		outCapacity := int(cfg.BufferSize * cfg.OutputRate)
		p.inWriter, p.inReader = ringbuf.New(inCapacity, channels)
		p.outWriter, p.outReader = ringbuf.New(outCapacity, channels)

		nominal := cfg.OutputRate / 250
		p.resampler = resampler.New(channels, nominal)
		p.ratioCtl = ratio.New(nominal)

		blockFrames := int(cfg.BlockSize * cfg.OutputRate)
		if blockFrames < 1 {
			blockFrames = 1
		}
		audioBuf := make([]float32, blockFrames*channels)
		p.audio = audioout.New(channels, cfg.OutputRate, audioBuf, p.outReader, p.outWriter, p.inReader, p.resampler, p.ratioCtl)
	}

	p.state.Store(int32(StateIdle))
	return p
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	log.Printf("[pipeline] state=%s", s)
}

// Start drives the pipeline through Opening -> Handshaking -> Warmup ->
// Priming -> Running, then returns once the producer goroutine is
// servicing the Running state. A returned error leaves the pipeline in
// StateIdle with nothing torn down that wasn't already set up by the
// caller (the caller owns source.Close()).
func (p *Pipeline) Start() error {
	p.setState(StateOpening)
	log.Printf("[pipeline] config: sink=%s rate=%.0f channels=%d block=%.3fs buffer=%.1fs",
		p.cfg.Sink, p.cfg.OutputRate, p.cfg.OutputChannels, p.cfg.BlockSize, p.cfg.BufferSize)

	p.setState(StateHandshaking)
	if err := p.source.StartAcquisition(); err != nil {
		p.setState(StateIdle)
		return fmt.Errorf("pipeline: handshake failed: %w", err)
	}

	p.setState(StateWarmup)
	for i := 0; i < warmupFrames; i++ {
		if _, err := p.source.PullFrame(); err != nil {
			p.setState(StateIdle)
			return fmt.Errorf("pipeline: warmup failed: %w", err)
		}
	}

	p.keepRunning.Store(true)

	if p.audio != nil {
		p.setState(StatePriming)
		if err := p.audio.Start(p.openStream); err != nil {
			p.keepRunning.Store(false)
			p.setState(StateIdle)
			return fmt.Errorf("pipeline: audio start failed: %w", err)
		}
		if err := p.primeInputBuffer(); err != nil {
			p.keepRunning.Store(false)
			p.audio.Stop()
			p.setState(StateIdle)
			return fmt.Errorf("pipeline: priming failed: %w", err)
		}

		p.ratioCtl.Reset()
		p.resampler.SetRatio(p.ratioCtl.Nominal())
		p.audio.EnableProcessing(true)
	}

	p.setState(StateRunning)
	p.wg.Add(1)
	go p.producerLoop()
	return nil
}

// primeInputBuffer pulls and filters frames until the input buffer is at
// least half full, fanning each sample out to the non-audio sinks along the
// way exactly like steady-state operation does.
func (p *Pipeline) primeInputBuffer() error {
	target := p.inWriter.Capacity() / 2
	for p.inReader.Fill() < target {
		sample, err := p.source.PullFrame()
		if err != nil {
			return err
		}
		p.fanOut(sample)
		p.feedAudioPath(sample)
	}
	return nil
}

func (p *Pipeline) producerLoop() {
	defer p.wg.Done()
	for p.keepRunning.Load() {
		sample, err := p.source.PullFrame()
		if err != nil {
			if p.keepRunning.Load() {
				log.Printf("[pipeline] pull frame failed: %v", err)
			}
			p.keepRunning.Store(false)
			return
		}
		p.fanOut(sample)
		p.feedAudioPath(sample)
	}
}

func (p *Pipeline) fanOut(sample frame.Sample) {
	for _, sink := range p.sampleSinks {
		if err := sink.Write(sample); err != nil {
			log.Printf("[pipeline] sink write failed: %v", err)
		}
	}
}

func (p *Pipeline) feedAudioPath(sample frame.Sample) {
	if p.audio == nil {
		return
	}
	eeg := sample.EEG()
	p.filter.Process(eeg)
	for c := 0; c < p.audioChannels; c++ {
		p.frameScratch[c] = float32(eeg[c])
	}
	p.inWriter.Write(p.frameScratch)
}

// Stop tears the pipeline down in reverse startup order: stop the audio
// stream, wait for the producer goroutine, send the stop-acquisition
// command, close the serial port, close the sinks.
func (p *Pipeline) Stop() {
	if p.State() == StateIdle {
		return
	}
	p.setState(StateStopping)
	p.keepRunning.Store(false)

	if p.audio != nil {
		p.audio.Stop()
	}
	p.wg.Wait()

	if err := p.source.StopAcquisition(); err != nil {
		log.Printf("[pipeline] stop acquisition: %v", err)
	}
	if err := p.source.Close(); err != nil {
		log.Printf("[pipeline] close source: %v", err)
	}
	for _, sink := range p.sampleSinks {
		if err := sink.Close(); err != nil {
			log.Printf("[pipeline] close sink: %v", err)
		}
	}

	if dropped := p.source.DroppedBytes(); dropped > 0 {
		log.Printf("[pipeline] dropped %d byte(s) resynchronising during session", dropped)
	}
	p.setState(StateIdle)
}
