package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordonklaus/portaudio"

	"eegaudio/internal/audioout"
	"eegaudio/internal/bussink"
	"eegaudio/internal/config"
	"eegaudio/internal/serialsrc"
	"eegaudio/internal/textsink"
)

func main() {
	cfg := LoadConfig()

	port := flag.String("port", cfg.SerialPort, "fallback serial port path; a port whose name contains \"UN\" is preferred (empty to auto-discover)")
	sink := flag.String("sink", string(cfg.Sink), "sink to drive: audio, text, or bus")
	rate := flag.Float64("rate", cfg.OutputRate, "audio output sample rate in Hz")
	channels := flag.Int("channels", cfg.OutputChannels, "audio output channel count (<= 8)")
	blockSize := flag.Float64("block-size", cfg.BlockSize, "audio block size in seconds")
	bufferSize := flag.Float64("buffer-size", cfg.BufferSize, "ring buffer size in seconds")
	textOutput := flag.String("text-output", cfg.TextOutputPath, "text sink output path (empty for stdout)")
	busAddr := flag.String("bus-addr", cfg.BusListenAddr, "listen address for the streaming-bus sink")
	flag.Parse()

	cfg.SerialPort = *port
	cfg.Sink = config.Sink(*sink)
	cfg.OutputRate = *rate
	cfg.OutputChannels = *channels
	cfg.BlockSize = *blockSize
	cfg.BufferSize = *bufferSize
	cfg.TextOutputPath = *textOutput
	cfg.BusListenAddr = *busAddr

	if err := run(cfg); err != nil {
		log.Fatalf("[main] %v", err)
	}
}

func run(cfg config.Config) error {
	portPath, err := serialsrc.DiscoverPort(cfg.SerialPort)
	if err != nil {
		return fmt.Errorf("discover serial port: %w", err)
	}
	log.Printf("[main] using serial port %s", portPath)

	source, err := serialsrc.Open(portPath)
	if err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}

	cfg.SerialPort = portPath
	cfg.SavedPorts = addSavedPort(cfg.SavedPorts, portPath)

	var sampleSinks []SampleSink
	var busServer *http.Server

	switch cfg.Sink {
	case config.SinkText:
		sink, err := textsink.Open(cfg.TextOutputPath)
		if err != nil {
			source.Close()
			return fmt.Errorf("open text sink: %w", err)
		}
		sampleSinks = append(sampleSinks, sink)
	case config.SinkBus:
		hub := bussink.New("eegaudio")
		sampleSinks = append(sampleSinks, hub)
		busServer = &http.Server{Addr: cfg.BusListenAddr, Handler: hub}
		go func() {
			if err := busServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[main] bus sink server: %v", err)
			}
		}()
	case config.SinkAudio:
		// handled below via openStream
	default:
		source.Close()
		return fmt.Errorf("unknown sink %q", cfg.Sink)
	}

	var openStream func(buf []float32) (audioout.Stream, error)
	if cfg.Sink == config.SinkAudio {
		if err := portaudio.Initialize(); err != nil {
			source.Close()
			return fmt.Errorf("initialize portaudio: %w", err)
		}
		defer portaudio.Terminate()

		device, err := outputDevice(cfg.OutputDeviceID)
		if err != nil {
			source.Close()
			return fmt.Errorf("select output device: %w", err)
		}
		openStream = func(buf []float32) (audioout.Stream, error) {
			return audioout.OpenDeviceStream(device, cfg.OutputChannels, cfg.OutputRate, buf)
		}
	}

	pipeline := NewPipeline(cfg, source, sampleSinks, openStream)
	if err := pipeline.Start(); err != nil {
		source.Close()
		return fmt.Errorf("start pipeline: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("[main] shutdown signal received")
	pipeline.Stop()
	if busServer != nil {
		busServer.Close()
	}
	if err := SaveConfig(cfg); err != nil {
		log.Printf("[main] save config: %v", err)
	}
	return nil
}

// addSavedPort returns ports with path appended, unless it's already present.
func addSavedPort(ports []string, path string) []string {
	for _, p := range ports {
		if p == path {
			return ports
		}
	}
	return append(ports, path)
}

func outputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID < 0 {
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	seen := 0
	for _, d := range devices {
		if d.MaxOutputChannels == 0 {
			continue
		}
		if seen == deviceID {
			return d, nil
		}
		seen++
	}
	return nil, fmt.Errorf("no output device with index %d", deviceID)
}
