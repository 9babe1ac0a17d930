package main

import "eegaudio/internal/frame"

// SerialSource abstracts the headset transport so Pipeline can be tested
// against a fake acquisition source instead of real hardware.
type SerialSource interface {
	StartAcquisition() error
	StopAcquisition() error
	PullFrame() (frame.Sample, error)
	Close() error
	DroppedBytes() uint64
}

// SampleSink receives decoded samples directly from the Frame Decoder, at
// the source's true rate — the text and bus sinks both implement this,
// bypassing the audio path's filter/scaler/ring buffers entirely.
type SampleSink interface {
	Write(sample frame.Sample) error
	Close() error
}
