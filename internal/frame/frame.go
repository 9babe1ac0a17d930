// Package frame decodes the 45-byte wire format of the headset's serial
// protocol into a Sample vector. Decode is a pure function: same bytes in,
// same floats out, every time.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is the fixed length of one raw device frame in bytes.
const Size = 45

// EEGChannels is the number of EEG ADC channels in a Sample.
const EEGChannels = 8

// Channels is the total width of a decoded Sample vector.
const Channels = EEGChannels + 3 + 3 + 1 + 1 // eeg + accel + gyro + battery + counter

// ChannelLabels names each element of a Sample, in order.
var ChannelLabels = [Channels]string{
	"eeg1", "eeg2", "eeg3", "eeg4", "eeg5", "eeg6", "eeg7", "eeg8",
	"accelX", "accelY", "accelZ",
	"gyroX", "gyroY", "gyroZ",
	"battery", "counter",
}

// ChannelUnits names the physical unit of each element of a Sample, in order.
var ChannelUnits = [Channels]string{
	"uV", "uV", "uV", "uV", "uV", "uV", "uV", "uV",
	"g", "g", "g",
	"deg/s", "deg/s", "deg/s",
	"percent", "integer",
}

// ChannelTypes names the sensor category of each element of a Sample, in
// order, matching the stream-metadata convention consumers expect.
var ChannelTypes = [Channels]string{
	"EEG", "EEG", "EEG", "EEG", "EEG", "EEG", "EEG", "EEG",
	"ACCEL", "ACCEL", "ACCEL",
	"GYRO", "GYRO", "GYRO",
	"BATTERY", "COUNTER",
}

// eegGainNumerator and eegGainDenominator convert a raw 24-bit ADC count to
// microvolts: uV = raw * eegGainNumerator / eegGainDenominator.
const (
	eegGainNumerator   = 4500000
	eegGainDenominator = 50331642
)

const (
	accelScale = 4096.0
	gyroScale  = 32.8
)

// ErrFraming is returned when the first two bytes are not the expected start
// sequence 0xC0 0x00.
var ErrFraming = errors.New("frame: bad start sequence")

// Sample is one decoded device reading: 8 EEG channels in µV, 3 accelerometer
// axes in g, 3 gyroscope axes in deg/s, battery percent, and the device's
// running packet counter (carried as a float for uniformity with the rest of
// the vector).
type Sample [Channels]float64

// Decode parses exactly Size raw bytes into a Sample. It returns ErrFraming
// if raw[0:2] is not the 0xC0 0x00 start sequence; Decode does not attempt to
// resynchronise — that is the Serial Source's job.
func Decode(raw []byte) (Sample, error) {
	var s Sample
	if len(raw) != Size {
		return s, fmt.Errorf("frame: got %d bytes, want %d", len(raw), Size)
	}
	if raw[0] != 0xC0 || raw[1] != 0x00 {
		return s, ErrFraming
	}

	s[14] = float64(raw[2]&0x0F) * 100 / 15

	for c := 0; c < EEGChannels; c++ {
		off := 3 + 3*c
		raw24 := uint32(raw[off])<<16 | uint32(raw[off+1])<<8 | uint32(raw[off+2])
		if raw24&0x00800000 != 0 {
			raw24 |= 0xFF000000
		}
		s[c] = float64(int32(raw24)) * eegGainNumerator / eegGainDenominator
	}

	for c := 0; c < 3; c++ {
		off := 27 + 2*c
		v := int16(binary.LittleEndian.Uint16(raw[off : off+2]))
		s[EEGChannels+c] = float64(v) / accelScale
	}

	for c := 0; c < 3; c++ {
		off := 33 + 2*c
		v := int16(binary.LittleEndian.Uint16(raw[off : off+2]))
		s[EEGChannels+3+c] = float64(v) / gyroScale
	}

	s[15] = float64(binary.LittleEndian.Uint32(raw[39:43]))

	return s, nil
}

// EEG returns the first EEGChannels elements of the sample, the slice the
// audio pipeline filters and scales.
func (s *Sample) EEG() []float64 { return s[:EEGChannels] }
