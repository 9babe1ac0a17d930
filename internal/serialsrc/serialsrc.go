// Package serialsrc implements the Serial Source: it owns the virtual serial
// port to the headset, performs the start/stop handshake, and pulls decoded
// frames at the device's nominal 250 Hz rate.
package serialsrc

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"eegaudio/internal/frame"
)

const (
	baudRate = 115200

	handshakeTimeout = 5 * time.Second

	// maxResyncScan bounds how many bytes PullFrame will discard while
	// hunting for the next 0xC0 0x00 start sequence before giving up.
	maxResyncScan = 8 * frame.Size
)

var (
	startCmd = [3]byte{0x61, 0x7C, 0x87}
	stopCmd  = [3]byte{0x63, 0x5C, 0xC5}
	wantAck  = [3]byte{0x00, 0x00, 0x00}
)

// Port is the subset of go.bug.st/serial.Port's methods the Source needs.
// Narrowing to an interface lets tests substitute a fake transport.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// openPort is overridden in tests to avoid touching real hardware.
var openPort = func(portPath string) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(portPath, mode)
}

// Source pulls decoded samples from one device over one serial port for the
// duration of a single acquisition session. Not safe for concurrent PullFrame
// calls; it is used from a single producer goroutine.
type Source struct {
	port     Port
	portPath string

	scratch      [1]byte
	droppedBytes atomic.Uint64
}

// Open configures and opens the serial port at 115200 8N1, no flow control.
func Open(portPath string) (*Source, error) {
	port, err := openPort(portPath)
	if err != nil {
		return nil, fmt.Errorf("serialsrc: failed to open %s: %w", portPath, err)
	}
	if err := port.SetReadTimeout(handshakeTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialsrc: failed to set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialsrc: failed to flush input buffer: %w", err)
	}
	log.Printf("[serial] opened %s at %d baud", portPath, baudRate)
	return &Source{port: port, portPath: portPath}, nil
}

// StartAcquisition sends the start-streaming command and verifies the
// 3-byte ack within the handshake timeout.
func (s *Source) StartAcquisition() error {
	if err := s.writeCommand(startCmd); err != nil {
		return fmt.Errorf("serialsrc: start command failed: %w", err)
	}
	log.Printf("[serial] acquisition started on %s", s.portPath)
	return nil
}

// StopAcquisition sends the stop-streaming command and verifies its ack.
func (s *Source) StopAcquisition() error {
	if err := s.writeCommand(stopCmd); err != nil {
		return fmt.Errorf("serialsrc: stop command failed: %w", err)
	}
	log.Printf("[serial] acquisition stopped on %s", s.portPath)
	return nil
}

func (s *Source) writeCommand(cmd [3]byte) error {
	if _, err := s.port.Write(cmd[:]); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	var ack [3]byte
	if err := s.readFull(ack[:]); err != nil {
		return fmt.Errorf("ack read: %w", err)
	}
	if ack != wantAck {
		return fmt.Errorf("unexpected ack %v, want %v", ack, wantAck)
	}
	return nil
}

// Close releases the underlying serial port. It does not send the stop
// command; callers should StopAcquisition first.
func (s *Source) Close() error {
	return s.port.Close()
}

// DroppedBytes returns the running count of bytes discarded while
// resynchronising after a framing error.
func (s *Source) DroppedBytes() uint64 {
	return s.droppedBytes.Load()
}

// PullFrame blocks for one complete 45-byte device frame and decodes it. If
// the expected start sequence does not immediately follow the previous
// frame, PullFrame resynchronises by discarding bytes until it sees 0xC0
// 0x00 again, counting every dropped byte, bounded by maxResyncScan.
func (s *Source) PullFrame() (frame.Sample, error) {
	raw, err := s.readFrame()
	if err != nil {
		return frame.Sample{}, err
	}
	sample, err := frame.Decode(raw)
	if err != nil {
		return frame.Sample{}, fmt.Errorf("serialsrc: decode failed after resync: %w", err)
	}
	return sample, nil
}

func (s *Source) readFrame() ([]byte, error) {
	var window [2]byte
	if err := s.readFull(window[:]); err != nil {
		return nil, fmt.Errorf("serialsrc: read failed: %w", err)
	}

	scanned := 0
	for window[0] != 0xC0 || window[1] != 0x00 {
		s.droppedBytes.Add(1)
		scanned++
		if scanned > maxResyncScan {
			return nil, fmt.Errorf("serialsrc: framing lost, scanned %d bytes without finding start sequence", scanned)
		}
		next, err := s.readByte()
		if err != nil {
			return nil, fmt.Errorf("serialsrc: read failed: %w", err)
		}
		window[0], window[1] = window[1], next
	}
	if scanned > 0 {
		log.Printf("[serial] resynced after dropping %d byte(s), total dropped=%d", scanned, s.droppedBytes.Load())
	}

	raw := make([]byte, frame.Size)
	raw[0], raw[1] = window[0], window[1]
	if err := s.readFull(raw[2:]); err != nil {
		return nil, fmt.Errorf("serialsrc: read failed: %w", err)
	}
	return raw, nil
}

func (s *Source) readByte() (byte, error) {
	n, err := s.port.Read(s.scratch[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("read timeout")
	}
	return s.scratch[0], nil
}

func (s *Source) readFull(buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := s.port.Read(buf[read:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("read timeout")
		}
		read += n
	}
	return nil
}

// DiscoverPort lists available serial ports and prefers one whose name
// contains "UN" (the vendor's naming convention), falling back to the
// explicitly configured path if no such port is found or listing fails.
func DiscoverPort(configuredPath string) (string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		if configuredPath != "" {
			return configuredPath, nil
		}
		return "", fmt.Errorf("serialsrc: failed to list ports: %w", err)
	}
	for _, p := range ports {
		if strings.Contains(strings.ToUpper(p), "UN") {
			return p, nil
		}
	}
	if configuredPath != "" {
		return configuredPath, nil
	}
	if len(ports) > 0 {
		return ports[0], nil
	}
	return "", fmt.Errorf("serialsrc: no serial ports found")
}
