package frame

import (
	"encoding/binary"
	"math"
	"testing"

	"pgregory.net/rapid"
)

func makeRawFrame(t interface{ Helper() }) []byte {
	t.Helper()
	raw := make([]byte, Size)
	raw[0] = 0xC0
	raw[1] = 0x00
	return raw
}

// S1 — canonical decode: EEG channel 0 = 1 LSB, everything else zero,
// battery nibble = 0x0F (100%), counter = 0.
func TestDecodeCanonicalFrame(t *testing.T) {
	raw := makeRawFrame(t)
	raw[2] = 0x0F
	raw[3], raw[4], raw[5] = 0x00, 0x00, 0x01 // eeg1 raw = 1

	s, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := 1 * eegGainNumerator / float64(eegGainDenominator)
	if math.Abs(s[0]-want) > 1e-9 {
		t.Errorf("sample[0] = %v, want %v", s[0], want)
	}
	for i := 1; i < 14; i++ {
		if s[i] != 0 {
			t.Errorf("sample[%d] = %v, want 0", i, s[i])
		}
	}
	if s[14] != 100.0 {
		t.Errorf("battery = %v, want 100.0", s[14])
	}
	if s[15] != 0 {
		t.Errorf("counter = %v, want 0", s[15])
	}
}

// S2 — sign extension: EEG channel 0 bytes = FF FF FF decodes to raw -1.
func TestDecodeSignExtension(t *testing.T) {
	raw := makeRawFrame(t)
	raw[3], raw[4], raw[5] = 0xFF, 0xFF, 0xFF

	s, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := -1 * eegGainNumerator / float64(eegGainDenominator)
	if math.Abs(s[0]-want) > 1e-9 {
		t.Errorf("sample[0] = %v, want %v", s[0], want)
	}
}

func TestDecodeBadStartSequence(t *testing.T) {
	raw := makeRawFrame(t)
	raw[0] = 0x00
	if _, err := Decode(raw); err != ErrFraming {
		t.Fatalf("Decode: err = %v, want ErrFraming", err)
	}
}

func TestDecodeWrongLength(t *testing.T) {
	if _, err := Decode(make([]byte, 10)); err == nil {
		t.Fatal("Decode: expected error on short input")
	}
}

// Invariant 2 — extremes: 0x800000 is the most negative raw value, 0x7FFFFF
// the most positive.
func TestDecodeEEGExtremes(t *testing.T) {
	neg := makeRawFrame(t)
	neg[3], neg[4], neg[5] = 0x80, 0x00, 0x00
	sNeg, err := Decode(neg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	pos := makeRawFrame(t)
	pos[3], pos[4], pos[5] = 0x7F, 0xFF, 0xFF
	sPos, err := Decode(pos)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if sNeg[0] >= 0 {
		t.Errorf("0x800000 decoded to non-negative value %v", sNeg[0])
	}
	if sPos[0] <= 0 {
		t.Errorf("0x7FFFFF decoded to non-positive value %v", sPos[0])
	}
	if sNeg[0] >= sPos[0] {
		t.Errorf("most-negative raw (%v) not less than most-positive raw (%v)", sNeg[0], sPos[0])
	}
}

// Invariant 1 — determinism: identical bytes decode to bit-identical floats.
func TestDecodeDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.SliceOfN(rapid.Byte(), Size, Size).Draw(t, "raw")
		raw[0], raw[1] = 0xC0, 0x00

		a, errA := Decode(raw)
		b, errB := Decode(raw)
		if errA != errB {
			t.Fatalf("errors differ across identical calls: %v vs %v", errA, errB)
		}
		if a != b {
			t.Fatalf("decoded samples differ across identical calls: %v vs %v", a, b)
		}
	})
}

// Invariant 3 — byte ordering, checked on accelX: incrementing the first
// byte of the field (raw[27]) changes the decoded value by exactly one LSB
// (1/4096 g), which holds only if that byte is the low-order one.
func TestDecodeLittleEndianOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := rapid.IntRange(0, 254).Draw(t, "lo")
		raw := makeRawFrame(t)
		binary.LittleEndian.PutUint16(raw[27:29], uint16(lo))
		sLow, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}

		binary.LittleEndian.PutUint16(raw[27:29], uint16(lo)+1)
		sHigh, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}

		gotDelta := math.Abs(sHigh[EEGChannels] - sLow[EEGChannels])
		wantDelta := 1.0 / accelScale
		if math.Abs(gotDelta-wantDelta) > 1e-9 {
			t.Fatalf("incrementing low byte changed accelX by %v, want %v (little-endian)", gotDelta, wantDelta)
		}
	})
}
