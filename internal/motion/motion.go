package motion

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Wire format: 3 x little-endian int16 (X, Y, Z), same layout for both
// accelerometer and gyroscope characteristics.

const (
	PayloadLen = 6

	// AccelLSBPerG is the accelerometer sensitivity at the sensor's +/-2g range.
	AccelLSBPerG = 16384.0
	// GyroLSBPerDPS is the gyroscope sensitivity at the sensor's +/-250 deg/s range.
	GyroLSBPerDPS = 131.0

	// MountThresholdLSB is how far (in raw LSB) the dominant gravity axis must
	// exceed the other two before a mount class is assigned.
	MountThresholdLSB = 1000
)

var (
	ErrPayloadLength = errors.New("motion: payload length")
	ErrSaturated     = errors.New("motion: axis saturated")
)

type Kind int

const (
	Accelerometer Kind = iota
	Gyroscope
)

func (k Kind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case Gyroscope:
		return "gyroscope"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Raw is the undecorated int16 triplet exactly as it appeared on the wire.
type Raw struct {
	X, Y, Z int16
}

func (r Raw) saturated() bool {
	return r.X == math.MinInt16 || r.Y == math.MinInt16 || r.Z == math.MinInt16
}

// Sample is a decoded reading. Accelerometer axes are in g, gyroscope in deg/s.
type Sample struct {
	Kind Kind
	Time time.Time
	Raw  Raw

	X, Y, Z float64
}

// Unpack splits a payload into its int16 triplet without scaling.
func Unpack(payload []byte) (Raw, error) {
	if len(payload) != PayloadLen {
		return Raw{}, fmt.Errorf("%w: got %d bytes want %d", ErrPayloadLength, len(payload), PayloadLen)
	}
	return Raw{
		X: int16(binary.LittleEndian.Uint16(payload[0:2])),
		Y: int16(binary.LittleEndian.Uint16(payload[2:4])),
		Z: int16(binary.LittleEndian.Uint16(payload[4:6])),
	}, nil
}

// Encode is the inverse of Unpack.
func Encode(r Raw) []byte {
	b := make([]byte, PayloadLen)
	binary.LittleEndian.PutUint16(b[0:2], uint16(r.X))
	binary.LittleEndian.PutUint16(b[2:4], uint16(r.Y))
	binary.LittleEndian.PutUint16(b[4:6], uint16(r.Z))
	return b
}

// Quantize converts physical units (g or deg/s, by kind) back to raw counts,
// clamping to the int16 range. MinInt16 is never produced.
func Quantize(kind Kind, x, y, z float64) Raw {
	scale := AccelLSBPerG
	if kind == Gyroscope {
		scale = GyroLSBPerDPS
	}
	return Raw{X: toLSB(x, scale), Y: toLSB(y, scale), Z: toLSB(z, scale)}
}

// DecodeAccelerometer decodes an accelerometer payload into g.
// On any error the returned sample is the zero Sample.
func DecodeAccelerometer(payload []byte, at time.Time) (Sample, error) {
	return decode(Accelerometer, payload, at, AccelLSBPerG)
}

// DecodeGyroscope decodes a gyroscope payload into deg/s.
// On any error the returned sample is the zero Sample.
func DecodeGyroscope(payload []byte, at time.Time) (Sample, error) {
	return decode(Gyroscope, payload, at, GyroLSBPerDPS)
}

// Decode dispatches on kind.
func Decode(kind Kind, payload []byte, at time.Time) (Sample, error) {
	switch kind {
	case Accelerometer:
		return DecodeAccelerometer(payload, at)
	case Gyroscope:
		return DecodeGyroscope(payload, at)
	default:
		return Sample{}, fmt.Errorf("motion: unknown sample kind %d", int(kind))
	}
}

func decode(kind Kind, payload []byte, at time.Time, lsbPerUnit float64) (Sample, error) {
	raw, err := Unpack(payload)
	if err != nil {
		return Sample{}, fmt.Errorf("%s: %w", kind, err)
	}
	if raw.saturated() {
		return Sample{}, fmt.Errorf("%s: %w (raw=%d,%d,%d)", kind, ErrSaturated, raw.X, raw.Y, raw.Z)
	}
	return Sample{
		Kind: kind,
		Time: at,
		Raw:  raw,
		X:    float64(raw.X) / lsbPerUnit,
		Y:    float64(raw.Y) / lsbPerUnit,
		Z:    float64(raw.Z) / lsbPerUnit,
	}, nil
}
