package motion

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpack_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		buf := make([]byte, PayloadLen)
		rng.Read(buf)
		raw, err := Unpack(buf)
		require.NoError(t, err)
		assert.Equal(t, buf, Encode(raw))
	}
}

func TestUnpack_LittleEndian(t *testing.T) {
	raw, err := Unpack([]byte{0x00, 0x40, 0xFF, 0xFF, 0x01, 0x80})
	require.NoError(t, err)
	assert.Equal(t, Raw{X: 16384, Y: -1, Z: -32767}, raw)
}

func TestUnpack_RejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 1, 5, 7, 12} {
		_, err := Unpack(make([]byte, n))
		assert.ErrorIs(t, err, ErrPayloadLength, "len=%d", n)
	}
}

func TestDecodeAccelerometer_Scales(t *testing.T) {
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s, err := DecodeAccelerometer(Encode(Raw{X: 8192, Y: -16384, Z: 0}), at)
	require.NoError(t, err)
	assert.Equal(t, Accelerometer, s.Kind)
	assert.Equal(t, at, s.Time)
	assert.InDelta(t, 0.5, s.X, 1e-12)
	assert.InDelta(t, -1.0, s.Y, 1e-12)
	assert.InDelta(t, 0.0, s.Z, 1e-12)
}

func TestDecodeGyroscope_Scales(t *testing.T) {
	s, err := DecodeGyroscope(Encode(Raw{X: 131, Y: -262, Z: 1310}), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, Gyroscope, s.Kind)
	assert.InDelta(t, 1.0, s.X, 1e-12)
	assert.InDelta(t, -2.0, s.Y, 1e-12)
	assert.InDelta(t, 10.0, s.Z, 1e-12)
}

func TestDecode_ShortPayloadReturnsZeroSample(t *testing.T) {
	s, err := DecodeAccelerometer([]byte{1, 2, 3}, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPayloadLength))
	assert.Equal(t, Sample{}, s)
}

func TestDecode_SaturationDiscards(t *testing.T) {
	cases := []Raw{
		{X: math.MinInt16, Y: 0, Z: 16384},
		{X: 0, Y: math.MinInt16, Z: 16384},
		{X: 0, Y: 0, Z: math.MinInt16},
	}
	for _, raw := range cases {
		for _, kind := range []Kind{Accelerometer, Gyroscope} {
			s, err := Decode(kind, Encode(raw), time.Now())
			assert.ErrorIs(t, err, ErrSaturated, "%s %+v", kind, raw)
			assert.Equal(t, Sample{}, s)
		}
	}
}

func TestDecode_MaxInt16IsNotSaturation(t *testing.T) {
	_, err := DecodeAccelerometer(Encode(Raw{X: math.MaxInt16}), time.Now())
	assert.NoError(t, err)
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode(Kind(9), make([]byte, PayloadLen), time.Now())
	assert.Error(t, err)
}

func TestClassify_DominantAxis(t *testing.T) {
	cases := []struct {
		raw  Raw
		want Mount
	}{
		{Raw{X: 100, Y: 16000, Z: -200}, StandingUp},
		{Raw{X: 100, Y: -16000, Z: -200}, UpsideDown},
		{Raw{X: 16000, Y: 300, Z: 10}, HorizontalLightBottom},
		{Raw{X: -16000, Y: 300, Z: 10}, HorizontalLightTop},
		{Raw{X: 0, Y: 0, Z: 16384}, FlatOnBack},
		{Raw{X: 0, Y: 0, Z: -16384}, FlatOnFace},
		// Dominant but within the threshold of another axis.
		{Raw{X: 9000, Y: 8500, Z: 0}, Unknown},
		// Nothing above the noise floor.
		{Raw{X: 500, Y: 0, Z: 0}, Unknown},
		{Raw{}, Unknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.raw), "%+v", tc.raw)
	}
}

func TestClassify_ThresholdBoundary(t *testing.T) {
	assert.Equal(t, Unknown, Classify(Raw{Y: MountThresholdLSB}))
	assert.Equal(t, StandingUp, Classify(Raw{Y: MountThresholdLSB + 1}))
	assert.Equal(t, UpsideDown, Classify(Raw{Y: -(MountThresholdLSB + 1)}))
}

func TestClassifyG_SignsSelectClass(t *testing.T) {
	assert.Equal(t, StandingUp, ClassifyG(0.05, 0.99, 0.1))
	assert.Equal(t, UpsideDown, ClassifyG(0.05, -0.99, 0.1))
	assert.Equal(t, HorizontalLightBottom, ClassifyG(0.99, 0.05, 0.1))
	assert.Equal(t, HorizontalLightTop, ClassifyG(-0.99, 0.05, 0.1))
	assert.Equal(t, FlatOnBack, ClassifyG(0.05, 0.1, 0.99))
	assert.Equal(t, FlatOnFace, ClassifyG(0.05, 0.1, -0.99))
	assert.Equal(t, Unknown, ClassifyG(0.7, 0.7, 0))
}

func TestMountString(t *testing.T) {
	assert.Equal(t, "standing_up", StandingUp.String())
	assert.Equal(t, "unknown", Mount(42).String())
	assert.Len(t, Mounts(), 6)
}

func TestQuantize_ClampsAndRoundTrips(t *testing.T) {
	r := Quantize(Accelerometer, 0.5, -1, 5)
	assert.Equal(t, Raw{X: 8192, Y: -16384, Z: math.MaxInt16}, r)

	r = Quantize(Gyroscope, 1, -300, 0)
	assert.Equal(t, Raw{X: 131, Y: math.MinInt16 + 1, Z: 0}, r)

	s, err := DecodeGyroscope(Encode(Quantize(Gyroscope, 10, 0, -2.5)), time.Time{})
	require.NoError(t, err)
	assert.InDelta(t, 10, s.X, 1/GyroLSBPerDPS)
	assert.InDelta(t, -2.5, s.Z, 1/GyroLSBPerDPS)
}

func TestParseMount(t *testing.T) {
	for _, m := range Mounts() {
		got, err := ParseMount(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseMount(" Horizontal-Light-Top ")
	require.NoError(t, err)
	assert.Equal(t, HorizontalLightTop, got)

	_, err = ParseMount("unknown")
	assert.Error(t, err)
	_, err = ParseMount("sideways")
	assert.Error(t, err)
}

func TestMount_TextRoundTrip(t *testing.T) {
	for _, m := range append(Mounts(), Unknown) {
		b, err := m.MarshalText()
		require.NoError(t, err)
		var got Mount
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, m, got)
	}
	var m Mount
	assert.Error(t, m.UnmarshalText([]byte("sideways")))
}
