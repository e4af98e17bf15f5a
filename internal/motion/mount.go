package motion

import (
	"fmt"
	"math"
	"strings"
)

// Mount is how the sensor module sits relative to gravity.
type Mount int

const (
	Unknown Mount = iota
	StandingUp
	UpsideDown
	HorizontalLightBottom
	HorizontalLightTop
	FlatOnBack
	FlatOnFace
)

var mountNames = map[Mount]string{
	Unknown:               "unknown",
	StandingUp:            "standing_up",
	UpsideDown:            "upside_down",
	HorizontalLightBottom: "horizontal_light_bottom",
	HorizontalLightTop:    "horizontal_light_top",
	FlatOnBack:            "flat_on_back",
	FlatOnFace:            "flat_on_face",
}

func (m Mount) String() string {
	if s, ok := mountNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseMount accepts the String form, case-insensitive, with '-' or '_'.
func ParseMount(s string) (Mount, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, m := range Mounts() {
		if mountNames[m] == norm {
			return m, nil
		}
	}
	return Unknown, fmt.Errorf("unknown mount %q", s)
}

// Mounts lists the six classifiable mounts (Unknown excluded).
func Mounts() []Mount {
	return []Mount{StandingUp, UpsideDown, HorizontalLightBottom, HorizontalLightTop, FlatOnBack, FlatOnFace}
}

// Classify picks the mount from a raw accelerometer triplet. The axis with the
// largest magnitude wins only when it beats both other axes by more than
// MountThresholdLSB.
func Classify(r Raw) Mount {
	// int16 magnitudes overflow at MinInt16, widen first.
	x, y, z := int(r.X), int(r.Y), int(r.Z)
	ax, ay, az := abs(x), abs(y), abs(z)

	switch {
	case ax-ay > MountThresholdLSB && ax-az > MountThresholdLSB:
		if x > 0 {
			return HorizontalLightBottom
		}
		return HorizontalLightTop
	case ay-ax > MountThresholdLSB && ay-az > MountThresholdLSB:
		if y > 0 {
			return StandingUp
		}
		return UpsideDown
	case az-ax > MountThresholdLSB && az-ay > MountThresholdLSB:
		if z > 0 {
			return FlatOnBack
		}
		return FlatOnFace
	}
	return Unknown
}

// ClassifyG classifies a gravity vector given in g.
func ClassifyG(x, y, z float64) Mount {
	return Classify(Quantize(Accelerometer, x, y, z))
}

func toLSB(u, lsbPerUnit float64) int16 {
	v := math.Round(u * lsbPerUnit)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16+1 {
		return math.MinInt16 + 1
	}
	return int16(v)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (m Mount) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mount) UnmarshalText(b []byte) error {
	if strings.EqualFold(strings.TrimSpace(string(b)), "unknown") {
		*m = Unknown
		return nil
	}
	v, err := ParseMount(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
