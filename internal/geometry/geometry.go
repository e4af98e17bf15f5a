package geometry

import (
	"fmt"
	"math"

	"levelsense/internal/orientation"
)

// The trailer footprint is split into a fixed grid; the module's position is
// given as a tile on it.
const (
	GridRows    = 22
	GridColumns = 10

	// TongueAllowanceInches is added to the row distance to reach the jack.
	TongueAllowanceInches = 48.0
)

// Trailer holds the user-entered geometry. Lengths are in inches.
type Trailer struct {
	LengthToJack float64 `json:"length_to_jack_in" yaml:"length_to_jack_in"`
	Width        float64 `json:"width_in" yaml:"width_in"`
	Row          int     `json:"row" yaml:"row"`
	Column       int     `json:"column" yaml:"column"`
}

func (t Trailer) Validate() error {
	if !(t.LengthToJack > 0) {
		return fmt.Errorf("length_to_jack_in must be > 0")
	}
	if !(t.Width > 0) {
		return fmt.Errorf("width_in must be > 0")
	}
	if t.Row < 0 || t.Row >= GridRows {
		return fmt.Errorf("row must be in [0,%d]", GridRows-1)
	}
	if t.Column < 0 || t.Column >= GridColumns {
		return fmt.Errorf("column must be in [0,%d]", GridColumns-1)
	}
	return nil
}

func (t Trailer) TileLength() float64 { return t.LengthToJack / GridRows }

func (t Trailer) TileWidth() float64 { return t.Width / GridColumns }

func (t Trailer) DistanceFromJack() float64 {
	return float64(t.Row)*t.TileLength() + TongueAllowanceInches
}

func (t Trailer) DistanceFromRightWheel() float64 {
	return float64(t.Column) * t.TileWidth()
}

func (t Trailer) DistanceFromLeftWheel() float64 {
	return t.Width - t.DistanceFromRightWheel()
}

// EffectiveWidth is the lever arm used for the side term.
func (t Trailer) EffectiveWidth() float64 {
	return math.Abs(t.DistanceFromLeftWheel()-t.DistanceFromRightWheel()) / 2
}

// Offsets is the level result in inches.
type Offsets struct {
	FrontHeight float64 `json:"front_in"`
	SideHeight  float64 `json:"side_in"`
}

func (o Offsets) Sub(b Offsets) Offsets {
	return Offsets{FrontHeight: o.FrontHeight - b.FrontHeight, SideHeight: o.SideHeight - b.SideHeight}
}

// Compute converts a fused pitch/roll (radians) into height offsets. Side
// installations measure trailer length tilt as roll, so the roles swap and the
// full LengthToJack is the lever arm for the front term.
func Compute(t Trailer, inst orientation.Installation, pitchRad, rollRad float64) Offsets {
	switch inst {
	case orientation.Rear:
		return Offsets{
			FrontHeight: -t.DistanceFromJack() * math.Tan(pitchRad),
			SideHeight:  t.EffectiveWidth() * math.Tan(rollRad),
		}
	case orientation.DriversSide:
		return Offsets{
			FrontHeight: t.LengthToJack * math.Tan(rollRad),
			SideHeight:  t.EffectiveWidth() * math.Tan(pitchRad),
		}
	case orientation.PassengersSide:
		return Offsets{
			FrontHeight: -t.LengthToJack * math.Tan(rollRad),
			SideHeight:  t.EffectiveWidth() * math.Tan(pitchRad),
		}
	default:
		return Offsets{
			FrontHeight: t.DistanceFromJack() * math.Tan(pitchRad),
			SideHeight:  t.EffectiveWidth() * math.Tan(rollRad),
		}
	}
}

// ComputeDegrees is Compute for angles in degrees.
func ComputeDegrees(t Trailer, inst orientation.Installation, pitchDeg, rollDeg float64) Offsets {
	return Compute(t, inst, pitchDeg*math.Pi/180, rollDeg*math.Pi/180)
}
