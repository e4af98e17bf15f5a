package orientation

import (
	"math"

	"levelsense/internal/motion"
)

// Axis is a signed sensor axis: +/-1 = X, +/-2 = Y, +/-3 = Z.
type Axis int

const (
	PosX Axis = 1
	NegX Axis = -1
	PosY Axis = 2
	NegY Axis = -2
	PosZ Axis = 3
	NegZ Axis = -3
)

// Component projects a sensor-frame vector onto the axis.
func (a Axis) Component(x, y, z float64) float64 {
	switch a {
	case PosX:
		return x
	case NegX:
		return -x
	case PosY:
		return y
	case NegY:
		return -y
	case PosZ:
		return z
	case NegZ:
		return -z
	}
	return 0
}

// Unit returns the axis as a sensor-frame unit vector.
func (a Axis) Unit() (x, y, z float64) {
	return a.Component(1, 0, 0), a.Component(0, 1, 0), a.Component(0, 0, 1)
}

// Rule describes one (mount, installation group) cell of the correction table.
//
// Up is the sensor axis that reads +1g at rest. Forward is the horizontal
// axis the module faces along; tilt toward it is pitch. Lateral is the other
// horizontal axis; tilt toward it is roll. For every rule Lateral x Up = Forward.
//
// InvertOn names the installation in the group that sits rotated 180 degrees
// from its partner and so needs a sign flip before geometry sees the values.
type Rule struct {
	Up      Axis
	Forward Axis
	Lateral Axis

	InvertOn    Installation
	InvertPitch bool
	InvertRoll  bool
}

// Pair is a pitch/roll pair: degrees for accelerometer, deg/s for gyroscope.
type Pair struct {
	Pitch float64
	Roll  float64
}

type ruleKey struct {
	mount motion.Mount
	group Group
}

// rules is the full correction table. Rear rotates the module 180 degrees about
// vertical relative to Front; geometry already negates the length term for
// Rear, so only roll flips here. The side group mirrors that: geometry negates
// the length term for PassengersSide, so DriversSide flips pitch.
var rules = map[ruleKey]Rule{
	{motion.StandingUp, LengthWise}:            {Up: PosY, Forward: PosZ, Lateral: PosX, InvertOn: Rear, InvertRoll: true},
	{motion.StandingUp, SideWise}:              {Up: PosY, Forward: PosZ, Lateral: PosX, InvertOn: DriversSide, InvertPitch: true},
	{motion.UpsideDown, LengthWise}:            {Up: NegY, Forward: PosZ, Lateral: NegX, InvertOn: Rear, InvertRoll: true},
	{motion.UpsideDown, SideWise}:              {Up: NegY, Forward: PosZ, Lateral: NegX, InvertOn: DriversSide, InvertPitch: true},
	{motion.HorizontalLightBottom, LengthWise}: {Up: PosX, Forward: PosZ, Lateral: NegY, InvertOn: Rear, InvertRoll: true},
	{motion.HorizontalLightBottom, SideWise}:   {Up: PosX, Forward: PosZ, Lateral: NegY, InvertOn: DriversSide, InvertPitch: true},
	{motion.HorizontalLightTop, LengthWise}:    {Up: NegX, Forward: PosZ, Lateral: PosY, InvertOn: Rear, InvertRoll: true},
	{motion.HorizontalLightTop, SideWise}:      {Up: NegX, Forward: PosZ, Lateral: PosY, InvertOn: DriversSide, InvertPitch: true},
	{motion.FlatOnBack, LengthWise}:            {Up: PosZ, Forward: NegY, Lateral: PosX, InvertOn: Rear, InvertRoll: true},
	{motion.FlatOnBack, SideWise}:              {Up: PosZ, Forward: NegY, Lateral: PosX, InvertOn: DriversSide, InvertPitch: true},
	{motion.FlatOnFace, LengthWise}:            {Up: NegZ, Forward: PosY, Lateral: PosX, InvertOn: Rear, InvertRoll: true},
	{motion.FlatOnFace, SideWise}:              {Up: NegZ, Forward: PosY, Lateral: PosX, InvertOn: DriversSide, InvertPitch: true},
}

// Lookup returns the rule for a mount and installation. Unknown mounts have no
// rule and report ok=false.
func Lookup(m motion.Mount, inst Installation) (Rule, bool) {
	r, ok := rules[ruleKey{mount: m, group: inst.Group()}]
	return r, ok
}

// Accelerometer converts a gravity vector in g into pitch/roll degrees.
func (r Rule) Accelerometer(inst Installation, x, y, z float64) Pair {
	up := r.Up.Component(x, y, z)
	p := Pair{
		Pitch: math.Atan2(r.Forward.Component(x, y, z), up) * 180 / math.Pi,
		Roll:  math.Atan2(r.Lateral.Component(x, y, z), up) * 180 / math.Pi,
	}
	return r.Invert(inst, p)
}

// Gyroscope converts sensor angular rates (deg/s) into pitch/roll rates.
// The signs make these rates the time derivative of the Accelerometer angles
// under the same rule.
func (r Rule) Gyroscope(inst Installation, x, y, z float64) Pair {
	p := Pair{
		Pitch: -r.Lateral.Component(x, y, z),
		Roll:  r.Forward.Component(x, y, z),
	}
	return r.Invert(inst, p)
}

// Invert applies the installation sign flip. Applying it twice is a no-op.
func (r Rule) Invert(inst Installation, p Pair) Pair {
	if inst != r.InvertOn {
		return p
	}
	if r.InvertPitch {
		p.Pitch = -p.Pitch
	}
	if r.InvertRoll {
		p.Roll = -p.Roll
	}
	return p
}

// Correct applies the table to a decoded sample. ok is false for Unknown mounts.
func Correct(m motion.Mount, inst Installation, s motion.Sample) (Pair, bool) {
	r, ok := Lookup(m, inst)
	if !ok {
		return Pair{}, false
	}
	if s.Kind == motion.Gyroscope {
		return r.Gyroscope(inst, s.X, s.Y, s.Z), true
	}
	return r.Accelerometer(inst, s.X, s.Y, s.Z), true
}
