package attitude

import (
	"fmt"
	"time"
)

const (
	// FusionWeight is the accelerometer share of the complementary filter.
	FusionWeight = 0.96

	// integrationBlend is the accelerometer share applied right after gyro
	// integration. It is zero, so the integrated value passes through.
	integrationBlend = 0.0
)

// Attitude is pitch/roll in degrees.
type Attitude struct {
	Pitch float64 `json:"pitch_deg"`
	Roll  float64 `json:"roll_deg"`
}

func (a Attitude) Sub(b Attitude) Attitude {
	return Attitude{Pitch: a.Pitch - b.Pitch, Roll: a.Roll - b.Roll}
}

// Blend returns w*a + (1-w)*b.
func Blend(a, b Attitude, w float64) Attitude {
	return Attitude{
		Pitch: w*a.Pitch + (1-w)*b.Pitch,
		Roll:  w*a.Roll + (1-w)*b.Roll,
	}
}

type State int

const (
	Uninitialized State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "uninitialized"
}

// Estimator integrates gyroscope rates from an accelerometer-seeded baseline and
// blends the two with a fixed-weight complementary filter.
//
// Estimator is not safe for concurrent use; callers serialize access.
type Estimator struct {
	state State

	accel      Attitude
	gyro       Attitude
	fused      Attitude
	lastUpdate time.Time
}

func New() *Estimator {
	return &Estimator{}
}

func (e *Estimator) State() State { return e.state }

func (e *Estimator) Accelerometer() Attitude { return e.accel }

func (e *Estimator) Gyroscope() Attitude { return e.gyro }

func (e *Estimator) Fused() Attitude { return e.fused }

func (e *Estimator) LastUpdate() time.Time { return e.lastUpdate }

// UpdateAccelerometer records a new accelerometer attitude. The first call
// seeds the gyroscope attitude and the fused value and moves to Tracking.
func (e *Estimator) UpdateAccelerometer(a Attitude, at time.Time) {
	e.accel = a
	if e.state == Uninitialized {
		e.gyro = a
		e.fused = a
		e.lastUpdate = at
		e.state = Tracking
	}
}

// IntegrateGyroscope advances the gyroscope attitude by rate*dt, where dt is
// the time since the previous update. It reports false, leaving everything
// untouched, while Uninitialized.
func (e *Estimator) IntegrateGyroscope(rate Attitude, at time.Time) bool {
	if e.state != Tracking {
		return false
	}
	dt := at.Sub(e.lastUpdate).Seconds()
	if dt < 0 {
		// Out-of-order timestamp; keep the newer reference.
		dt = 0
	} else {
		e.lastUpdate = at
	}

	e.gyro.Pitch += rate.Pitch * dt
	e.gyro.Roll += rate.Roll * dt
	e.gyro = Blend(e.accel, e.gyro, integrationBlend)
	return true
}

// Fuse blends the accelerometer and gyroscope attitudes with FusionWeight and
// re-seeds the gyroscope attitude from the result. While Uninitialized it
// returns the zero attitude.
func (e *Estimator) Fuse() Attitude {
	if e.state != Tracking {
		return Attitude{}
	}
	e.fused = Blend(e.accel, e.gyro, FusionWeight)
	e.gyro = e.fused
	return e.fused
}

// Reset returns the estimator to Uninitialized.
func (e *Estimator) Reset() {
	*e = Estimator{}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "uninitialized":
		*s = Uninitialized
	case "tracking":
		*s = Tracking
	default:
		return fmt.Errorf("unknown estimator state %q", b)
	}
	return nil
}
