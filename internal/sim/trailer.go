package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"levelsense/internal/motion"
	"levelsense/internal/orientation"
)

// TrailerSim is a sensor module on a trailer that rocks slowly in pitch and
// roll. Angles are what the engine should report for Installation; the sim
// works out the sensor-frame readings that produce them for Mount.
type TrailerSim struct {
	Mount        motion.Mount
	Installation orientation.Installation
	// Follow, when set, is read before every step and replaces Installation,
	// so a running sim tracks profile changes.
	Follow func() orientation.Installation

	PitchBiasDeg      float64
	RollBiasDeg       float64
	PitchAmplitudeDeg float64
	RollAmplitudeDeg  float64
	// Period of the pitch oscillation. Roll runs at 1.5x the period so the two
	// do not stay in phase. Defaults to 30s.
	Period time.Duration
}

// Kinematics returns pitch/roll (deg) and their rates (deg/s) after elapsed.
func (s TrailerSim) Kinematics(elapsed time.Duration) (attitude, rate orientation.Pair) {
	period := s.Period
	if period <= 0 {
		period = 30 * time.Second
	}
	rollPeriod := period * 3 / 2

	wp := 2 * math.Pi / period.Seconds()
	wr := 2 * math.Pi / rollPeriod.Seconds()
	t := elapsed.Seconds()

	attitude = orientation.Pair{
		Pitch: s.PitchBiasDeg + s.PitchAmplitudeDeg*math.Sin(wp*t),
		Roll:  s.RollBiasDeg + s.RollAmplitudeDeg*math.Sin(wr*t),
	}
	rate = orientation.Pair{
		Pitch: s.PitchAmplitudeDeg * wp * math.Cos(wp*t),
		Roll:  s.RollAmplitudeDeg * wr * math.Cos(wr*t),
	}
	return attitude, rate
}

func (s TrailerSim) rule() (orientation.Rule, error) {
	r, ok := orientation.Lookup(s.Mount, s.Installation)
	if !ok {
		return orientation.Rule{}, fmt.Errorf("sim: no orientation rule for mount %s", s.Mount)
	}
	return r, nil
}

// Accelerometer returns the encoded accelerometer payload after elapsed.
func (s TrailerSim) Accelerometer(elapsed time.Duration) ([]byte, error) {
	r, err := s.rule()
	if err != nil {
		return nil, err
	}
	att, _ := s.Kinematics(elapsed)
	att = r.Invert(s.Installation, att)

	tp := math.Tan(att.Pitch * math.Pi / 180)
	tr := math.Tan(att.Roll * math.Pi / 180)
	var v [3]float64
	addAxis(&v, r.Up, 1)
	addAxis(&v, r.Forward, tp)
	addAxis(&v, r.Lateral, tr)
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	return motion.Encode(motion.Quantize(motion.Accelerometer, v[0]/n, v[1]/n, v[2]/n)), nil
}

// Gyroscope returns the encoded gyroscope payload after elapsed.
func (s TrailerSim) Gyroscope(elapsed time.Duration) ([]byte, error) {
	r, err := s.rule()
	if err != nil {
		return nil, err
	}
	_, rate := s.Kinematics(elapsed)
	rate = r.Invert(s.Installation, rate)

	var w [3]float64
	addAxis(&w, r.Lateral, -rate.Pitch)
	addAxis(&w, r.Forward, rate.Roll)
	return motion.Encode(motion.Quantize(motion.Gyroscope, w[0], w[1], w[2])), nil
}

func addAxis(v *[3]float64, a orientation.Axis, scale float64) {
	x, y, z := a.Unit()
	v[0] += x * scale
	v[1] += y * scale
	v[2] += z * scale
}

// Emit receives one simulated payload.
type Emit func(kind motion.Kind, payload []byte, at time.Time) error

// Run emits an accelerometer then a gyroscope payload at rateHz until ctx is
// done or emit fails.
func (s TrailerSim) Run(ctx context.Context, rateHz float64, emit Emit) error {
	if rateHz <= 0 {
		return fmt.Errorf("sim: rate must be > 0")
	}
	if emit == nil {
		return errors.New("sim: emit is nil")
	}
	if _, err := s.rule(); err != nil {
		return err
	}

	interval := time.Duration(float64(time.Second) / rateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := s.step(now.Sub(start), now, emit); err != nil {
				return err
			}
		}
	}
}

func (s TrailerSim) step(elapsed time.Duration, now time.Time, emit Emit) error {
	if s.Follow != nil {
		s.Installation = s.Follow()
	}
	acc, err := s.Accelerometer(elapsed)
	if err != nil {
		return err
	}
	if err := emit(motion.Accelerometer, acc, now); err != nil {
		return err
	}
	gyr, err := s.Gyroscope(elapsed)
	if err != nil {
		return err
	}
	return emit(motion.Gyroscope, gyr, now)
}
