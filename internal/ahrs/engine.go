package ahrs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"levelsense/internal/attitude"
	"levelsense/internal/calibration"
	"levelsense/internal/geometry"
	"levelsense/internal/monitoring"
	"levelsense/internal/motion"
	"levelsense/internal/orientation"
)

var (
	ErrUnknownMount = errors.New("ahrs: mount orientation unknown")
	ErrNotTracking  = errors.New("ahrs: gyroscope sample before first accelerometer sample")
	ErrNoAttitude   = errors.New("ahrs: no attitude yet")
)

// Profile is the user-owned configuration the engine reads.
type Profile struct {
	Installation orientation.Installation `json:"installation"`
	Trailer      geometry.Trailer         `json:"trailer"`
}

func (p Profile) Validate() error {
	if p.Installation < orientation.Front || p.Installation > orientation.PassengersSide {
		return fmt.Errorf("ahrs: invalid installation %d", int(p.Installation))
	}
	if err := p.Trailer.Validate(); err != nil {
		return fmt.Errorf("ahrs: trailer: %w", err)
	}
	return nil
}

type Config struct {
	Profile Profile
	// Store receives the baseline on every calibration. Nil keeps nothing.
	Store calibration.Store
	// Metrics is optional.
	Metrics *monitoring.Collector
	// Now stamps calibration baselines. Defaults to time.Now().UTC().
	Now func() time.Time
}

// Snapshot is the engine's externally visible state after the latest sample.
// Values survive rejected samples, so it always reflects the last known good
// reading.
type Snapshot struct {
	Valid        bool                     `json:"valid"`
	State        attitude.State           `json:"state"`
	Mount        motion.Mount             `json:"mount"`
	Installation orientation.Installation `json:"installation"`
	Calibrated   bool                     `json:"calibrated"`

	Accelerometer attitude.Attitude `json:"accelerometer"`
	Gyroscope     attitude.Attitude `json:"gyroscope"`
	RawAttitude   attitude.Attitude `json:"raw_attitude"`
	Attitude      attitude.Attitude `json:"attitude"`
	RawOffsets    geometry.Offsets  `json:"raw_offsets"`
	Offsets       geometry.Offsets  `json:"offsets"`

	AccelSamples uint64 `json:"accel_samples"`
	GyroSamples  uint64 `json:"gyro_samples"`
	Discarded    uint64 `json:"discarded"`

	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engine turns motion payloads into calibrated level offsets. All methods are
// safe for concurrent use; each sample is processed start to finish under one
// lock.
type Engine struct {
	mu sync.Mutex

	// saveMu is taken before mu and held across store writes.
	saveMu sync.Mutex

	profile Profile
	mount   motion.Mount
	est     *attitude.Estimator
	cal     *calibration.Manager

	store   calibration.Store
	metrics *monitoring.Collector
	now     func() time.Time

	snap Snapshot
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		cfg.Store = calibration.NopStore{}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	e := &Engine{
		profile: cfg.Profile,
		est:     attitude.New(),
		cal:     calibration.NewManager(),
		store:   cfg.Store,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	e.snap.Installation = cfg.Profile.Installation
	return e, nil
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

func (e *Engine) Profile() Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile
}

// SetProfile swaps in new user configuration. An installation change restarts
// attitude tracking because the previous angles were computed under another
// correction rule. The calibration baseline is kept; its inch half is derived
// again from its degree half under the new geometry and saved.
func (e *Engine) SetProfile(ctx context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	changed := p != e.profile
	if p.Installation != e.profile.Installation {
		e.est.Reset()
		e.snap.Valid = false
		e.snap.State = e.est.State()
	}
	e.profile = p
	e.snap.Installation = p.Installation
	var (
		b       calibration.Baseline
		rebased bool
	)
	if changed {
		b, rebased = e.cal.Rebase(p.Trailer, p.Installation)
	}
	if e.est.State() == attitude.Tracking {
		e.refreshLocked(e.snap.UpdatedAt)
	}
	store := e.store
	e.mu.Unlock()

	if !rebased {
		return nil
	}
	monitoring.Logf("ahrs: calibration rebased front=%.3fin side=%.3fin", b.Pitch, b.Roll)
	if err := store.Save(ctx, b); err != nil {
		// The rebased baseline stays in effect; the next save or restart
		// rebases again from the degree values.
		monitoring.Logf("ahrs: calibration persist failed: %v", err)
	}
	return nil
}

// Handle dispatches a payload by kind.
func (e *Engine) Handle(kind motion.Kind, payload []byte, at time.Time) (Snapshot, error) {
	switch kind {
	case motion.Accelerometer:
		return e.HandleAccelerometer(payload, at)
	case motion.Gyroscope:
		return e.HandleGyroscope(payload, at)
	default:
		return e.Snapshot(), fmt.Errorf("ahrs: unknown sample kind %d", int(kind))
	}
}

// HandleAccelerometer decodes an accelerometer payload, reclassifies the mount
// and updates the accelerometer attitude. The first accepted sample seeds
// gyroscope tracking.
func (e *Engine) HandleAccelerometer(payload []byte, at time.Time) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.snap.AccelSamples++
	e.metrics.ObserveSample(motion.Accelerometer.String())

	s, err := motion.DecodeAccelerometer(payload, at)
	if err != nil {
		return e.rejectLocked(motion.Accelerometer, err)
	}

	mount := motion.Classify(s.Raw)
	if mount != e.mount {
		monitoring.Logf("ahrs: mount %s -> %s", e.mount, mount)
		e.mount = mount
		e.snap.Mount = mount
	}

	pair, ok := orientation.Correct(mount, e.profile.Installation, s)
	if !ok {
		return e.rejectLocked(motion.Accelerometer, ErrUnknownMount)
	}
	e.est.UpdateAccelerometer(attitude.Attitude{Pitch: pair.Pitch, Roll: pair.Roll}, at)
	e.refreshLocked(at)
	return e.snap, nil
}

// HandleGyroscope decodes a gyroscope payload, integrates it and runs fusion.
// Before the first accelerometer sample it returns ErrNotTracking and the
// neutral snapshot.
func (e *Engine) HandleGyroscope(payload []byte, at time.Time) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.snap.GyroSamples++
	e.metrics.ObserveSample(motion.Gyroscope.String())

	s, err := motion.DecodeGyroscope(payload, at)
	if err != nil {
		return e.rejectLocked(motion.Gyroscope, err)
	}
	if e.est.State() != attitude.Tracking {
		return e.rejectLocked(motion.Gyroscope, ErrNotTracking)
	}
	rate, ok := orientation.Correct(e.mount, e.profile.Installation, s)
	if !ok {
		return e.rejectLocked(motion.Gyroscope, ErrUnknownMount)
	}
	e.est.IntegrateGyroscope(attitude.Attitude{Pitch: rate.Pitch, Roll: rate.Roll}, at)
	e.est.Fuse()
	e.refreshLocked(at)
	return e.snap, nil
}

// Calibrate captures the current uncalibrated offsets and fused attitude as the
// zero reference and hands it to the store once. A store failure is returned
// but the baseline stays in effect. Saves happen in the order baselines take
// effect.
func (e *Engine) Calibrate(ctx context.Context) (calibration.Baseline, error) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	if e.est.State() != attitude.Tracking {
		e.mu.Unlock()
		return calibration.Baseline{}, ErrNoAttitude
	}
	b := e.cal.Start(e.snap.RawOffsets, e.est.Fused(), e.now())
	e.refreshLocked(e.snap.UpdatedAt)
	store := e.store
	e.mu.Unlock()

	e.metrics.IncCalibrations()
	monitoring.Logf("ahrs: calibrated front=%.3fin side=%.3fin pitch=%.3f roll=%.3f", b.Pitch, b.Roll, b.PitchDegree, b.RollDegree)
	if err := store.Save(ctx, b); err != nil {
		monitoring.Logf("ahrs: calibration persist failed: %v", err)
		return b, fmt.Errorf("ahrs: persist calibration: %w", err)
	}
	return b, nil
}

// Restore installs a previously persisted baseline.
func (e *Engine) Restore(b calibration.Baseline) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cal.Restore(b)
	e.snap.Calibrated = true
	if e.est.State() == attitude.Tracking {
		e.refreshLocked(e.snap.UpdatedAt)
	}
}

// LoadCalibration restores the baseline from the configured store, if any was
// saved. It reports whether a baseline was found.
func (e *Engine) LoadCalibration(ctx context.Context) (bool, error) {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()

	b, ok, err := store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("ahrs: load calibration: %w", err)
	}
	if !ok {
		return false, nil
	}
	e.Restore(b)
	return true, nil
}

func (e *Engine) refreshLocked(at time.Time) {
	fused := e.est.Fused()
	raw := geometry.ComputeDegrees(e.profile.Trailer, e.profile.Installation, fused.Pitch, fused.Roll)
	off, att := e.cal.Apply(raw, fused)

	e.snap.Valid = true
	e.snap.State = e.est.State()
	e.snap.Calibrated = e.cal.Calibrated()
	e.snap.Accelerometer = e.est.Accelerometer()
	e.snap.Gyroscope = e.est.Gyroscope()
	e.snap.RawAttitude = fused
	e.snap.Attitude = att
	e.snap.RawOffsets = raw
	e.snap.Offsets = off
	e.snap.LastError = ""
	e.snap.UpdatedAt = at

	e.metrics.SetHeights(off.FrontHeight, off.SideHeight)
}

func (e *Engine) rejectLocked(kind motion.Kind, err error) (Snapshot, error) {
	e.snap.Discarded++
	e.snap.LastError = err.Error()
	e.metrics.ObserveDiscard(kind.String(), discardReason(err))

	switch {
	case errors.Is(err, motion.ErrSaturated):
		monitoring.Logf("warning: ahrs: %v", err)
	case errors.Is(err, motion.ErrPayloadLength):
		monitoring.Logf("ahrs: %v", err)
	}
	return e.snap, err
}

func discardReason(err error) string {
	switch {
	case errors.Is(err, motion.ErrPayloadLength):
		return "payload_length"
	case errors.Is(err, motion.ErrSaturated):
		return "saturated"
	case errors.Is(err, ErrUnknownMount):
		return "unknown_mount"
	case errors.Is(err, ErrNotTracking):
		return "not_tracking"
	default:
		return "other"
	}
}
