package calibration

import (
	"context"
	"time"

	"levelsense/internal/attitude"
	"levelsense/internal/geometry"
	"levelsense/internal/orientation"
)

// Baseline is the zero reference captured at calibration time.
//
// Pitch and Roll are raw offsets in inches: Pitch pairs with the front height,
// Roll with the side height. PitchDegree and RollDegree are the fused attitude
// at the same instant.
type Baseline struct {
	Pitch       float64   `json:"pitch_in" yaml:"pitch_in"`
	Roll        float64   `json:"roll_in" yaml:"roll_in"`
	PitchDegree float64   `json:"pitch_deg" yaml:"pitch_deg"`
	RollDegree  float64   `json:"roll_deg" yaml:"roll_deg"`
	CapturedAt  time.Time `json:"captured_at" yaml:"captured_at"`
}

func (b Baseline) Offsets() geometry.Offsets {
	return geometry.Offsets{FrontHeight: b.Pitch, SideHeight: b.Roll}
}

func (b Baseline) Attitude() attitude.Attitude {
	return attitude.Attitude{Pitch: b.PitchDegree, Roll: b.RollDegree}
}

// Store persists the most recent baseline.
//
// Load reports ok=false when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (b Baseline, ok bool, err error)
	Save(ctx context.Context, b Baseline) error
}

// NopStore keeps nothing.
type NopStore struct{}

func (NopStore) Load(context.Context) (Baseline, bool, error) { return Baseline{}, false, nil }

func (NopStore) Save(context.Context, Baseline) error { return nil }

// Manager holds the active baseline. It is not safe for concurrent use; the
// engine serializes access.
type Manager struct {
	baseline   Baseline
	calibrated bool
}

func NewManager() *Manager {
	return &Manager{}
}

// Start captures the current uncalibrated offsets and fused attitude as the
// new baseline, replacing any previous one.
func (m *Manager) Start(raw geometry.Offsets, fused attitude.Attitude, at time.Time) Baseline {
	m.baseline = Baseline{
		Pitch:       raw.FrontHeight,
		Roll:        raw.SideHeight,
		PitchDegree: fused.Pitch,
		RollDegree:  fused.Roll,
		CapturedAt:  at,
	}
	m.calibrated = true
	return m.baseline
}

// Restore installs a baseline loaded from storage.
func (m *Manager) Restore(b Baseline) {
	m.baseline = b
	m.calibrated = true
}

// Rebase derives the inch half of the baseline from its degree half under a
// new trailer geometry or installation. It reports false when uncalibrated.
func (m *Manager) Rebase(t geometry.Trailer, inst orientation.Installation) (Baseline, bool) {
	if !m.calibrated {
		return Baseline{}, false
	}
	off := geometry.ComputeDegrees(t, inst, m.baseline.PitchDegree, m.baseline.RollDegree)
	m.baseline.Pitch = off.FrontHeight
	m.baseline.Roll = off.SideHeight
	return m.baseline, true
}

func (m *Manager) Calibrated() bool { return m.calibrated }

// Baseline returns the active baseline and whether one is set.
func (m *Manager) Baseline() (Baseline, bool) {
	return m.baseline, m.calibrated
}

// Apply subtracts the baseline from raw offsets and attitude. Before the first
// calibration both pass through unchanged.
func (m *Manager) Apply(raw geometry.Offsets, fused attitude.Attitude) (geometry.Offsets, attitude.Attitude) {
	if !m.calibrated {
		return raw, fused
	}
	return raw.Sub(m.baseline.Offsets()), fused.Sub(m.baseline.Attitude())
}
