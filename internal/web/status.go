package web

import (
	"sync/atomic"
	"time"

	"levelsense/internal/ahrs"
)

type Status struct {
	startUnixNano int64
	updates       uint64
	lastUpdNano   int64
	source        atomic.Value // string
	calibration   atomic.Value // string
	telemetryDest atomic.Value // string
	extra         atomic.Value // func() map[string]any
	level         atomic.Value // ahrs.Snapshot
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.source.Store("")
	s.calibration.Store("")
	s.telemetryDest.Store("")
	s.extra.Store(func() map[string]any { return nil })
	s.level.Store(ahrs.Snapshot{})
	return s
}

// SetStatic records startup configuration. Empty values are ignored.
func (s *Status) SetStatic(source, calibrationBackend, telemetryDest string) {
	if source != "" {
		s.source.Store(source)
	}
	if calibrationBackend != "" {
		s.calibration.Store(calibrationBackend)
	}
	if telemetryDest != "" {
		s.telemetryDest.Store(telemetryDest)
	}
}

// SetExtra installs a callback whose result is reported under "source_status",
// e.g. the serial bridge's connection state.
func (s *Status) SetExtra(f func() map[string]any) {
	if f == nil {
		f = func() map[string]any { return nil }
	}
	s.extra.Store(f)
}

// SetLevel records the latest engine snapshot.
func (s *Status) SetLevel(nowUTC time.Time, snap ahrs.Snapshot) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.level.Store(snap)
	atomic.StoreInt64(&s.lastUpdNano, nowUTC.UnixNano())
	atomic.AddUint64(&s.updates, 1)
}

func (s *Status) Level() ahrs.Snapshot {
	return s.level.Load().(ahrs.Snapshot)
}

type StatusSnapshot struct {
	Service       string         `json:"service"`
	NowUTC        string         `json:"now_utc"`
	UptimeSec     int64          `json:"uptime_sec"`
	Source        string         `json:"source"`
	Calibration   string         `json:"calibration_backend"`
	TelemetryDest string         `json:"telemetry_dest,omitempty"`
	UpdatesTotal  uint64         `json:"updates_total"`
	LastUpdateUTC string         `json:"last_update_utc,omitempty"`
	SourceStatus  map[string]any `json:"source_status,omitempty"`
	Level         ahrs.Snapshot  `json:"level"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	last := atomic.LoadInt64(&s.lastUpdNano)

	snap := StatusSnapshot{
		Service:       "levelsense",
		NowUTC:        nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:     int64(nowUTC.Sub(start).Seconds()),
		Source:        s.source.Load().(string),
		Calibration:   s.calibration.Load().(string),
		TelemetryDest: s.telemetryDest.Load().(string),
		UpdatesTotal:  atomic.LoadUint64(&s.updates),
		SourceStatus:  s.extra.Load().(func() map[string]any)(),
		Level:         s.Level(),
	}
	if last != 0 {
		snap.LastUpdateUTC = time.Unix(0, last).UTC().Format(time.RFC3339Nano)
	}
	return snap
}
