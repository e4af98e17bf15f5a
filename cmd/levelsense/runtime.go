package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"levelsense/internal/ahrs"
	"levelsense/internal/bridge"
	"levelsense/internal/calibration"
	"levelsense/internal/config"
	"levelsense/internal/i2c"
	"levelsense/internal/monitoring"
	"levelsense/internal/motion"
	"levelsense/internal/orientation"
	"levelsense/internal/replay"
	"levelsense/internal/sensors/icm20948"
	"levelsense/internal/sim"
	"levelsense/internal/udp"
	"levelsense/internal/web"
)

type runtime struct {
	cfg        config.Config
	configPath string

	engine    *ahrs.Engine
	metrics   *monitoring.Collector
	status    *web.Status
	levels    *web.LevelBroadcaster
	telemetry *udp.Broadcaster
	recorder  *replay.Writer

	// sleeper paces replay; nil sleeps for real.
	sleeper replay.Sleeper

	mu               sync.Mutex
	telemetryFailing bool

	closers []func() error
}

func newRuntime(ctx context.Context, cfg config.Config, configPath string, reg prometheus.Registerer) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}
	profile, err := c.EngineProfile()
	if err != nil {
		return nil, err
	}

	r := &runtime{
		cfg:        c,
		configPath: configPath,
		status:     web.NewStatus(),
		levels:     web.NewLevelBroadcaster(),
	}

	r.metrics, err = monitoring.NewCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics init failed: %w", err)
	}

	store, err := r.openStore()
	if err != nil {
		r.Close()
		return nil, err
	}

	r.engine, err = ahrs.New(ahrs.Config{
		Profile: profile,
		Store:   store,
		Metrics: r.metrics,
	})
	if err != nil {
		r.Close()
		return nil, err
	}
	restored, err := r.engine.LoadCalibration(ctx)
	if err != nil {
		// Keep running uncalibrated; the user can calibrate again.
		monitoring.Logf("calibration restore failed: %v", err)
	} else if restored {
		monitoring.Logf("calibration restored from %s store", c.Calibration.Backend)
	}

	if c.Telemetry.UDPDest != "" {
		b, err := udp.NewBroadcaster(c.Telemetry.UDPDest)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("udp telemetry init failed: %w", err)
		}
		r.telemetry = b
		r.closers = append(r.closers, b.Close)
	}

	if c.Record.Enable {
		w, err := replay.CreateWriter(c.Record.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("record init failed: %w", err)
		}
		monitoring.Logf("recording samples to %s (session %s)", c.Record.Path, w.Session())
		r.recorder = w
		r.closers = append(r.closers, w.Close)
	}

	r.status.SetStatic(c.Source.Kind, c.Calibration.Backend, c.Telemetry.UDPDest)
	return r, nil
}

func (r *runtime) openStore() (calibration.Store, error) {
	switch r.cfg.Calibration.Backend {
	case "file":
		return calibration.FileStore{Path: r.cfg.Calibration.Path}, nil
	case "sqlite":
		s, err := calibration.OpenSQLite(r.cfg.Calibration.Path)
		if err != nil {
			return nil, fmt.Errorf("calibration store: %w", err)
		}
		r.closers = append(r.closers, s.Close)
		return s, nil
	default:
		return calibration.NopStore{}, nil
	}
}

// handle is the single sink for every source. Engine rejections are counted
// and logged by the engine and do not stop the source.
func (r *runtime) handle(kind motion.Kind, payload []byte, at time.Time) error {
	if r.recorder != nil {
		if err := r.recorder.WriteSample(at, kind, payload); err != nil {
			return fmt.Errorf("record: %w", err)
		}
	}

	snap, err := r.engine.Handle(kind, payload, at)
	r.status.SetLevel(time.Now().UTC(), snap)
	if err != nil || !snap.Valid {
		return nil
	}
	r.levels.Publish(snap)
	r.sendTelemetry(snap)
	return nil
}

func (r *runtime) sendTelemetry(snap ahrs.Snapshot) {
	if r.telemetry == nil {
		return
	}
	err := r.telemetry.SendLevel(snap)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err != nil && !r.telemetryFailing:
		monitoring.Logf("udp telemetry send failed: %v", err)
		r.telemetryFailing = true
	case err == nil && r.telemetryFailing:
		monitoring.Logf("udp telemetry recovered")
		r.telemetryFailing = false
	}
}

// applyProfile is the web profile hook.
func (r *runtime) applyProfile(ctx context.Context, p ahrs.Profile) error {
	if err := r.engine.SetProfile(ctx, p); err != nil {
		return err
	}
	r.levels.ResetSmoothing()
	monitoring.Logf("profile applied: installation=%s trailer=%+v", p.Installation, p.Trailer)
	return nil
}

// runSource feeds the configured source into handle until ctx is done. A
// replay without loop returns nil once the log is exhausted.
func (r *runtime) runSource(ctx context.Context) error {
	switch r.cfg.Source.Kind {
	case "replay":
		return r.runReplay(ctx)
	case "serial":
		return r.runSerial(ctx)
	case "i2c":
		return r.runI2C(ctx)
	case "sim":
		return r.runSim(ctx)
	default:
		return fmt.Errorf("unknown source kind %q", r.cfg.Source.Kind)
	}
}

func (r *runtime) runReplay(ctx context.Context) error {
	rc := r.cfg.Source.Replay
	recs, err := replay.ReadFile(rc.Path)
	if err != nil {
		return fmt.Errorf("replay read failed: %w", err)
	}
	monitoring.Logf("replay path=%s records=%d speed=%.2f loop=%t", rc.Path, len(recs), rc.Speed, rc.Loop)

	base := time.Now().UTC()
	return replay.Play(ctx, recs, rc.Speed, rc.Loop, r.sleeper, func(at time.Duration, rec replay.Record) error {
		return r.handle(rec.Kind, rec.Payload, base.Add(at))
	})
}

func (r *runtime) runSerial(ctx context.Context) error {
	sc := r.cfg.Source.Serial
	svc := bridge.New(bridge.Config{
		Device:   sc.Device,
		Baud:     sc.Baud,
		DataBits: sc.DataBits,
		StopBits: sc.StopBits,
		Parity:   sc.Parity,
	})
	defer svc.Close()
	r.status.SetExtra(func() map[string]any {
		s := svc.Snapshot()
		return map[string]any{
			"connected":    s.Connected,
			"device":       s.Device,
			"baud":         s.Baud,
			"lines":        s.Lines,
			"parse_errors": s.ParseErrors,
			"last_error":   s.LastError,
		}
	})
	return svc.Run(ctx, r.handle)
}

func (r *runtime) runI2C(ctx context.Context) error {
	ic := r.cfg.Source.I2C
	bus, err := i2c.Open(ic.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()
	dev, err := icm20948.New(bus.Dev(ic.Address), ic.RateHz)
	if err != nil {
		return err
	}
	monitoring.Logf("icm20948 bus=%s addr=0x%02X rate=%.1fHz", bus.Path(), ic.Address, ic.RateHz)
	return dev.Run(ctx, ic.RateHz, r.handle)
}

func (r *runtime) runSim(ctx context.Context) error {
	sc := r.cfg.Source.Sim
	mount, err := motion.ParseMount(sc.Mount)
	if err != nil {
		return err
	}
	ts := sim.TrailerSim{
		Mount:             mount,
		Installation:      r.engine.Profile().Installation,
		PitchBiasDeg:      sc.PitchBiasDeg,
		RollBiasDeg:       sc.RollBiasDeg,
		PitchAmplitudeDeg: sc.PitchAmplitudeDeg,
		RollAmplitudeDeg:  sc.RollAmplitudeDeg,
		Period:            sc.Period,
	}
	ts.Follow = func() orientation.Installation {
		return r.engine.Profile().Installation
	}
	monitoring.Logf("sim mount=%s installation=%s rate=%.1fHz", mount, ts.Installation, sc.RateHz)
	return ts.Run(ctx, sc.RateHz, r.handle)
}

func (r *runtime) webDeps(logs *web.LogBuffer) web.Deps {
	return web.Deps{
		Status:      r.status,
		Level:       r.engine,
		Broadcaster: r.levels,
		Logs:        logs,
		Profile:     web.ProfileStore{ConfigPath: r.configPath, Apply: r.applyProfile},
		Gatherer:    r.metrics.Gatherer(),
	}
}

// Close releases stores, sockets and the recorder in reverse open order.
func (r *runtime) Close() {
	if r == nil {
		return
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			monitoring.Logf("close: %v", err)
		}
	}
	r.closers = nil
}
