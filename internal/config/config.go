package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"levelsense/internal/ahrs"
	"levelsense/internal/geometry"
	"levelsense/internal/motion"
	"levelsense/internal/orientation"
)

type Config struct {
	Profile     ProfileConfig     `yaml:"profile"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Source      SourceConfig      `yaml:"source"`
	Record      RecordConfig      `yaml:"record"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Web         WebConfig         `yaml:"web"`
}

type ProfileConfig struct {
	// Installation is front, rear, drivers_side or passengers_side.
	Installation string           `yaml:"installation"`
	Trailer      geometry.Trailer `yaml:"trailer"`
}

type CalibrationConfig struct {
	// Backend is file, sqlite or none.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type SourceConfig struct {
	// Kind is replay, serial, i2c or sim.
	Kind   string       `yaml:"kind"`
	Replay ReplayConfig `yaml:"replay"`
	Serial SerialConfig `yaml:"serial"`
	I2C    I2CConfig    `yaml:"i2c"`
	Sim    SimConfig    `yaml:"sim"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type SerialConfig struct {
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// I2CConfig selects a locally wired ICM-20948.
type I2CConfig struct {
	Bus     string  `yaml:"bus"`
	Address uint16  `yaml:"address"`
	RateHz  float64 `yaml:"rate_hz"`
}

type SimConfig struct {
	Mount             string        `yaml:"mount"`
	PitchBiasDeg      float64       `yaml:"pitch_bias_deg"`
	RollBiasDeg       float64       `yaml:"roll_bias_deg"`
	PitchAmplitudeDeg float64       `yaml:"pitch_amplitude_deg"`
	RollAmplitudeDeg  float64       `yaml:"roll_amplitude_deg"`
	Period            time.Duration `yaml:"period"`
	RateHz            float64       `yaml:"rate_hz"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type TelemetryConfig struct {
	// UDPDest is host:port. Empty disables telemetry.
	UDPDest string `yaml:"udp_dest"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields and rejects invalid ones. It is
// idempotent.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Profile.Installation) == "" {
		cfg.Profile.Installation = orientation.Front.String()
	}
	inst, err := orientation.ParseInstallation(cfg.Profile.Installation)
	if err != nil {
		return fmt.Errorf("profile.installation: %w", err)
	}
	cfg.Profile.Installation = inst.String()
	if err := cfg.Profile.Trailer.Validate(); err != nil {
		return fmt.Errorf("profile.trailer: %w", err)
	}

	cfg.Calibration.Backend = strings.ToLower(strings.TrimSpace(cfg.Calibration.Backend))
	switch cfg.Calibration.Backend {
	case "":
		cfg.Calibration.Backend = "file"
		fallthrough
	case "file":
		if cfg.Calibration.Path == "" {
			cfg.Calibration.Path = "calibration.yaml"
		}
	case "sqlite":
		if cfg.Calibration.Path == "" {
			cfg.Calibration.Path = "levelsense.db"
		}
	case "none":
	default:
		return fmt.Errorf("calibration.backend must be file, sqlite or none")
	}

	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = "sim"
	}
	switch cfg.Source.Kind {
	case "replay":
		if cfg.Source.Replay.Path == "" {
			return fmt.Errorf("source.replay.path is required when source.kind is replay")
		}
	case "serial", "i2c", "sim":
	default:
		return fmt.Errorf("source.kind must be replay, serial, i2c or sim")
	}

	if cfg.Source.Replay.Speed == 0 {
		cfg.Source.Replay.Speed = 1
	}
	if cfg.Source.Replay.Speed < 0 {
		return fmt.Errorf("source.replay.speed must be > 0")
	}

	if cfg.Source.Serial.Baud == 0 {
		cfg.Source.Serial.Baud = 115200
	}
	if cfg.Source.Serial.Baud < 0 {
		return fmt.Errorf("source.serial.baud must be > 0")
	}

	if strings.TrimSpace(cfg.Source.I2C.Bus) == "" {
		cfg.Source.I2C.Bus = "/dev/i2c-1"
	}
	if cfg.Source.I2C.Address == 0 {
		cfg.Source.I2C.Address = 0x68
	}
	if cfg.Source.I2C.Address > 0x7F {
		return fmt.Errorf("source.i2c.address must be a 7-bit address")
	}
	if cfg.Source.I2C.RateHz == 0 {
		cfg.Source.I2C.RateHz = 50
	}
	if cfg.Source.I2C.RateHz < 0 {
		return fmt.Errorf("source.i2c.rate_hz must be > 0")
	}

	if cfg.Source.Sim.Mount == "" {
		cfg.Source.Sim.Mount = motion.StandingUp.String()
	}
	if _, err := motion.ParseMount(cfg.Source.Sim.Mount); err != nil {
		return fmt.Errorf("source.sim.mount: %w", err)
	}
	if cfg.Source.Sim.Period <= 0 {
		cfg.Source.Sim.Period = 30 * time.Second
	}
	if cfg.Source.Sim.RateHz == 0 {
		cfg.Source.Sim.RateHz = 25
	}
	if cfg.Source.Sim.RateHz < 0 {
		return fmt.Errorf("source.sim.rate_hz must be > 0")
	}

	if cfg.Record.Enable {
		if cfg.Record.Path == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
		if cfg.Source.Kind == "replay" {
			return fmt.Errorf("record cannot be used with source.kind=replay")
		}
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	return nil
}

// EngineProfile converts the validated profile section.
func (c Config) EngineProfile() (ahrs.Profile, error) {
	inst, err := orientation.ParseInstallation(c.Profile.Installation)
	if err != nil {
		return ahrs.Profile{}, err
	}
	p := ahrs.Profile{Installation: inst, Trailer: c.Profile.Trailer}
	return p, p.Validate()
}

// SetEngineProfile writes p back into the profile section.
func (c *Config) SetEngineProfile(p ahrs.Profile) {
	c.Profile.Installation = p.Installation.String()
	c.Profile.Trailer = p.Trailer
}

// Save validates cfg and writes it atomically: a temp file in the same
// directory is synced and renamed over path.
func Save(path string, cfg Config) error {
	if err := DefaultAndValidate(&cfg); err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
