package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"levelsense/internal/ahrs"
	"levelsense/internal/geometry"
	"levelsense/internal/orientation"
)

const minimal = "profile:\n  trailer:\n    length_to_jack_in: 240\n    width_in: 96\n    row: 11\n    column: 5\n"

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_RequiresTrailer(t *testing.T) {
	path := writeTempConfig(t, "profile: {}\n")
	_, err := Load(path)
	requireErrEq(t, err, "profile.trailer: length_to_jack_in must be > 0")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Profile.Installation != "front" {
		t.Fatalf("installation=%q want front", cfg.Profile.Installation)
	}
	if cfg.Calibration.Backend != "file" || cfg.Calibration.Path != "calibration.yaml" {
		t.Fatalf("calibration=%+v", cfg.Calibration)
	}
	if cfg.Source.Kind != "sim" {
		t.Fatalf("source.kind=%q want sim", cfg.Source.Kind)
	}
	if cfg.Source.Sim.Mount != "standing_up" || cfg.Source.Sim.Period != 30*time.Second || cfg.Source.Sim.RateHz != 25 {
		t.Fatalf("sim defaults=%+v", cfg.Source.Sim)
	}
	if cfg.Source.I2C.Bus != "/dev/i2c-1" || cfg.Source.I2C.Address != 0x68 || cfg.Source.I2C.RateHz != 50 {
		t.Fatalf("i2c defaults=%+v", cfg.Source.I2C)
	}
	if cfg.Source.Replay.Speed != 1 || cfg.Source.Serial.Baud != 115200 {
		t.Fatalf("replay/serial defaults not applied: %+v", cfg.Source)
	}
	if cfg.Web.Listen != ":8080" {
		t.Fatalf("web.listen=%q", cfg.Web.Listen)
	}
	if cfg.Telemetry.UDPDest != "" {
		t.Fatalf("telemetry should default off")
	}
}

func TestLoad_SQLiteDefaultPath(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal+"calibration:\n  backend: SQLite\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Calibration.Backend != "sqlite" || cfg.Calibration.Path != "levelsense.db" {
		t.Fatalf("calibration=%+v", cfg.Calibration)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name  string
		extra string
		want  string
	}{
		{"BadInstallation", "  installation: roof\n", `profile.installation: unknown installation "roof"`},
		{"BadBackend", "calibration:\n  backend: s3\n", "calibration.backend must be file, sqlite or none"},
		{"BadSource", "source:\n  kind: ble\n", "source.kind must be replay, serial, i2c or sim"},
		{"I2CAddressTooWide", "source:\n  i2c:\n    address: 200\n", "source.i2c.address must be a 7-bit address"},
		{"NegativeI2CRate", "source:\n  i2c:\n    rate_hz: -1\n", "source.i2c.rate_hz must be > 0"},
		{"ReplayNeedsPath", "source:\n  kind: replay\n", "source.replay.path is required when source.kind is replay"},
		{"NegativeSpeed", "source:\n  replay:\n    speed: -2\n", "source.replay.speed must be > 0"},
		{"BadSimMount", "source:\n  sim:\n    mount: sideways\n", `source.sim.mount: unknown mount "sideways"`},
		{"RecordNeedsPath", "record:\n  enable: true\n", "record.path is required when record.enable is true"},
		{"RecordWithReplay", "source:\n  kind: replay\n  replay:\n    path: a.log\nrecord:\n  enable: true\n  path: b.log\n", "record cannot be used with source.kind=replay"},
		{"RowOutOfGrid", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := minimal
			if tc.name == "RowOutOfGrid" {
				body = "profile:\n  trailer:\n    length_to_jack_in: 240\n    width_in: 96\n    row: 22\n"
				tc.want = "profile.trailer: row must be in [0,21]"
			} else if tc.name == "BadInstallation" {
				body = "profile:\n" + tc.extra + minimal[len("profile:\n"):]
			} else {
				body += tc.extra
			}
			_, err := Load(writeTempConfig(t, body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestDefaultAndValidate_Idempotent(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal+"  installation: Drivers-Side\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	again := cfg
	if err := DefaultAndValidate(&again); err != nil {
		t.Fatalf("DefaultAndValidate() error: %v", err)
	}
	if again != cfg {
		t.Fatalf("second pass changed config:\n%+v\n%+v", cfg, again)
	}
	if cfg.Profile.Installation != "drivers_side" {
		t.Fatalf("installation=%q", cfg.Profile.Installation)
	}
}

func TestEngineProfile_RoundTrip(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	p, err := cfg.EngineProfile()
	if err != nil {
		t.Fatalf("EngineProfile() error: %v", err)
	}
	want := ahrs.Profile{
		Installation: orientation.Front,
		Trailer:      geometry.Trailer{LengthToJack: 240, Width: 96, Row: 11, Column: 5},
	}
	if p != want {
		t.Fatalf("profile=%+v want %+v", p, want)
	}

	p.Installation = orientation.PassengersSide
	p.Trailer.Column = 9
	cfg.SetEngineProfile(p)
	if cfg.Profile.Installation != "passengers_side" || cfg.Profile.Trailer.Column != 9 {
		t.Fatalf("SetEngineProfile did not apply: %+v", cfg.Profile)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := writeTempConfig(t, minimal)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg.Profile.Installation = "rear"
	cfg.Telemetry.UDPDest = "192.168.4.255:4500"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after Save error: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the config file, got %d entries", len(entries))
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := Save(path, Config{}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("invalid config should not be written")
	}
}
