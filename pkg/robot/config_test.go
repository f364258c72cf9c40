package robot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFrom_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "armcollect.toml")
	if err := os.WriteFile(path, []byte("[collect]\ncameras = true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if cfg.Collect.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.Collect.DataDir, DefaultDataDir)
	}
	if cfg.Collect.ControlRateHz != DefaultControlRateHz {
		t.Errorf("ControlRateHz = %d, want %d", cfg.Collect.ControlRateHz, DefaultControlRateHz)
	}
	if cfg.Collect.MaxEpisodeSteps != DefaultMaxEpisodeSteps {
		t.Errorf("MaxEpisodeSteps = %d, want %d", cfg.Collect.MaxEpisodeSteps, DefaultMaxEpisodeSteps)
	}
	if !cfg.Collect.Cameras {
		t.Error("Cameras = false, want true")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want text", cfg.Log.Format)
	}
}

func TestLoadConfigFrom_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "armcollect.toml")
	if err := os.WriteFile(path, []byte("[collect]\ndata_dir = \"from-file\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ARMCOLLECT_DATA_DIR", "from-env")
	t.Setenv("ARMCOLLECT_PLAYBACK_SPEED", "2.5")

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if cfg.Collect.DataDir != "from-env" {
		t.Errorf("DataDir = %q, want from-env", cfg.Collect.DataDir)
	}
	if cfg.Collect.PlaybackSpeed != 2.5 {
		t.Errorf("PlaybackSpeed = %f, want 2.5", cfg.Collect.PlaybackSpeed)
	}
	if got, want := cfg.Collect.CatalogFile(), filepath.Join("from-env", DefaultCatalogName); got != want {
		t.Errorf("CatalogFile = %q, want %q", got, want)
	}
}

func TestLoadConfigFrom_InvalidEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "armcollect.toml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ARMCOLLECT_CONTROL_RATE_HZ", "fast")

	if _, err := LoadConfigFrom(path); err == nil {
		t.Fatal("expected env parse error")
	}
}

func TestLoadConfigFrom_InvalidFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "armcollect.toml")
	if err := os.WriteFile(path, []byte("[log]\nformat = \"xml\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfigFrom(path); err == nil {
		t.Fatal("expected validation error for log.format")
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "armcollect.toml")
	cfg := DefaultConfig()
	cfg.Leader.Port = "/dev/ttyACM0"
	cfg.Leader.Calibration = Calibration{}
	for i, name := range AllMotors() {
		cfg.Leader.Calibration[name] = MotorCalibration{ID: i + 1, RangeMin: 900, RangeMax: 3100}
	}

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	loaded, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if !loaded.Leader.IsConfigured() {
		t.Fatal("leader should be configured after round-trip")
	}
	if loaded.Leader.Calibration[WristRoll].ID != 5 {
		t.Errorf("wrist_roll ID = %d, want 5", loaded.Leader.Calibration[WristRoll].ID)
	}
	if loaded.Follower.IsConfigured() {
		t.Error("follower should not be configured")
	}
}
