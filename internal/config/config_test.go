package config

import (
	"os"
	"path/filepath"
	"testing"

	"hermes/internal/herrors"
)

const sampleYAML = `
modules:
  - name: phys
    type: external
    executable: /bin/true
    signals:
      - {name: x, type: f64, writable: true}
      - {name: y, type: f64, writable: true}
  - name: ctrl
    type: script
    script: ctrl.lua
    signals:
      - {name: cmd, type: f64, writable: true}
wiring:
  - {src: phys.x, dst: ctrl.cmd, gain: 1.0, offset: 0.0}
execution:
  mode: realtime
  rate_hz: 100
  schedule: [phys, ctrl]
server:
  enabled: false
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hermes.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Modules) != 2 {
		t.Fatalf("len(Modules) = %d, want 2", len(cfg.Modules))
	}
	if cfg.Modules[0].Name != "phys" || cfg.Modules[1].Name != "ctrl" {
		t.Errorf("module order = [%s, %s], want [phys, ctrl]", cfg.Modules[0].Name, cfg.Modules[1].Name)
	}
	if cfg.Execution.RateHz != 100 {
		t.Errorf("RateHz = %v, want 100", cfg.Execution.RateHz)
	}
}

func TestValidateRejectsUnknownWireEndpoint(t *testing.T) {
	cfg := baseConfig()
	cfg.Wiring = []WireConfig{{Src: "phys.x", Dst: "ctrl.nope", Gain: 1}}
	err := cfg.Validate()
	if err == nil || !herrors.IsKind(err, herrors.Config) {
		t.Fatalf("Validate = %v, want Config error", err)
	}
}

func TestValidateRejectsNonWritableDst(t *testing.T) {
	cfg := baseConfig()
	cfg.Modules[1].Signals[0].Writable = false
	cfg.Wiring = []WireConfig{{Src: "phys.x", Dst: "ctrl.cmd", Gain: 1}}
	err := cfg.Validate()
	if err == nil || !herrors.IsKind(err, herrors.Config) {
		t.Fatalf("Validate = %v, want Config error", err)
	}
}

func TestValidateRejectsSelfLoop(t *testing.T) {
	cfg := baseConfig()
	cfg.Wiring = []WireConfig{{Src: "phys.x", Dst: "phys.x", Gain: 1}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected self-loop rejection")
	}
}

func TestValidateRejectsUnknownScheduleEntry(t *testing.T) {
	cfg := baseConfig()
	cfg.Execution.Schedule = []string{"phys", "ghost"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown schedule entry rejection")
	}
}

func TestValidateRejectsDuplicateModuleName(t *testing.T) {
	cfg := baseConfig()
	cfg.Modules = append(cfg.Modules, cfg.Modules[0])
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duplicate module name rejection")
	}
}

func TestValidateRateRatio(t *testing.T) {
	cfg := baseConfig()
	cfg.Execution.RateHz = 100

	cfg.Modules[0].RateHz = 400 // 4x major rate: valid
	if err := cfg.Validate(); err != nil {
		t.Errorf("4x ratio should validate: %v", err)
	}

	cfg.Modules[0].RateHz = 150 // not an integer multiple
	if err := cfg.Validate(); err == nil {
		t.Error("non-integer ratio should be rejected")
	}

	cfg.Modules[0].RateHz = 50 // slower than major rate
	if err := cfg.Validate(); err == nil {
		t.Error("sub-major-rate module rate should be rejected")
	}
}

func TestRateRatioDefaultsToOne(t *testing.T) {
	cfg := baseConfig()
	if got := cfg.RateRatio("phys"); got != 1 {
		t.Errorf("RateRatio(no override) = %d, want 1", got)
	}
}

func baseConfig() *Config {
	return &Config{
		Modules: []ModuleConfig{
			{
				Name:       "phys",
				Type:       ModuleExternal,
				Executable: "/bin/true",
				Signals: []SignalConfig{
					{Name: "x", Type: TypeF64, Writable: true},
				},
			},
			{
				Name:   "ctrl",
				Type:   ModuleScript,
				Script: "ctrl.lua",
				Signals: []SignalConfig{
					{Name: "cmd", Type: TypeF64, Writable: true},
				},
			},
		},
		Execution: ExecutionConfig{
			Mode:     ModeRealtime,
			RateHz:   100,
			Schedule: []string{"phys", "ctrl"},
		},
	}
}
