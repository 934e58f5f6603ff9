// Package config implements the Hermes YAML-backed config object of spec
// §6.1: the validated value the core's constructors take directly (the
// core never re-parses YAML itself — config ingestion is an external
// collaborator per spec §1's scope, this package is the thin edge that
// produces the object for the CLI).
package config

// DataTypeName is the YAML-facing spelling of a scalar signal type,
// mapped to backplane.DataType during registry construction.
type DataTypeName string

const (
	TypeF64  DataTypeName = "f64"
	TypeF32  DataTypeName = "f32"
	TypeI64  DataTypeName = "i64"
	TypeI32  DataTypeName = "i32"
	TypeBool DataTypeName = "bool"
)

// ModuleType distinguishes an external executable module from an
// in-language script module, per spec §3.4.
type ModuleType string

const (
	ModuleExternal ModuleType = "external"
	ModuleScript   ModuleType = "script"
)

// ExecutionMode selects the scheduler's pacing strategy, per spec §4.6.
type ExecutionMode string

const (
	ModeRealtime     ExecutionMode = "realtime"
	ModeAFAP         ExecutionMode = "afap"
	ModeSingleFrame  ExecutionMode = "single_frame"
)

// SignalConfig is one signal declaration within a module, per spec §6.1.
type SignalConfig struct {
	Name        string  `yaml:"name"`
	Type        DataTypeName `yaml:"type"`
	Unit        string  `yaml:"unit,omitempty"`
	Writable    bool    `yaml:"writable,omitempty"`
	Published   bool    `yaml:"published,omitempty"`
	Description string  `yaml:"description,omitempty"`
}

// ModuleConfig describes one module entry under modules: in §6.1. It is
// a list entry, not a map value: spec §4.3 defines slot order as "the
// concatenation of modules' declared signals in configured module
// order", and a YAML map decodes to a Go map with no order guarantee, so
// the on-disk shape is a sequence and Name carries the module's key.
type ModuleConfig struct {
	Name       string         `yaml:"name"`
	Type       ModuleType     `yaml:"type"`
	Executable string         `yaml:"executable,omitempty"`
	Script     string         `yaml:"script,omitempty"`
	Config     string         `yaml:"config,omitempty"`
	Signals    []SignalConfig `yaml:"signals"`
	// RateHz is the optional per-module rate override from spec §9 Open
	// Question (a); zero means "steps once per major frame".
	RateHz float64 `yaml:"rate_hz,omitempty"`
}

// WireConfig describes one wiring entry, per spec §3.6/§6.1.
type WireConfig struct {
	Src    string  `yaml:"src"`
	Dst    string  `yaml:"dst"`
	Gain   float64 `yaml:"gain"`
	Offset float64 `yaml:"offset"`
}

// ExecutionConfig describes the execution: block of §6.1.
type ExecutionConfig struct {
	Mode       ExecutionMode `yaml:"mode"`
	RateHz     float64       `yaml:"rate_hz"`
	EndTimeNs  *uint64       `yaml:"end_time_ns,omitempty"`
	Schedule   []string      `yaml:"schedule"`
}

// ServerConfig describes the server: block of §6.1, passed through
// unmodified to the (out of scope) telemetry collaborator.
type ServerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Host        string  `yaml:"host,omitempty"`
	Port        int     `yaml:"port,omitempty"`
	TelemetryHz float64 `yaml:"telemetry_hz,omitempty"`
}

// Config is the full validated object assumed present by the core, per
// spec §6.1.
type Config struct {
	Modules   []ModuleConfig  `yaml:"modules"`
	Wiring    []WireConfig    `yaml:"wiring"`
	Execution ExecutionConfig `yaml:"execution"`
	Server    ServerConfig    `yaml:"server"`
}

// ModuleByName returns the module config entry named name, preserving
// the declared-order semantics: the first match wins (duplicates are a
// Validate error, never silently shadowed here).
func (c *Config) ModuleByName(name string) (ModuleConfig, bool) {
	for _, m := range c.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return ModuleConfig{}, false
}
