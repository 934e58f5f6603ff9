package config

import (
	"fmt"

	"hermes/internal/backplane"
	"hermes/internal/herrors"
	"hermes/internal/registry"
)

// Validate applies the cross-checks of spec §6.1: unique module names,
// each module must use a known type with the fields that type requires,
// wire endpoints must exist in the registry and the destination must be
// writable, and schedule entries must be a permutation (or subset) of
// the defined modules. It also validates the execution rate and, per
// spec §9 Open Question (a), any per-module rate override.
func (c *Config) Validate() error {
	if len(c.Modules) == 0 {
		return herrors.WrapWithDetail(nil, herrors.Config, "validate", "no modules defined")
	}

	if c.Execution.RateHz <= 0 {
		return herrors.ErrInvalidRate
	}

	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if m.Name == "" {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate", "module entry missing name")
		}
		if seen[m.Name] {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate", fmt.Sprintf("%s: %s", herrors.ErrDuplicateModuleName.Detail, m.Name))
		}
		seen[m.Name] = true

		if m.Type != ModuleExternal && m.Type != ModuleScript {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate", fmt.Sprintf("module %s: unknown type %q", m.Name, m.Type))
		}
		if m.Type == ModuleExternal && m.Executable == "" {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate", fmt.Sprintf("module %s: executable is required for type external", m.Name))
		}
		if m.Type == ModuleScript && m.Script == "" {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate", fmt.Sprintf("module %s: script is required for type script", m.Name))
		}
		if m.RateHz != 0 {
			if err := validateRateRatio(m.RateHz, c.Execution.RateHz); err != nil {
				return herrors.WrapWithModule(err, herrors.Config, "validate", m.Name)
			}
		}
	}

	reg, err := c.buildRegistry()
	if err != nil {
		return err
	}

	for _, w := range c.Wiring {
		if w.Src == w.Dst {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate", fmt.Sprintf("%s: %s", herrors.ErrWireSelfLoop.Detail, w.Src))
		}
		if !reg.Has(w.Src) {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate", fmt.Sprintf("%s: src %s", herrors.ErrWireUnknownEndpoint.Detail, w.Src))
		}
		writable, ok := reg.IsWritable(w.Dst)
		if !ok {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate", fmt.Sprintf("%s: dst %s", herrors.ErrWireUnknownEndpoint.Detail, w.Dst))
		}
		if !writable {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate", fmt.Sprintf("%s: dst %s", herrors.ErrWireDstNotWritable.Detail, w.Dst))
		}
	}

	for _, name := range c.Execution.Schedule {
		if _, ok := c.ModuleByName(name); !ok {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate", fmt.Sprintf("%s: %s", herrors.ErrScheduleUnknownModule.Detail, name))
		}
	}

	return nil
}

// buildRegistry constructs the signal registry implied by the config's
// module declarations, in configured (declaration) order, per spec
// §4.3's ABI requirement.
func (c *Config) buildRegistry() (*registry.Registry, error) {
	mods := make([]registry.ModuleSignals, 0, len(c.Modules))
	for _, m := range c.Modules {
		sigs := make([]registry.LocalSignal, 0, len(m.Signals))
		for _, s := range m.Signals {
			dt, err := dataType(s.Type)
			if err != nil {
				return nil, herrors.WrapWithModule(err, herrors.Config, "validate", m.Name)
			}
			sigs = append(sigs, registry.LocalSignal{
				Name:        s.Name,
				Type:        dt,
				Writable:    s.Writable,
				Published:   s.Published,
				Unit:        s.Unit,
				Description: s.Description,
			})
		}
		mods = append(mods, registry.ModuleSignals{Module: m.Name, Signals: sigs})
	}

	return registry.Build(mods)
}

// Registry builds the signal registry for this config. It re-derives
// the registry rather than caching it, so callers should build it once
// after Validate succeeds and reuse the result (internal/manager does).
func (c *Config) Registry() (*registry.Registry, error) {
	return c.buildRegistry()
}

// validateRateRatio enforces spec §9 Open Question (a): a per-module
// rate must be an integer multiple of the execution rate (the module
// substeps that many times within one major frame).
func validateRateRatio(moduleHz, execHz float64) error {
	if moduleHz < execHz {
		return herrors.ErrInvalidRateRatio
	}
	ratio := moduleHz / execHz
	rounded := float64(int64(ratio + 0.5))
	const tolerance = 1e-6
	if ratio-rounded > tolerance || rounded-ratio > tolerance {
		return herrors.ErrInvalidRateRatio
	}
	if int64(rounded) < 1 {
		return herrors.ErrInvalidRateRatio
	}
	return nil
}

// RateRatio returns the validated integer substep ratio for a module,
// or 1 if the module has no rate override.
func (c *Config) RateRatio(moduleName string) int {
	m, ok := c.ModuleByName(moduleName)
	if !ok || m.RateHz == 0 {
		return 1
	}
	return int(m.RateHz/c.Execution.RateHz + 0.5)
}

// dataType maps the YAML-facing type spelling to backplane.DataType.
func dataType(name DataTypeName) (backplane.DataType, error) {
	switch name {
	case TypeF64:
		return backplane.F64, nil
	case TypeF32:
		return backplane.F32, nil
	case TypeI64:
		return backplane.I64, nil
	case TypeI32:
		return backplane.I32, nil
	case TypeBool:
		return backplane.Bool, nil
	default:
		return 0, herrors.WrapWithDetail(nil, herrors.Config, "data type", fmt.Sprintf("unknown signal type %q", name))
	}
}
