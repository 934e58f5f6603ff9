// Package registry implements the signal registry and segment builder of
// spec §4.3: a stateless helper, consulted during segment construction
// and by the wire router, mapping qualified signal names to slots.
package registry

import (
	"fmt"
	"regexp"

	"hermes/internal/backplane"
	"hermes/internal/herrors"
)

// validNamePart matches a single dot-separated component: ASCII
// alphanumeric plus underscore/hyphen, no leading digit requirement
// beyond ASCII-printable-without-NUL-or-whitespace per spec §4.3.
var validNamePart = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ModuleSignals is one module's declared signals, in declaration order,
// the unit the builder consumes per spec §4.3 ("the concatenation of
// modules' declared signals in configured module order; within a
// module, declaration order").
type ModuleSignals struct {
	Module  string
	Signals []LocalSignal
}

// LocalSignal is a signal as declared within a module, before qualified
// naming is applied.
type LocalSignal struct {
	Name        string
	Type        backplane.DataType
	Writable    bool
	Published   bool
	Unit        string
	Description string
}

// Registry is the ordered, validated slot list fed into the segment
// builder, plus the name→declaration-order index used by the wire
// router and CLI.
type Registry struct {
	specs  []backplane.SignalSpec
	byName map[string]int
}

// Build validates and orders a flat list of (module, local signal)
// declarations into a Registry, per spec §4.3's validation rules:
// qualified-name uniqueness; name non-empty, <=255 bytes,
// ASCII-printable without NUL or whitespace; slot order is the
// concatenation of modules in configured order, then declaration order
// within each module.
func Build(modules []ModuleSignals) (*Registry, error) {
	var specs []backplane.SignalSpec
	byName := make(map[string]int)

	for _, m := range modules {
		for _, sig := range m.Signals {
			qualified := m.Module + "." + sig.Name
			if err := ValidateName(qualified); err != nil {
				return nil, err
			}
			if _, exists := byName[qualified]; exists {
				return nil, herrors.WrapWithDetail(nil, herrors.Config, "build registry", fmt.Sprintf("%s: %s", herrors.ErrDuplicateSignalName.Detail, qualified))
			}

			var flags uint8
			if sig.Writable {
				flags |= backplane.Writable
			}
			if sig.Published {
				flags |= backplane.Published
			}

			byName[qualified] = len(specs)
			specs = append(specs, backplane.SignalSpec{
				Name:        qualified,
				Type:        sig.Type,
				Flags:       flags,
				Unit:        sig.Unit,
				Description: sig.Description,
			})
		}
	}

	return &Registry{specs: specs, byName: byName}, nil
}

// ValidateName checks a qualified signal name against spec §4.3's rules:
// non-empty, <=255 bytes, ASCII-printable, no NUL or whitespace, and
// (since a qualified name is "<module>.<local>") exactly one dot
// separating two valid name parts.
func ValidateName(qualified string) error {
	if qualified == "" || len(qualified) > 255 {
		return herrors.WrapWithDetail(nil, herrors.Config, "validate name", fmt.Sprintf("%s: %q", herrors.ErrInvalidSignalName.Detail, qualified))
	}
	dot := -1
	for i, r := range qualified {
		if r == '.' {
			if dot != -1 {
				return herrors.WrapWithDetail(nil, herrors.Config, "validate name", fmt.Sprintf("%s: multiple dots in %q", herrors.ErrInvalidSignalName.Detail, qualified))
			}
			dot = i
			continue
		}
		if r > 127 || r < 0x21 {
			return herrors.WrapWithDetail(nil, herrors.Config, "validate name", fmt.Sprintf("%s: non-ASCII-printable in %q", herrors.ErrInvalidSignalName.Detail, qualified))
		}
	}
	if dot <= 0 || dot == len(qualified)-1 {
		return herrors.WrapWithDetail(nil, herrors.Config, "validate name", fmt.Sprintf("%s: missing module/local split in %q", herrors.ErrInvalidSignalName.Detail, qualified))
	}
	module, local := qualified[:dot], qualified[dot+1:]
	if !validNamePart.MatchString(module) || !validNamePart.MatchString(local) {
		return herrors.WrapWithDetail(nil, herrors.Config, "validate name", fmt.Sprintf("%s: %q", herrors.ErrInvalidSignalName.Detail, qualified))
	}
	return nil
}

// Specs returns the ordered signal specs, ready to pass to
// backplane.Create.
func (r *Registry) Specs() []backplane.SignalSpec {
	return r.specs
}

// Slot returns the declaration-order slot index of a qualified name.
func (r *Registry) Slot(name string) (int, bool) {
	idx, ok := r.byName[name]
	return idx, ok
}

// Has reports whether a qualified name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// IsWritable reports whether a registered signal carries the WRITABLE
// flag. The second return value is false if the name is not registered.
func (r *Registry) IsWritable(name string) (bool, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return false, false
	}
	return r.specs[idx].Flags&backplane.Writable != 0, true
}

// Len returns the total number of registered signals.
func (r *Registry) Len() int {
	return len(r.specs)
}
