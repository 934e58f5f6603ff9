// Package router implements the wire router of spec §3.6/§4.7: a
// compiled list of point-to-point signal connections applied once per
// frame, after all modules have signaled done and before the clock
// advances, each computing dst = src*gain + offset.
package router

import (
	"fmt"

	"hermes/internal/backplane"
	"hermes/internal/config"
	"hermes/internal/herrors"
	"hermes/internal/registry"
)

// Wire is one compiled connection: read the value at src, apply the
// affine transform, write it to dst.
type Wire struct {
	Src    string
	Dst    string
	Gain   float64
	Offset float64
}

// Router holds the compiled wire list for one simulation, resolved
// against a registry so endpoint existence and writability are checked
// once at compile time rather than on every frame.
type Router struct {
	wires []Wire
}

// Compile validates and compiles a config's wiring block against a
// registry, per spec §4.7. It re-checks the invariants internal/config
// already validated (self-loop, endpoint existence, destination
// writability) so a Router can be compiled directly from a registry
// without going through config.Validate, e.g. in tests.
func Compile(wires []config.WireConfig, reg *registry.Registry) (*Router, error) {
	compiled := make([]Wire, 0, len(wires))
	for _, w := range wires {
		if w.Src == w.Dst {
			return nil, herrors.WrapWithDetail(nil, herrors.Config, "compile wire", fmt.Sprintf("%s: %s", herrors.ErrWireSelfLoop.Detail, w.Src))
		}
		if !reg.Has(w.Src) {
			return nil, herrors.WrapWithDetail(nil, herrors.Config, "compile wire", fmt.Sprintf("%s: src %s", herrors.ErrWireUnknownEndpoint.Detail, w.Src))
		}
		writable, ok := reg.IsWritable(w.Dst)
		if !ok {
			return nil, herrors.WrapWithDetail(nil, herrors.Config, "compile wire", fmt.Sprintf("%s: dst %s", herrors.ErrWireUnknownEndpoint.Detail, w.Dst))
		}
		if !writable {
			return nil, herrors.WrapWithDetail(nil, herrors.Config, "compile wire", fmt.Sprintf("%s: dst %s", herrors.ErrWireDstNotWritable.Detail, w.Dst))
		}
		compiled = append(compiled, Wire{Src: w.Src, Dst: w.Dst, Gain: w.Gain, Offset: w.Offset})
	}
	return &Router{wires: compiled}, nil
}

// Route applies every compiled wire once against seg, in declaration
// order. Declaration order matters when wires chain (one wire's dst is
// another's src): per spec §4.7 wires observe whatever value is present
// at the moment they run, not a frame-start snapshot.
func (r *Router) Route(seg *backplane.Segment) error {
	for _, w := range r.wires {
		v, err := seg.GetSignal(w.Src)
		if err != nil {
			return herrors.WrapWithDetail(err, herrors.Internal, "route", w.Src)
		}
		if err := seg.SetSignal(w.Dst, v*w.Gain+w.Offset); err != nil {
			return herrors.WrapWithDetail(err, herrors.Internal, "route", w.Dst)
		}
	}
	return nil
}

// Len returns the number of compiled wires.
func (r *Router) Len() int {
	return len(r.wires)
}
