package manager

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"hermes/internal/backplane"
	"hermes/internal/barrier"
	"hermes/internal/config"
	"hermes/internal/herrors"
	"hermes/internal/registry"
	"hermes/internal/router"
)

// ScriptModule is the interface an in-language script module implements,
// per spec §4.4/§4.5's "in-language scripting client" category. The
// manager drives it through the same modrt.Runtime command loop as an
// external executable would use, just without a fork+exec — it runs as
// a goroutine instead, connected to the manager by an in-process pipe.
type ScriptModule interface {
	Stage() error
	Step(frame, timeNs uint64) error
	Reset() error
}

// moduleHandle is everything the manager tracks about one configured
// module across its lifetime.
type moduleHandle struct {
	cfg   config.ModuleConfig
	state State
	ratio int // steps per major frame, per spec §9 Open Question (a)

	ctrl   io.ReadWriteCloser // manager-side control channel
	proc   *processHandle    // external process or in-process script goroutine
	script ScriptModule      // non-nil for type: script, until Spawn wires it into proc
}

// Manager is the process manager of spec §4.5: it owns the segment and
// barrier, spawns and sequences modules, coordinates frames, and tears
// everything down on exit.
type Manager struct {
	mu sync.Mutex

	cfg    *config.Config
	reg    *registry.Registry
	router *router.Router

	seg *backplane.Segment
	bar *barrier.Barrier

	segName, barName string
	cgroup           *moduleCgroup

	modules []*moduleHandle // in execution (schedule) order
	byName  map[string]*moduleHandle

	dtNs uint64

	log *slog.Logger
}

// New validates cfg, builds the registry and router, and materializes
// the segment and barrier. It does not spawn modules yet — call Spawn
// for that once New succeeds, so a construction failure never leaves a
// partially-spawned process tree to clean up.
func New(cfg *config.Config, scripts map[string]ScriptModule, log *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	rt, err := router.Compile(cfg.Wiring, reg)
	if err != nil {
		return nil, err
	}

	runID := time.Now().UnixNano()
	segName := fmt.Sprintf("hermes-%d", runID)
	barName := fmt.Sprintf("hermes-%d", runID)

	seg, err := backplane.Create(segName, reg.Specs())
	if err != nil {
		return nil, err
	}

	order := cfg.Execution.Schedule
	if len(order) == 0 {
		for _, m := range cfg.Modules {
			order = append(order, m.Name)
		}
	}

	bar, err := barrier.Create(barName, len(order))
	if err != nil {
		seg.Destroy()
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		cfg:     cfg,
		reg:     reg,
		router:  rt,
		seg:     seg,
		bar:     bar,
		segName: segName,
		barName: barName,
		cgroup:  newModuleCgroup(segName),
		byName:  make(map[string]*moduleHandle),
		dtNs:    uint64(1e9/cfg.Execution.RateHz + 0.5),
		log:     log,
	}

	for _, name := range order {
		mc, ok := cfg.ModuleByName(name)
		if !ok {
			m.teardown()
			return nil, herrors.WrapWithDetail(nil, herrors.Config, "new", "schedule references undefined module: "+name)
		}
		h := &moduleHandle{cfg: mc, state: Init, ratio: cfg.RateRatio(name)}
		if mc.Type == config.ModuleScript {
			sm, ok := scripts[name]
			if !ok {
				m.teardown()
				return nil, herrors.WrapWithDetail(nil, herrors.Config, "new", "no ScriptModule registered for script module: "+name)
			}
			h.script = sm
		}
		m.modules = append(m.modules, h)
		m.byName[name] = h
	}

	return m, nil
}

// Segment returns the underlying shared-memory segment, for direct
// reads by telemetry or tests.
func (m *Manager) Segment() *backplane.Segment { return m.seg }

// Frame returns the current frame counter.
func (m *Manager) Frame() uint64 { return m.seg.GetFrame() }

// SegmentName and BarrierName return the names external module
// processes need to attach, per spec §4.4.
func (m *Manager) SegmentName() string { return m.segName }
func (m *Manager) BarrierName() string { return m.barName }

// ModuleState returns a module's current lifecycle state.
func (m *Manager) ModuleState(name string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.byName[name]
	if !ok {
		return 0, herrors.ErrNoSuchModule
	}
	return h.state, nil
}

func (m *Manager) transition(h *moduleHandle, next State) error {
	if !canTransition(h.state, next) {
		return herrors.WrapWithDetail(nil, herrors.Internal, "transition", fmt.Sprintf("%s -> %s", h.state, next))
	}
	h.state = next
	return nil
}
