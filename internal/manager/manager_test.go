package manager

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"hermes/internal/backplane"
	"hermes/internal/config"
	"hermes/internal/herrors"
)

// countingScript is a ScriptModule that records invocation counts and
// the latest stepped frame (written to out when seg is set), so tests
// can drive the manager's lifecycle methods without spawning real
// processes.
type countingScript struct {
	staged int32
	steps  int32
	resets int32

	stepValue float64
	seg       *backplane.Segment
	out       string
}

func (c *countingScript) Stage() error {
	atomic.AddInt32(&c.staged, 1)
	return nil
}

func (c *countingScript) Step(frame, timeNs uint64) error {
	atomic.AddInt32(&c.steps, 1)
	c.stepValue = float64(frame)
	if c.seg != nil {
		return c.seg.SetF64(c.out, c.stepValue)
	}
	return nil
}

func (c *countingScript) Reset() error {
	atomic.AddInt32(&c.resets, 1)
	return nil
}

func twoScriptConfig() *config.Config {
	return &config.Config{
		Modules: []config.ModuleConfig{
			{
				Name:   "a",
				Type:   config.ModuleScript,
				Script: "a.lua",
				Signals: []config.SignalConfig{
					{Name: "out", Type: config.TypeF64, Writable: true},
				},
			},
			{
				Name:   "b",
				Type:   config.ModuleScript,
				Script: "b.lua",
				Signals: []config.SignalConfig{
					{Name: "in", Type: config.TypeF64, Writable: true},
				},
			},
		},
		Wiring: []config.WireConfig{
			{Src: "a.out", Dst: "b.in", Gain: 2.0, Offset: 1.0},
		},
		Execution: config.ExecutionConfig{
			Mode:     config.ModeRealtime,
			RateHz:   100,
			Schedule: []string{"a", "b"},
		},
	}
}

func TestManagerLifecycle(t *testing.T) {
	cfg := twoScriptConfig()
	sa := &countingScript{}
	sb := &countingScript{}
	scripts := map[string]ScriptModule{"a": sa, "b": sb}

	m, err := New(cfg, scripts, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sa.seg, sa.out = m.Segment(), "a.out"

	if err := m.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := m.Stage(2 * time.Second); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if sa.staged != 1 || sb.staged != 1 {
		t.Fatalf("expected both modules staged once, got a=%d b=%d", sa.staged, sb.staged)
	}

	stA, err := m.ModuleState("a")
	if err != nil || stA != Staged {
		t.Fatalf("module a state = %v, %v, want Staged", stA, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.RunFrame(ctx, time.Second); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}
	if sa.steps != 1 || sb.steps != 1 {
		t.Fatalf("expected one step each, got a=%d b=%d", sa.steps, sb.steps)
	}

	got, err := m.Segment().GetF64("b.in")
	if err != nil {
		t.Fatalf("GetF64: %v", err)
	}
	want := sa.stepValue*2.0 + 1.0
	if got != want {
		t.Errorf("b.in = %v, want %v (routed from a.out)", got, want)
	}

	if err := m.Reset(2 * time.Second); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if sa.resets != 1 || sb.resets != 1 {
		t.Fatalf("expected one reset each, got a=%d b=%d", sa.resets, sb.resets)
	}
	if m.Frame() != 0 {
		t.Errorf("Frame() after Reset = %d, want 0", m.Frame())
	}

	if err := m.Terminate(2*time.Second, 2*time.Second, 2*time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	stA, _ = m.ModuleState("a")
	if stA != Done {
		t.Errorf("module a state after Terminate = %v, want Done", stA)
	}
}

func TestRunFrameDrivesSubsteps(t *testing.T) {
	cfg := &config.Config{
		Modules: []config.ModuleConfig{
			{
				Name:   "fast",
				Type:   config.ModuleScript,
				Script: "fast.lua",
				RateHz: 300,
				Signals: []config.SignalConfig{
					{Name: "x", Type: config.TypeF64, Writable: true},
				},
			},
		},
		Execution: config.ExecutionConfig{
			Mode:     config.ModeRealtime,
			RateHz:   100,
			Schedule: []string{"fast"},
		},
	}

	sf := &countingScript{}
	m, err := New(cfg, map[string]ScriptModule{"fast": sf}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Terminate(2*time.Second, 2*time.Second, 2*time.Second)

	if err := m.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := m.Stage(2 * time.Second); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.RunFrame(ctx, time.Second); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	if sf.steps != 3 {
		t.Errorf("steps = %d, want 3 (rate_hz 300 over execution rate_hz 100)", sf.steps)
	}
}

func TestSpawnRewindsOnFailure(t *testing.T) {
	cfg := &config.Config{
		Modules: []config.ModuleConfig{
			{
				Name:   "good",
				Type:   config.ModuleScript,
				Script: "good.lua",
				Signals: []config.SignalConfig{
					{Name: "x", Type: config.TypeF64, Writable: true},
				},
			},
			{
				Name:       "bad",
				Type:       config.ModuleExternal,
				Executable: "/nonexistent/hermes-module-binary-does-not-exist",
				Signals: []config.SignalConfig{
					{Name: "y", Type: config.TypeF64, Writable: true},
				},
			},
		},
		Execution: config.ExecutionConfig{
			Mode:     config.ModeRealtime,
			RateHz:   100,
			Schedule: []string{"good", "bad"},
		},
	}

	sm := &countingScript{}
	m, err := New(cfg, map[string]ScriptModule{"good": sm}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = m.Spawn(context.Background())
	if err == nil {
		t.Fatal("expected Spawn to fail for an unspawnable executable")
	}

	segName := m.SegmentName()
	if seg, attachErr := backplane.Attach(segName); attachErr == nil {
		seg.Detach()
		t.Errorf("expected segment %s to be unlinked after rewind", segName)
	}
}

// crashingScript's Step fails on its first call without signaling done,
// simulating S6's "module process killed between frames": the module's
// command loop exits (carrying the step error) before the barrier ever
// reaches all-done for that frame.
type crashingScript struct{ countingScript }

func (c *crashingScript) Step(frame, timeNs uint64) error {
	c.countingScript.Step(frame, timeNs)
	return errors.New("simulated crash")
}

// hangingScript's Step never returns, simulating S4's "module that
// sleeps forever in its step".
type hangingScript struct {
	countingScript
	unblock chan struct{}
}

func (h *hangingScript) Step(frame, timeNs uint64) error {
	<-h.unblock
	return nil
}

func oneModuleConfig(name string) *config.Config {
	return &config.Config{
		Modules: []config.ModuleConfig{
			{
				Name:   name,
				Type:   config.ModuleScript,
				Script: name + ".lua",
				Signals: []config.SignalConfig{
					{Name: "x", Type: config.TypeF64, Writable: true},
				},
			},
		},
		Execution: config.ExecutionConfig{
			Mode:     config.ModeRealtime,
			RateHz:   100,
			Schedule: []string{name},
		},
	}
}

// TestDtNsRoundsRatherThanTruncates covers spec §8.3's worked example:
// rate_hz=600 doesn't divide 1e9 evenly, so dt_ns must round to the
// nearest nanosecond (1_666_667) rather than truncate (1_666_666).
func TestDtNsRoundsRatherThanTruncates(t *testing.T) {
	cfg := oneModuleConfig("ticker")
	cfg.Execution.RateHz = 600
	sm := &countingScript{}

	m, err := New(cfg, map[string]ScriptModule{"ticker": sm}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Terminate(time.Second, time.Second, time.Second)

	if err := m.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := m.Stage(2 * time.Second); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.RunFrame(ctx, time.Second); err != nil {
		t.Fatalf("RunFrame: %v", err)
	}

	const wantDtNs = 1_666_667
	if got := m.Segment().GetTimeNs(); got != wantDtNs {
		t.Errorf("time_ns after one frame at rate_hz=600 = %d, want %d", got, wantDtNs)
	}
}

func TestRunFrameReportsModuleCrashed(t *testing.T) {
	cfg := oneModuleConfig("victim")
	sm := &crashingScript{}
	m, err := New(cfg, map[string]ScriptModule{"victim": sm}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Terminate(time.Second, time.Second, time.Second)

	if err := m.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := m.Stage(2 * time.Second); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = m.RunFrame(ctx, 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected RunFrame to report the crash")
	}
	if !herrors.IsKind(err, herrors.ModuleCrashed) {
		t.Errorf("RunFrame error kind = %v, want ModuleCrashed", err)
	}

	st, _ := m.ModuleState("victim")
	if st != Error {
		t.Errorf("module state after crash = %v, want Error", st)
	}
}

func TestRunFrameReportsBarrierTimeoutForHungModule(t *testing.T) {
	cfg := oneModuleConfig("sleepy")
	sm := &hangingScript{unblock: make(chan struct{})}
	defer close(sm.unblock)

	m, err := New(cfg, map[string]ScriptModule{"sleepy": sm}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Terminate(time.Second, time.Second, time.Second)

	if err := m.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := m.Stage(2 * time.Second); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = m.RunFrame(ctx, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected RunFrame to time out")
	}
	if !herrors.IsKind(err, herrors.BarrierTimeout) {
		t.Errorf("RunFrame error kind = %v, want BarrierTimeout", err)
	}
}
