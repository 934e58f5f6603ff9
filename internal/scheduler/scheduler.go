// Package scheduler drives the frame loop of spec §4.6: it owns
// frame/time_ns, paces execution against REALTIME/AFAP/SINGLE_FRAME
// modes, and exposes stage/step/pause/resume/stop as safe to call from
// a goroutine other than the one running the loop — the same
// goroutine-plus-channel-plus-select shape the teacher uses to make a
// blocking syscall (`Wait4`) cancellable via `container/start.go`'s
// `Wait`, applied here to a blocking `RunFrame` call instead.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"hermes/internal/config"
	"hermes/internal/herrors"
)

// Stager, FrameRunner, and Reseter are the process manager operations the
// scheduler drives; internal/manager's Manager satisfies this directly.
type Stager interface {
	Stage(timeout time.Duration) error
}

type FrameRunner interface {
	RunFrame(ctx context.Context, perModuleWait time.Duration) error
}

type Reseter interface {
	Reset(timeout time.Duration) error
}

// ProcessManager is the subset of internal/manager.Manager the
// scheduler depends on.
type ProcessManager interface {
	Stager
	FrameRunner
	Reseter
}

// Scheduler is the frame loop of spec §4.6.
type Scheduler struct {
	pm ProcessManager

	mode       config.ExecutionMode
	dtNs       uint64
	endTimeNs  *uint64
	frameWait  time.Duration
	stageWait  time.Duration

	frame   atomic.Uint64
	timeNs  atomic.Uint64
	running atomic.Bool
	paused  atomic.Bool
	stopped atomic.Bool

	mu sync.Mutex // serializes Stage/Reset/Run against each other
}

// New builds a Scheduler from a validated execution config. rateHz
// drives dt_ns = round(1e9/rate_hz); perFrameWait bounds how long a
// single RunFrame call may block before being treated as a hung frame.
func New(pm ProcessManager, exec config.ExecutionConfig, perFrameWait, stageWait time.Duration) *Scheduler {
	return &Scheduler{
		pm:        pm,
		mode:      exec.Mode,
		dtNs:      uint64(1e9/exec.RateHz + 0.5),
		endTimeNs: exec.EndTimeNs,
		frameWait: perFrameWait,
		stageWait: stageWait,
	}
}

// Frame returns the current frame counter.
func (s *Scheduler) Frame() uint64 { return s.frame.Load() }

// TimeNs returns the current simulation time in nanoseconds.
func (s *Scheduler) TimeNs() uint64 { return s.timeNs.Load() }

// Stage invokes ProcessManager.Stage and zeroes frame/time_ns.
func (s *Scheduler) Stage() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pm.Stage(s.stageWait); err != nil {
		return err
	}
	s.frame.Store(0)
	s.timeNs.Store(0)
	return nil
}

// Step advances n frames synchronously, each via ProcessManager.RunFrame
// (which includes wire routing), per spec §4.6's step(n).
func (s *Scheduler) Step(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		if err := s.pm.RunFrame(ctx, s.frameWait); err != nil {
			return herrors.Wrap(err, herrors.Internal, "step")
		}
		frame := s.frame.Add(1)
		s.timeNs.Store(frame * s.dtNs)
	}
	return nil
}

// Run loops per spec §4.6's run(callback) until Stop, end_time_ns, or a
// propagated manager error. callback is invoked after every completed
// frame with the just-written (frame, time_ns).
func (s *Scheduler) Run(ctx context.Context, callback func(frame, timeNs uint64)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running.Store(true)
	s.stopped.Store(false)
	defer s.running.Store(false)

	wallStart := time.Now()
	frameCount := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.stopped.Load() {
			return nil
		}
		if s.endTimeNs != nil && s.timeNs.Load() >= *s.endTimeNs {
			return nil
		}
		if s.paused.Load() {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if s.mode == config.ModeSingleFrame {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := s.pm.RunFrame(ctx, s.frameWait); err != nil {
			return herrors.Wrap(err, herrors.Internal, "run")
		}
		frame := s.frame.Add(1)
		timeNs := frame * s.dtNs
		s.timeNs.Store(timeNs)
		if callback != nil {
			callback(frame, timeNs)
		}

		if s.mode == config.ModeRealtime {
			target := wallStart.Add(time.Duration(timeNs))
			if d := time.Until(target); d > 0 {
				time.Sleep(d)
			}
		}

		frameCount++
		if s.mode == config.ModeAFAP && frameCount%100 == 0 {
			runtime.Gosched()
		}
	}
}

// Pause and Resume flip the paused flag; an in-flight frame completes
// before a pause takes effect, per spec §4.6's "Cancellation".
func (s *Scheduler) Pause()  { s.paused.Store(true) }
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Stop halts the run loop at its next check; safe to call from any
// goroutine.
func (s *Scheduler) Stop() { s.stopped.Store(true) }

// ResetClock invokes ProcessManager.Reset and re-zeroes frame/time_ns.
func (s *Scheduler) ResetClock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pm.Reset(s.stageWait); err != nil {
		return err
	}
	s.frame.Store(0)
	s.timeNs.Store(0)
	return nil
}
