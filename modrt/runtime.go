package modrt

import (
	"context"
	"io"
	"time"

	"hermes/internal/backplane"
	"hermes/internal/barrier"
	"hermes/internal/ctrlproto"
	"hermes/internal/herrors"
)

// Params carries the attach parameters a module process receives via
// CLI arguments or environment, per spec §4.4.
type Params struct {
	SegmentName string
	BarrierName string
	ModuleName  string
	ConfigPath  string
	NumModules  int
}

// Runtime is an attached module's view of the simulation: the segment,
// the barrier, and (once Loop is running) the control channel.
type Runtime struct {
	Segment *backplane.Segment
	Barrier *barrier.Barrier
	Name    string
	Config  string

	ctrl  io.ReadWriteCloser
	local bool // true if Segment/Barrier are borrowed (NewLocal), not owned
}

// Attach attaches the segment and barrier named in p. It does not read
// the control channel; call SetControlChannel (or pass one to Loop)
// separately, since the channel is typically an inherited pipe fd set
// up by the process manager rather than discoverable from p alone.
func Attach(ctx context.Context, p Params) (*Runtime, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	seg, err := backplane.Attach(p.SegmentName)
	if err != nil {
		return nil, herrors.WrapWithModule(err, herrors.SharedMemory, "attach", p.ModuleName)
	}
	bar, err := barrier.Attach(p.BarrierName, p.NumModules)
	if err != nil {
		seg.Detach()
		return nil, herrors.WrapWithModule(err, herrors.Semaphore, "attach", p.ModuleName)
	}

	return &Runtime{Segment: seg, Barrier: bar, Name: p.ModuleName, Config: p.ConfigPath}, nil
}

// NewLocal builds a Runtime directly from an already-open segment and
// barrier, for in-process use (script modules driven by the process
// manager, and tests) where attaching a second time to the same named
// resources would be redundant.
func NewLocal(seg *backplane.Segment, bar *barrier.Barrier, name string) *Runtime {
	return &Runtime{Segment: seg, Barrier: bar, Name: name, local: true}
}

// SetControlChannel attaches the control channel a module reads
// stage/reset/pause/resume/terminate commands from. Typically this is
// the module's end of an os.Pipe() the process manager created before
// spawn and passed via an inherited file descriptor.
func (r *Runtime) SetControlChannel(ctrl io.ReadWriteCloser) {
	r.ctrl = ctrl
}

// Close detaches the segment; it does not destroy it (the process
// manager owns segment/barrier lifetime, per spec §4.5). For a
// NewLocal Runtime the segment and barrier are borrowed from the
// manager, which keeps using them after this module's Loop returns, so
// Close leaves them mapped and only closes the control channel.
func (r *Runtime) Close() error {
	if r.ctrl != nil {
		r.ctrl.Close()
	}
	if r.local {
		return nil
	}
	return r.Segment.Detach()
}

// Loop implements the module command loop of spec §4.4: wait for
// `stage`, call stager, ack; then alternate between servicing control
// commands and the per-frame wait_step/step/signal_done cycle until
// `terminate`. `pause` and `resume` are acknowledged and change nothing
// on the module side: the loop keeps polling wait_step, and the manager
// is responsible for withholding `step` releases during a pause, per
// spec §4.4 item 3's "the module need only continue to wait_step".
func (r *Runtime) Loop(stager func() error, stepper func(frame, timeNs uint64) error, reseter func() error) error {
	if err := r.waitForCommand(CmdStage, stager); err != nil {
		return err
	}

	const pollInterval = 50 * time.Millisecond
	for {
		msg, ok, err := r.pollMessage()
		if err != nil {
			return err
		}
		if ok {
			switch msg.Cmd {
			case CmdReset:
				if err := r.ackCommand(reseter); err != nil {
					return err
				}
				continue
			case CmdTerminate:
				r.ackCommand(func() error { return nil })
				return nil
			case CmdPause, CmdResume:
				r.ackCommand(func() error { return nil })
				continue
			case CmdMicrostep:
				if err := r.ackCommand(func() error { return stepper(msg.Frame, msg.TimeNs) }); err != nil {
					return err
				}
				continue
			}
		}

		released, err := r.Barrier.WaitStep(pollInterval)
		if err != nil {
			return herrors.WrapWithModule(err, herrors.Semaphore, "wait_step", r.Name)
		}
		if !released {
			continue
		}

		frame := r.Segment.GetFrame()
		timeNs := r.Segment.GetTimeNs()
		if err := stepper(frame, timeNs); err != nil {
			return herrors.WrapWithModule(err, herrors.Internal, "step", r.Name)
		}
		if err := r.Barrier.SignalDone(); err != nil {
			return herrors.WrapWithModule(err, herrors.Semaphore, "signal_done", r.Name)
		}
	}
}

// waitForCommand blocks for exactly one expected command and runs fn on
// receipt, replying ack/nack.
func (r *Runtime) waitForCommand(want Command, fn func() error) error {
	var msg ctrlproto.Message
	if err := ctrlproto.ReadFrame(r.ctrl, &msg); err != nil {
		return herrors.WrapWithModule(err, herrors.Protocol, "read control", r.Name)
	}
	if msg.Cmd != want {
		return herrors.WrapWithDetail(nil, herrors.Protocol, "control", "expected "+string(want)+", got "+string(msg.Cmd))
	}
	return r.ackCommand(fn)
}

// pollMessage does a bounded-wait check for a queued control message,
// via a short read deadline on the control channel (required — see
// DuplexPipe.SetReadDeadline). A deadline expiring with nothing to read
// is the normal "no command pending" case, not an error.
func (r *Runtime) pollMessage() (ctrlproto.Message, bool, error) {
	type deadliner interface {
		SetReadDeadline(time.Time) error
	}
	d, ok := r.ctrl.(deadliner)
	if !ok {
		return ctrlproto.Message{}, false, herrors.WrapWithDetail(nil, herrors.Protocol, "poll control", "control channel does not support read deadlines")
	}
	if err := d.SetReadDeadline(time.Now().Add(1 * time.Millisecond)); err != nil {
		return ctrlproto.Message{}, false, herrors.WrapWithModule(err, herrors.Protocol, "poll control", r.Name)
	}
	var msg ctrlproto.Message
	err := ctrlproto.ReadFrame(r.ctrl, &msg)
	d.SetReadDeadline(time.Time{})
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return ctrlproto.Message{}, false, nil
		}
		return ctrlproto.Message{}, false, herrors.WrapWithModule(err, herrors.Protocol, "poll control", r.Name)
	}
	return msg, true, nil
}

func (r *Runtime) ackCommand(fn func() error) error {
	err := fn()
	reply := ctrlproto.Reply{Ack: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}
	if werr := ctrlproto.WriteFrame(r.ctrl, reply); werr != nil {
		return herrors.WrapWithModule(werr, herrors.Protocol, "write control", r.Name)
	}
	return err
}

// GetSignal returns a signal's value widened to float64.
func (r *Runtime) GetSignal(name string) (float64, error) {
	return r.Segment.GetSignal(name)
}

// SetSignal sets a signal's value, narrowed from float64.
func (r *Runtime) SetSignal(name string, value float64) error {
	return r.Segment.SetSignal(name, value)
}

// GetF64 returns the exact f64 value of name.
func (r *Runtime) GetF64(name string) (float64, error) { return r.Segment.GetF64(name) }

// SetF64 sets the exact f64 value of name.
func (r *Runtime) SetF64(name string, v float64) error { return r.Segment.SetF64(name, v) }

// GetF32 returns the exact f32 value of name.
func (r *Runtime) GetF32(name string) (float32, error) { return r.Segment.GetF32(name) }

// SetF32 sets the exact f32 value of name.
func (r *Runtime) SetF32(name string, v float32) error { return r.Segment.SetF32(name, v) }

// GetI64 returns the exact i64 value of name.
func (r *Runtime) GetI64(name string) (int64, error) { return r.Segment.GetI64(name) }

// SetI64 sets the exact i64 value of name.
func (r *Runtime) SetI64(name string, v int64) error { return r.Segment.SetI64(name, v) }

// GetI32 returns the exact i32 value of name.
func (r *Runtime) GetI32(name string) (int32, error) { return r.Segment.GetI32(name) }

// SetI32 sets the exact i32 value of name.
func (r *Runtime) SetI32(name string, v int32) error { return r.Segment.SetI32(name, v) }

// GetBool returns the exact bool value of name.
func (r *Runtime) GetBool(name string) (bool, error) { return r.Segment.GetBool(name) }

// SetBool sets the exact bool value of name.
func (r *Runtime) SetBool(name string, v bool) error { return r.Segment.SetBool(name, v) }
