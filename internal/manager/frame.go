package manager

import (
	"context"
	"time"

	"hermes/internal/ctrlproto"
	"hermes/internal/herrors"
)

// Stage sends `stage` to every module and waits for acks within
// timeout, per spec §4.5's "Stage": any failure is fatal.
func (m *Manager) Stage(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.modules {
		reply, err := m.sendAndWait(h, ctrlproto.CmdStage, timeout)
		if err != nil {
			m.transition(h, Error)
			return herrors.WrapWithModule(err, herrors.Internal, "stage", h.cfg.Name)
		}
		if !reply.Ack {
			m.transition(h, Error)
			return herrors.WrapWithDetail(nil, herrors.Internal, "stage", h.cfg.Name+": "+reply.Error)
		}
		if err := m.transition(h, Staged); err != nil {
			return err
		}
	}
	return nil
}

// RunFrame performs one frame of the per-frame coordination protocol of
// spec §4.5: write (frame, time_ns), release step for every module,
// collect done from each module in execution order, then route wires.
// It advances to Running on first call.
func (m *Manager) RunFrame(ctx context.Context, perModuleWait time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.modules {
		if h.state == Staged {
			if err := m.transition(h, Running); err != nil {
				return err
			}
		}
	}

	frame := m.seg.GetFrame() + 1
	timeNs := frame * m.dtNs
	m.seg.SetClock(frame, timeNs)

	if err := m.bar.PostStep(len(m.modules)); err != nil {
		return herrors.Wrap(err, herrors.Semaphore, "post_step")
	}

	timedOutAt, err := m.bar.WaitAllDone(ctx, len(m.modules), perModuleWait)
	if err != nil {
		return herrors.Wrap(err, herrors.BarrierTimeout, "wait_all_done")
	}
	if timedOutAt != -1 {
		offender := m.modules[timedOutAt]
		m.transition(offender, Error)
		if exitErr, crashed := offender.crashed(); crashed {
			return herrors.WrapWithModule(exitErr, herrors.ModuleCrashed, "wait_all_done", offender.cfg.Name)
		}
		return herrors.WrapWithModule(nil, herrors.BarrierTimeout, "wait_all_done", offender.cfg.Name)
	}

	for _, h := range m.modules {
		if err := m.runSubsteps(h, frame, timeNs, perModuleWait); err != nil {
			m.transition(h, Error)
			return err
		}
	}

	if err := m.router.Route(m.seg); err != nil {
		return herrors.Wrap(err, herrors.Internal, "route")
	}
	return nil
}

// Reset sends `reset` to all modules and waits for acks, then re-zeros
// frame and time_ns, per spec §4.5's "Reset".
func (m *Manager) Reset(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.modules {
		reply, err := m.sendAndWait(h, ctrlproto.CmdReset, timeout)
		if err != nil || !reply.Ack {
			m.transition(h, Error)
			return herrors.WrapWithModule(err, herrors.Internal, "reset", h.cfg.Name)
		}
		if err := m.transition(h, Staged); err != nil {
			return err
		}
	}
	m.seg.SetClock(0, 0)
	return nil
}

// Pause and Resume notify modules that the manager is withholding (or
// resuming) step releases; the barrier itself is unaffected, per spec
// §4.4 item 3.
func (m *Manager) Pause(timeout time.Duration) error { return m.broadcast(ctrlproto.CmdPause, timeout, Paused) }
func (m *Manager) Resume(timeout time.Duration) error { return m.broadcast(ctrlproto.CmdResume, timeout, Running) }

func (m *Manager) broadcast(cmd ctrlproto.Command, timeout time.Duration, next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.modules {
		reply, err := m.sendAndWait(h, cmd, timeout)
		if err != nil || !reply.Ack {
			m.transition(h, Error)
			return herrors.WrapWithModule(err, herrors.Internal, string(cmd), h.cfg.Name)
		}
		if err := m.transition(h, next); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) sendAndWait(h *moduleHandle, cmd ctrlproto.Command, timeout time.Duration) (ctrlproto.Reply, error) {
	type result struct {
		reply ctrlproto.Reply
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		reply, err := ctrlproto.Send(h.ctrl, cmd)
		ch <- result{reply, err}
	}()
	select {
	case r := <-ch:
		return r.reply, r.err
	case <-time.After(timeout):
		return ctrlproto.Reply{}, herrors.New(herrors.Internal, string(cmd), "timed out waiting for ack")
	}
}
