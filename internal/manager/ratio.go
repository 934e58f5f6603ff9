package manager

import (
	"time"

	"hermes/internal/ctrlproto"
	"hermes/internal/herrors"
)

// runSubsteps drives the (ratio-1) extra steps a module configured with
// a rate_hz above the execution rate owes within one major frame, per
// spec §9 Open Question (a). These run over the control channel rather
// than the frame barrier: the barrier's step/done pair is a single
// anonymous credit shared by every module, so it cannot address "two
// credits for module A, one for module B" without modules racing each
// other for credits that are not truly theirs. A direct, addressed
// control-channel round trip per extra step sidesteps that rather than
// reaching for a more intricate multi-phase barrier protocol.
func (m *Manager) runSubsteps(h *moduleHandle, frame, timeNs uint64, perWait time.Duration) error {
	if h.ratio <= 1 {
		return nil
	}
	for i := 1; i < h.ratio; i++ {
		reply, err := m.sendMicrostep(h, frame, timeNs, perWait)
		if err != nil {
			return herrors.WrapWithModule(err, herrors.Internal, "microstep", h.cfg.Name)
		}
		if !reply.Ack {
			return herrors.WrapWithDetail(nil, herrors.Internal, "microstep", h.cfg.Name+": "+reply.Error)
		}
	}
	return nil
}

func (m *Manager) sendMicrostep(h *moduleHandle, frame, timeNs uint64, timeout time.Duration) (ctrlproto.Reply, error) {
	type result struct {
		reply ctrlproto.Reply
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		reply, err := ctrlproto.SendMicrostep(h.ctrl, frame, timeNs)
		ch <- result{reply, err}
	}()
	select {
	case r := <-ch:
		return r.reply, r.err
	case <-time.After(timeout):
		return ctrlproto.Reply{}, herrors.New(herrors.Internal, "microstep", "timed out waiting for ack")
	}
}
