package manager

import (
	"syscall"
	"time"

	"hermes/internal/ctrlproto"
)

// teardown unlinks the barrier and segment. It is idempotent and safe
// to call on a partially-constructed Manager (e.g. from New's error
// paths, before bar or seg might be assigned), and is the rewind/exit
// path required by spec §4.5: "unlink segment and barrier; ensure
// unlink runs even when the manager itself is interrupted."
func (m *Manager) teardown() {
	if m.cgroup != nil {
		m.cgroup.destroy()
	}
	if m.bar != nil {
		m.bar.Destroy()
		m.bar = nil
	}
	if m.seg != nil {
		m.seg.Destroy()
		m.seg = nil
	}
}

// Terminate runs the three-stage shutdown escalation of spec §4.5: send
// `terminate` to every module and wait up to grace for acks; SIGTERM
// (via the process group, since modules are spawned with Setsid)
// anything still alive and wait up to sigtermWait for it to exit on its
// own; SIGKILL anything still alive after that and wait up to killAfter
// for the reaper to collect it. Finally tears down the segment and
// barrier. It is always safe to call, including after a partial or
// failed Spawn.
func (m *Manager) Terminate(grace, sigtermWait, killAfter time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.modules {
		if h.proc == nil || h.ctrl == nil {
			continue
		}
		// Sent asynchronously so a module that never reads its control
		// channel cannot block shutdown; closing h.ctrl below unblocks it.
		go ctrlproto.Send(h.ctrl, ctrlproto.CmdTerminate)
	}
	m.waitStage(grace)

	anyAlive := false
	for _, h := range m.modules {
		if h.proc == nil || h.state == Done {
			continue
		}
		anyAlive = true
		if h.proc.cmd != nil && h.proc.cmd.Process != nil {
			syscall.Kill(-h.proc.cmd.Process.Pid, syscall.SIGTERM)
		}
	}
	if anyAlive {
		m.waitStage(sigtermWait)
	}

	anyAlive = false
	for _, h := range m.modules {
		if h.proc == nil || h.state == Done {
			continue
		}
		anyAlive = true
		if h.proc.cmd != nil && h.proc.cmd.Process != nil {
			syscall.Kill(-h.proc.cmd.Process.Pid, syscall.SIGKILL)
		}
	}
	if anyAlive {
		m.cgroup.kill()
		m.waitStage(killAfter)
	}

	for _, h := range m.modules {
		if h.proc != nil {
			h.state = Done
		}
		if h.ctrl != nil {
			h.ctrl.Close()
		}
	}

	m.teardown()
	return nil
}

// waitStage waits up to timeout, split across every still-running
// module's done channel, marking each Done as soon as it reports.
func (m *Manager) waitStage(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for _, h := range m.modules {
		if h.proc == nil || h.state == Done {
			continue
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-h.proc.done:
			h.state = Done
		case <-time.After(remaining):
		}
	}
}
