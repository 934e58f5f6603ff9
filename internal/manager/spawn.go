package manager

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"hermes/internal/config"
	"hermes/internal/ctrlproto"
	"hermes/internal/herrors"
	"hermes/internal/modrt"
)

// processHandle is the spawn-time resources for one module: an external
// process plus its pipes, or a goroutine running a local modrt.Runtime
// for a script module.
type processHandle struct {
	cmd     *exec.Cmd
	done    chan error // receives the exit/Loop error, once
	runtime *modrt.Runtime
}

// Spawn starts every configured module in execution order: external
// modules via fork+exec with the attach parameters passed as
// environment variables plus an inherited control-channel pipe pair,
// script modules as a goroutine driving a local modrt.Runtime. If any
// spawn fails, already-spawned modules are terminated and the
// segment/barrier are unlinked, per spec §4.5's "Spawn" rewind
// requirement.
func (m *Manager) Spawn(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.modules {
		var err error
		switch h.cfg.Type {
		case config.ModuleExternal:
			err = m.spawnExternal(ctx, h)
		default:
			err = m.spawnScript(h)
		}
		if err != nil {
			m.terminateSpawned(ctx)
			m.teardown()
			return herrors.WrapWithModule(err, herrors.ModuleSpawn, "spawn", h.cfg.Name)
		}
	}
	return nil
}

// spawnExternal starts an external module process, per spec §4.4: it
// receives segment name, barrier name, module name, and config path via
// environment, plus two pipe pairs (command-in, reply-out) on fds 3/4 —
// the multi-process generalization of the teacher's container/start.go
// fork+exec plus utils.SyncPipe idiom.
func (m *Manager) spawnExternal(ctx context.Context, h *moduleHandle) error {
	toModuleR, toModuleW, err := os.Pipe()
	if err != nil {
		return err
	}
	fromModuleR, fromModuleW, err := os.Pipe()
	if err != nil {
		toModuleR.Close()
		toModuleW.Close()
		return err
	}

	cmd := exec.CommandContext(ctx, h.cfg.Executable)
	cmd.Env = append(os.Environ(),
		"HERMES_SEGMENT="+m.segName,
		"HERMES_BARRIER="+m.barName,
		"HERMES_MODULE="+h.cfg.Name,
		"HERMES_CONFIG="+h.cfg.Config,
		fmt.Sprintf("HERMES_NUM_MODULES=%d", len(m.modules)),
	)
	cmd.ExtraFiles = []*os.File{toModuleR, fromModuleW}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		toModuleR.Close()
		toModuleW.Close()
		fromModuleR.Close()
		fromModuleW.Close()
		return err
	}
	// The child has its own copies of the pipe fds; the manager's
	// copies of the child's read/write ends are no longer needed.
	toModuleR.Close()
	fromModuleW.Close()

	h.ctrl = ctrlproto.NewDuplexPipe(fromModuleR, toModuleW, fromModuleR, toModuleW)
	h.proc = &processHandle{cmd: cmd, done: make(chan error, 1)}
	m.cgroup.add(cmd.Process.Pid)
	go func() {
		h.proc.done <- cmd.Wait()
	}()
	return nil
}

// spawnScript starts an in-language script module as a goroutine,
// connected to the manager over an in-process net.Pipe (a single
// bidirectional connection that supports read deadlines on both ends
// without needing real file descriptors).
func (m *Manager) spawnScript(h *moduleHandle) error {
	mgrConn, modConn := net.Pipe()
	h.ctrl = mgrConn

	rt := modrt.NewLocal(m.seg, m.bar, h.cfg.Name)
	rt.SetControlChannel(modConn)

	done := make(chan error, 1)
	h.proc = &processHandle{done: done, runtime: rt}

	sm := h.script
	go func() {
		done <- rt.Loop(sm.Stage, sm.Step, sm.Reset)
	}()
	return nil
}

// terminateSpawned is the rewind path for a partial Spawn failure: best
// effort, ignores errors (the module may not have reached a state where
// it can respond), and waits at most one second for each reply.
func (m *Manager) terminateSpawned(ctx context.Context) {
	for _, h := range m.modules {
		if h.proc == nil {
			continue
		}
		if h.ctrl != nil {
			m.sendAndWait(h, ctrlproto.CmdTerminate, time.Second)
			h.ctrl.Close()
		}
		if h.proc.cmd != nil && h.proc.cmd.Process != nil {
			h.proc.cmd.Process.Kill()
		}
	}
}

// crashed reports whether this module's process/goroutine has already
// exited, distinguishing a real crash (spec §8.4 S6) from a module that
// is merely slow (S4): a barrier timeout whose offender's done channel
// already has a value means the module died mid-frame rather than hung.
// The check is non-blocking, so it never itself delays the timeout path.
func (h *moduleHandle) crashed() (error, bool) {
	if h.proc == nil {
		return nil, false
	}
	select {
	case err := <-h.proc.done:
		h.proc.done <- err // put it back for Terminate's drain
		if h.proc.cmd != nil {
			return exitCause(h.proc.cmd, err), true
		}
		return err, true
	default:
		return nil, false
	}
}

// exitCause renders an external module's exit in the "pid, exit_status"
// shape spec §7's ModuleCrashed wants, falling back to the raw Wait
// error when the process never started or its state is unavailable.
func exitCause(cmd *exec.Cmd, waitErr error) error {
	if cmd.ProcessState == nil {
		return waitErr
	}
	pid := cmd.ProcessState.Pid()
	if waitErr == nil {
		return fmt.Errorf("pid %d exited 0 (unexpected: done before barrier release)", pid)
	}
	return fmt.Errorf("pid %d: %s", pid, cmd.ProcessState.String())
}
