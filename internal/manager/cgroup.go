package manager

import (
	"os"
	"path/filepath"

	"hermes/linux"
)

// moduleCgroup wraps a cgroup v2 control group scoped to one run, used
// to guarantee an external module's whole process tree dies on
// terminate even if the module itself forks children that outlive its
// own PID — the same "put a PID in cgroup.procs, then act on the
// group" primitive the teacher uses for resource limiting, repurposed
// here for kill-the-whole-tree cleanup instead. Best-effort: a sandbox
// without cgroup v2 (no root, no delegated controller) simply runs
// without this extra guarantee, falling back to the per-process
// SIGTERM/SIGKILL escalation in Terminate.
type moduleCgroup struct {
	cg *linux.Cgroup
}

func newModuleCgroup(runID string) *moduleCgroup {
	cg, err := linux.NewCgroup(filepath.Join("hermes", runID))
	if err != nil {
		return &moduleCgroup{}
	}
	return &moduleCgroup{cg: cg}
}

func (m *moduleCgroup) add(pid int) {
	if m.cg == nil {
		return
	}
	m.cg.AddProcess(pid)
}

// kill writes to cgroup.kill (Linux 5.14+), which SIGKILLs every
// process in the group in one syscall — the group equivalent of the
// per-process kill loop, for modules that have forked children the
// manager never learned the PIDs of.
func (m *moduleCgroup) kill() {
	if m.cg == nil {
		return
	}
	os.WriteFile(filepath.Join(m.cg.Path(), "cgroup.kill"), []byte("1"), 0644)
}

func (m *moduleCgroup) destroy() {
	if m.cg == nil {
		return
	}
	m.cg.Destroy()
}
