package linux

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCgroupPathJoinsUnderCgroupRoot(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("skipping cgroup test: requires root")
	}
	if _, err := os.Stat("/sys/fs/cgroup"); os.IsNotExist(err) {
		t.Skip("skipping cgroup test: cgroup not mounted")
	}

	cgroupPath := "hermes-test/test-cgroup"
	cg, err := NewCgroup(cgroupPath)
	if err != nil {
		t.Fatalf("NewCgroup failed: %v", err)
	}
	defer cg.Destroy()

	expected := filepath.Join("/sys/fs/cgroup", cgroupPath)
	if cg.Path() != expected {
		t.Errorf("expected path %s, got %s", expected, cg.Path())
	}
}

func TestCgroupIntegration(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("skipping cgroup integration test: requires root")
	}
	if _, err := os.Stat("/sys/fs/cgroup"); os.IsNotExist(err) {
		t.Skip("skipping cgroup test: cgroup not mounted")
	}

	cgroupPath := "hermes-test/integration-test"
	fullPath := filepath.Join("/sys/fs/cgroup", cgroupPath)
	os.Remove(fullPath)

	cg, err := NewCgroup(cgroupPath)
	if err != nil {
		t.Fatalf("NewCgroup failed: %v", err)
	}
	defer func() {
		cg.Destroy()
		os.Remove(filepath.Join("/sys/fs/cgroup", "hermes-test"))
	}()

	if _, err := os.Stat(cg.Path()); os.IsNotExist(err) {
		t.Error("cgroup directory was not created")
	}

	if err := cg.AddProcess(os.Getpid()); err != nil {
		t.Logf("AddProcess failed (may be expected in some environments): %v", err)
	}

	if _, err := cg.GetPidsCurrent(); err != nil {
		t.Logf("GetPidsCurrent failed (may be expected if pids controller isn't delegated): %v", err)
	}

	if err := cg.Destroy(); err != nil {
		t.Logf("Destroy failed (process may still be in cgroup): %v", err)
	}
}

func TestEnsureParentControllers(t *testing.T) {
	// Best-effort function: just verify it doesn't panic. It ignores
	// write failures (not root, cgroups unavailable) and returns nil.
	_ = EnsureParentControllers("hermes/test")
}
