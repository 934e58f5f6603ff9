// Package linux provides the cgroup v2 process-group primitive the
// process manager uses to guarantee a module's whole process tree (not
// just its direct child) dies on termination. Adapted from the
// teacher's OCI resource-limiting cgroup wrapper: the OCI-specific
// resource-limit plumbing (memory/cpu/pids limits sourced from a bundle
// spec) has no analogue here, so only the group-membership and
// lifecycle primitives survive.
package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const cgroupRoot = "/sys/fs/cgroup"

// Cgroup represents a cgroup v2 control group.
type Cgroup struct {
	path string
}

// NewCgroup creates or opens a cgroup at the given path, relative to
// /sys/fs/cgroup (e.g. "hermes/<run-id>").
func NewCgroup(cgroupPath string) (*Cgroup, error) {
	fullPath := filepath.Join(cgroupRoot, cgroupPath)
	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return nil, fmt.Errorf("create cgroup directory: %w", err)
	}
	return &Cgroup{path: fullPath}, nil
}

// Path returns the filesystem path of the cgroup.
func (c *Cgroup) Path() string {
	return c.path
}

// AddProcess adds a process to this cgroup.
func (c *Cgroup) AddProcess(pid int) error {
	procsPath := filepath.Join(c.path, "cgroup.procs")
	return os.WriteFile(procsPath, []byte(strconv.Itoa(pid)), 0644)
}

// Destroy removes the cgroup. The cgroup must be empty (every process
// killed and reaped) for this to succeed.
func (c *Cgroup) Destroy() error {
	return os.Remove(c.path)
}

// GetPidsCurrent returns the current number of processes in the cgroup,
// for diagnosing a termination that appears to hang.
func (c *Cgroup) GetPidsCurrent() (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, "pids.current"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

// EnsureParentControllers enables the controllers a module's cgroup
// needs on every ancestor cgroup, walking down from cgroupRoot. Cgroup
// v2 only lets a cgroup's children use a controller the parent has
// explicitly delegated via cgroup.subtree_control.
func EnsureParentControllers(cgroupPath string) error {
	parts := strings.Split(strings.Trim(cgroupPath, "/"), "/")
	current := cgroupRoot
	controllers := "+cpu +memory +pids"

	for _, part := range parts {
		controlFile := filepath.Join(current, "cgroup.subtree_control")
		os.WriteFile(controlFile, []byte(controllers), 0644)
		current = filepath.Join(current, part)
	}
	return nil
}
