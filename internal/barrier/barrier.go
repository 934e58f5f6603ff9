// Package barrier implements the Hermes frame barrier: a pair of named
// counting semaphores ("step", "done") providing a rendezvous between one
// coordinator and N module workers per frame, per spec §3.3/§4.2.
//
// The semaphores are backed by a SysV IPC semaphore set (two semaphores
// per barrier). The standard library has no POSIX named semaphore
// binding, so this drops to raw syscalls keyed off golang.org/x/sys/unix
// constants and structs — the same idiom the teacher uses for setns in
// linux/namespace.go, applied here to semget/semop/semctl/semtimedop.
package barrier

import (
	"context"
	"hash/fnv"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"hermes/internal/herrors"
)

const (
	semStep = 0
	semDone = 1
	nsems   = 2

	setval = 16 // Linux IPC_SETVAL
	rmid   = 0  // Linux IPC_RMID
)

// Barrier is a named pair of counting semaphores plus the known
// participant count N.
type Barrier struct {
	base  string
	id    int
	n     int
	owner bool
}

// keyFor derives a deterministic SysV IPC key from a barrier base name.
func keyFor(base string) int {
	h := fnv.New32a()
	h.Write([]byte(base))
	// Mask to the positive int32 range; a key with the high bit set
	// trips up some semget implementations.
	return int(h.Sum32() & 0x7fffffff)
}

func semget(key, nsems, flags int) (int, error) {
	id, _, errno := syscall.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(nsems), uintptr(flags))
	if errno != 0 {
		return -1, errno
	}
	return int(id), nil
}

func semctlSetval(id, num, val int) error {
	_, _, errno := syscall.Syscall6(unix.SYS_SEMCTL, uintptr(id), uintptr(num), uintptr(setval), uintptr(val), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func semctlRmid(id int) error {
	_, _, errno := syscall.Syscall6(unix.SYS_SEMCTL, uintptr(id), 0, uintptr(rmid), 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func semop(id int, sops []unix.Sembuf) error {
	_, _, errno := syscall.Syscall(unix.SYS_SEMOP, uintptr(id), uintptr(unsafe.Pointer(&sops[0])), uintptr(len(sops)))
	if errno != 0 {
		return errno
	}
	return nil
}

func semtimedop(id int, sops []unix.Sembuf, ts *unix.Timespec) error {
	_, _, errno := syscall.Syscall6(unix.SYS_SEMTIMEDOP, uintptr(id), uintptr(unsafe.Pointer(&sops[0])), uintptr(len(sops)), uintptr(unsafe.Pointer(ts)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Create materializes a new barrier named base for n participants. It
// fails with a Semaphore-kind error if a barrier of this name already
// exists.
func Create(base string, n int) (*Barrier, error) {
	key := keyFor(base)
	id, err := semget(key, nsems, unix.IPC_CREAT|unix.IPC_EXCL|0600)
	if err != nil {
		if err == syscall.EEXIST {
			return nil, herrors.WrapWithDetail(err, herrors.Semaphore, "create", herrors.ErrBarrierExists.Detail+": "+base)
		}
		return nil, herrors.Wrap(err, herrors.Semaphore, "create")
	}

	for i := 0; i < nsems; i++ {
		if err := semctlSetval(id, i, 0); err != nil {
			semctlRmid(id)
			return nil, herrors.Wrap(err, herrors.Semaphore, "semctl setval")
		}
	}

	return &Barrier{base: base, id: id, n: n, owner: true}, nil
}

// Attach opens an existing barrier named base. n is the participant
// count the caller expects; it is not verified against the kernel
// object (SysV semaphore sets do not record an application-level
// participant count).
func Attach(base string, n int) (*Barrier, error) {
	key := keyFor(base)
	id, err := semget(key, nsems, 0600)
	if err != nil {
		return nil, herrors.Wrap(err, herrors.Semaphore, "attach")
	}
	return &Barrier{base: base, id: id, n: n, owner: false}, nil
}

// ForceDestroy unlinks the semaphore set backing barrier base, without
// requiring a live Barrier obtained via Create. It exists for the
// sweep CLI command only, mirroring backplane.ForceUnlink: an explicit
// operator action against a name already known to be stale. Idempotent
// — a missing semaphore set is not an error.
func ForceDestroy(base string) error {
	key := keyFor(base)
	id, err := semget(key, nsems, 0600)
	if err != nil {
		if err == syscall.ENOENT {
			return nil
		}
		return herrors.Wrap(err, herrors.Semaphore, "force_destroy")
	}
	if err := semctlRmid(id); err != nil && err != syscall.EINVAL {
		return herrors.Wrap(err, herrors.Semaphore, "force_destroy")
	}
	return nil
}

// Destroy unlinks the barrier's backing semaphore set. It is idempotent.
// Only the coordinator (the process that called Create) should call
// this; modules must only Attach, never destroy.
func (b *Barrier) Destroy() error {
	if b.id < 0 || !b.owner {
		return nil
	}
	id := b.id
	b.id = -1
	if err := semctlRmid(id); err != nil && err != syscall.EINVAL {
		return herrors.Wrap(err, herrors.Semaphore, "destroy")
	}
	return nil
}

// PostStep releases the step semaphore n times, waking up to n waiting
// modules, per the coordinator's per-frame protocol in spec §4.2.
func (b *Barrier) PostStep(n int) error {
	return b.post(semStep, n)
}

// SignalDone posts a single release on the done semaphore. Called by a
// module after it finishes its step.
func (b *Barrier) SignalDone() error {
	return b.post(semDone, 1)
}

func (b *Barrier) post(sem int, n int) error {
	if n <= 0 {
		return nil
	}
	sops := []unix.Sembuf{{SemNum: uint16(sem), SemOp: int16(n), SemFlg: 0}}
	if err := semop(b.id, sops); err != nil {
		return herrors.Wrap(err, herrors.Semaphore, "post")
	}
	return nil
}

// WaitStep blocks until the step semaphore is released, or until timeout
// elapses. It returns true on release, false on timeout — never
// silently, per spec §4.2's contract.
func (b *Barrier) WaitStep(timeout time.Duration) (bool, error) {
	return b.wait(semStep, timeout)
}

// WaitDone blocks for a single release of the done semaphore (i.e. waits
// for one module to finish), or until timeout elapses.
func (b *Barrier) WaitDone(timeout time.Duration) (bool, error) {
	return b.wait(semDone, timeout)
}

// WaitAllDone collects n releases of the done semaphore, one per
// configured module, within an overall deadline. It returns the index
// (0-based, in collection order) of the module whose wait timed out, or
// -1 if all n completed.
func (b *Barrier) WaitAllDone(ctx context.Context, n int, perWait time.Duration) (timedOutAt int, err error) {
	for i := 0; i < n; i++ {
		remaining := perWait
		if dl, ok := ctx.Deadline(); ok {
			if left := time.Until(dl); left < remaining {
				remaining = left
			}
		}
		ok, err := b.wait(semDone, remaining)
		if err != nil {
			return i, err
		}
		if !ok {
			return i, nil
		}
		select {
		case <-ctx.Done():
			return i, ctx.Err()
		default:
		}
	}
	return -1, nil
}

func (b *Barrier) wait(sem int, timeout time.Duration) (bool, error) {
	sops := []unix.Sembuf{{SemNum: uint16(sem), SemOp: -1, SemFlg: 0}}

	if timeout <= 0 {
		sops[0].SemFlg = unix.IPC_NOWAIT
		err := semop(b.id, sops)
		if err == syscall.EAGAIN {
			return false, nil
		}
		if err != nil {
			return false, herrors.Wrap(err, herrors.Semaphore, "wait")
		}
		return true, nil
	}

	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	err := semtimedop(b.id, sops, &ts)
	if err == syscall.EAGAIN {
		return false, nil
	}
	if err != nil {
		return false, herrors.Wrap(err, herrors.Semaphore, "wait")
	}
	return true, nil
}
