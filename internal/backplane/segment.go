package backplane

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"hermes/internal/herrors"
)

// Segment is a mapped view of a backplane shared-memory region: header,
// directory, string table, and value region. A Segment is safe for
// concurrent signal access from multiple goroutines within one process;
// cross-process synchronization is provided by the frame barrier, not by
// this type (per spec §4.1's memory-ordering note).
type Segment struct {
	mu sync.RWMutex

	name string
	path string
	file *os.File
	data []byte

	owner   bool // true if this process created the segment (coordinator)
	closed  bool
	slots   []slot
	byName  map[string]int
	valueAt int // byte offset of the value region's start within data
}

// shmDir returns the directory backing named shared-memory segments: the
// kernel-managed tmpfs at /dev/shm on Linux, falling back to the OS temp
// directory elsewhere so the package remains testable on non-Linux hosts.
func shmDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func segmentPath(name string) string {
	return filepath.Join(shmDir(), "hermes-"+name)
}

// Create materializes a new segment named name, sized to hold the given
// signals, and writes the header, directory, string table, and
// zero-valued value region before returning. It fails with a
// SharedMemory-kind error (ErrSegmentExists) if a segment of this name
// already exists.
func Create(name string, signals []SignalSpec) (*Segment, error) {
	path := segmentPath(name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, herrors.WrapWithDetail(err, herrors.SharedMemory, "create", herrors.ErrSegmentExists.Detail+": "+name)
		}
		return nil, herrors.Wrap(err, herrors.SharedMemory, "create")
	}

	slots := make([]slot, len(signals))
	dirBytes := len(signals) * dirEntrySize
	stringsStart := headerSize + dirBytes

	nameOffsets := make([]uint32, len(signals))
	var stringTable []byte
	for i, s := range signals {
		nameOffsets[i] = uint32(len(stringTable))
		stringTable = append(stringTable, []byte(s.Name)...)
		stringTable = append(stringTable, 0)
	}
	stringBytes := len(stringTable)

	valueStart := alignUp(stringsStart+stringBytes, valueRegionAlign)
	valueBytes := len(signals) * valueSlotStride
	totalSize := valueStart + valueBytes
	if totalSize < headerSize {
		totalSize = headerSize
	}

	if err := f.Truncate(int64(totalSize)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, herrors.Wrap(err, herrors.SharedMemory, "truncate")
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, totalSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, herrors.Wrap(err, herrors.SharedMemory, "mmap")
	}

	binary.LittleEndian.PutUint32(data[offMagic:], Magic)
	binary.LittleEndian.PutUint32(data[offVersion:], Version)
	binary.LittleEndian.PutUint64(data[offFrame:], 0)
	binary.LittleEndian.PutUint64(data[offTimeNs:], 0)
	binary.LittleEndian.PutUint32(data[offSignalCount:], uint32(len(signals)))
	for i := offReserved; i < headerSize; i++ {
		data[i] = 0
	}

	byName := make(map[string]int, len(signals))
	for i, s := range signals {
		dataOffset := valueStart + i*valueSlotStride
		entryOff := headerSize + i*dirEntrySize
		binary.LittleEndian.PutUint32(data[entryOff:], nameOffsets[i])
		binary.LittleEndian.PutUint32(data[entryOff+4:], uint32(dataOffset))
		data[entryOff+8] = byte(s.Type)
		data[entryOff+9] = s.Flags
		data[entryOff+10] = 0
		data[entryOff+11] = 0

		slots[i] = slot{name: s.Name, dataOffset: dataOffset, dataType: s.Type, flags: s.Flags}
		byName[s.Name] = i
	}
	copy(data[stringsStart:], stringTable)

	seg := &Segment{
		name:    name,
		path:    path,
		file:    f,
		data:    data,
		owner:   true,
		slots:   slots,
		byName:  byName,
		valueAt: valueStart,
	}
	return seg, nil
}

// Attach maps an existing segment named name read/write and builds the
// local name→slot table from its directory. It fails with WrongMagic or
// WrongVersion if the header is incompatible, and never writes to the
// header or directory afterwards.
func Attach(name string) (*Segment, error) {
	path := segmentPath(name)

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, herrors.Wrap(err, herrors.SharedMemory, "attach")
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, herrors.Wrap(err, herrors.SharedMemory, "stat")
	}
	size := int(fi.Size())
	if size < headerSize {
		f.Close()
		return nil, herrors.WrapWithDetail(nil, herrors.SharedMemory, "attach", "segment too small")
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, herrors.Wrap(err, herrors.SharedMemory, "mmap")
	}

	magic := binary.LittleEndian.Uint32(data[offMagic:])
	if magic != Magic {
		syscall.Munmap(data)
		f.Close()
		return nil, herrors.WrapWithDetail(nil, herrors.SharedMemory, "attach", fmt.Sprintf("%s: got magic 0x%08x", herrors.ErrWrongMagic.Detail, magic))
	}
	version := binary.LittleEndian.Uint32(data[offVersion:])
	if version != Version {
		syscall.Munmap(data)
		f.Close()
		return nil, herrors.WrapWithDetail(nil, herrors.SharedMemory, "attach", fmt.Sprintf("%s: got version %d, want %d", herrors.ErrWrongVersion.Detail, version, Version))
	}

	count := int(binary.LittleEndian.Uint32(data[offSignalCount:]))
	dirBytes := count * dirEntrySize
	stringsStart := headerSize + dirBytes
	if headerSize+dirBytes > size {
		syscall.Munmap(data)
		f.Close()
		return nil, herrors.WrapWithDetail(nil, herrors.SharedMemory, "attach", "directory exceeds segment size")
	}

	slots := make([]slot, count)
	byName := make(map[string]int, count)
	stringsEnd := stringsStart
	for i := 0; i < count; i++ {
		entryOff := headerSize + i*dirEntrySize
		nameOff := binary.LittleEndian.Uint32(data[entryOff:])
		dataOff := binary.LittleEndian.Uint32(data[entryOff+4:])
		dt := DataType(data[entryOff+8])
		flags := data[entryOff+9]

		name := readCString(data, stringsStart+int(nameOff))
		if end := stringsStart + int(nameOff) + len(name) + 1; end > stringsEnd {
			stringsEnd = end
		}
		slots[i] = slot{name: name, dataOffset: int(dataOff), dataType: dt, flags: flags}
		byName[name] = i
	}

	seg := &Segment{
		name:    name,
		path:    path,
		file:    f,
		data:    data,
		owner:   false,
		slots:   slots,
		byName:  byName,
		valueAt: alignUp(stringsEnd, valueRegionAlign),
	}
	return seg, nil
}

// ListSegmentNames returns the names of every segment file in shmDir
// whose name has the given prefix, for the crash-recovery sweep of spec
// §5 ("a sweep at startup that unlinks stale names matching a known
// prefix is permitted"). Names are returned without the "hermes-" file
// prefix, i.e. in the form Create/Attach expect.
func ListSegmentNames(prefix string) ([]string, error) {
	entries, err := os.ReadDir(shmDir())
	if err != nil {
		return nil, herrors.Wrap(err, herrors.SharedMemory, "list")
	}
	var names []string
	for _, e := range entries {
		name, ok := stripSegmentFilePrefix(e.Name())
		if ok && len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			names = append(names, name)
		}
	}
	return names, nil
}

func stripSegmentFilePrefix(fileName string) (string, bool) {
	const filePrefix = "hermes-"
	if len(fileName) <= len(filePrefix) || fileName[:len(filePrefix)] != filePrefix {
		return "", false
	}
	return fileName[len(filePrefix):], true
}

// ForceUnlink removes a segment's backing file by name without mapping
// it first, bypassing the owner-only restriction Destroy enforces. It
// exists for the sweep CLI command only: an explicit operator action on
// a name already known to be stale, not a path any core component
// should ever take. Idempotent.
func ForceUnlink(name string) error {
	if err := os.Remove(segmentPath(name)); err != nil && !os.IsNotExist(err) {
		return herrors.Wrap(err, herrors.SharedMemory, "force_unlink")
	}
	return nil
}

// Destroy unmaps and unlinks the segment's backing object. It is
// idempotent: a second call is a no-op, never an error. Only the
// coordinator (the process that called Create) should call Destroy;
// attached modules and readers must only Detach.
func (s *Segment) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if s.data != nil {
		if err := syscall.Munmap(s.data); err != nil {
			firstErr = err
		}
		s.data = nil
	}
	if s.file != nil {
		s.file.Close()
	}
	if s.owner {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Detach unmaps the segment without unlinking its backing object.
// Modules and telemetry readers must call Detach, never Destroy.
func (s *Segment) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if s.data != nil {
		if err := syscall.Munmap(s.data); err != nil {
			firstErr = err
		}
		s.data = nil
	}
	if s.file != nil {
		s.file.Close()
	}
	return firstErr
}

// Name returns the segment's name.
func (s *Segment) Name() string { return s.name }

// SignalCount returns the number of slots in the segment.
func (s *Segment) SignalCount() int { return len(s.slots) }

func readCString(data []byte, start int) string {
	end := start
	for end < len(data) && data[end] != 0 {
		end++
	}
	return string(data[start:end])
}

func alignUp(n, align int) int {
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}
