package backplane

import (
	"math"
	"sync/atomic"
	"unsafe"

	"hermes/internal/herrors"
)

// GetFrame returns the current frame counter. Readers perform a relaxed
// (atomic) load; only the coordinator writes this field, and only before
// releasing the barrier's step semaphore, per spec §4.1.
func (s *Segment) GetFrame() uint64 {
	return atomic.LoadUint64(s.headerWordPtr(offFrame))
}

// SetFrame sets the frame counter. Only the coordinator may call this.
func (s *Segment) SetFrame(frame uint64) {
	atomic.StoreUint64(s.headerWordPtr(offFrame), frame)
}

// GetTimeNs returns the current simulation time in nanoseconds.
func (s *Segment) GetTimeNs() uint64 {
	return atomic.LoadUint64(s.headerWordPtr(offTimeNs))
}

// SetTimeNs sets the simulation time in nanoseconds. Only the coordinator
// may call this.
func (s *Segment) SetTimeNs(timeNs uint64) {
	atomic.StoreUint64(s.headerWordPtr(offTimeNs), timeNs)
}

// SetClock updates both frame and time_ns, each with its own atomic
// store. The two stores are not combined into a single atomic operation (the layout has no spare
// 128-bit slot for that); callers relying on a consistent pair read them
// only after the next barrier release, as spec §4.1 requires of readers.
func (s *Segment) SetClock(frame, timeNs uint64) {
	s.SetTimeNs(timeNs)
	s.SetFrame(frame)
}

func (s *Segment) headerWordPtr(offset int) *uint64 {
	return (*uint64)(unsafe.Pointer(&s.data[offset]))
}

// slotIndex resolves a qualified name to its slot index.
func (s *Segment) slotIndex(name string) (int, error) {
	idx, ok := s.byName[name]
	if !ok {
		return 0, herrors.WrapWithDetail(nil, herrors.UnknownSignal, "lookup", name)
	}
	return idx, nil
}

// GetSignal returns a signal's current value widened to float64. Any
// declared type may be read this way; narrower types are widened on
// read, per the public f64-only contract (spec §9 Design Note (b)).
func (s *Segment) GetSignal(name string) (float64, error) {
	idx, err := s.slotIndex(name)
	if err != nil {
		return 0, err
	}
	return s.readAsF64(s.slots[idx]), nil
}

// SetSignal sets a signal's value from a float64, narrowing to the
// slot's declared type. Fails with UnknownSignal if name is not in the
// directory.
func (s *Segment) SetSignal(name string, value float64) error {
	idx, err := s.slotIndex(name)
	if err != nil {
		return err
	}
	s.writeAsF64(s.slots[idx], value)
	return nil
}

// SlotOffset returns the byte offset of a signal's slot within the value
// region, for advanced direct-access use in hot loops. The second return
// value is false if name is unknown.
func (s *Segment) SlotOffset(name string) (int, bool) {
	idx, ok := s.byName[name]
	if !ok {
		return 0, false
	}
	return s.slots[idx].dataOffset - s.valueAt, true
}

// SignalType returns a signal's declared data type and flags.
func (s *Segment) SignalType(name string) (DataType, uint8, error) {
	idx, err := s.slotIndex(name)
	if err != nil {
		return 0, 0, err
	}
	return s.slots[idx].dataType, s.slots[idx].flags, nil
}

// Directory returns a copy of every signal's (name, type, flags) tuple
// in directory order, for round-trip dumps and the list-signals CLI
// command. Slot offsets are not included; SlotOffset returns them.
func (s *Segment) Directory() []SignalSpec {
	out := make([]SignalSpec, len(s.slots))
	for i, sl := range s.slots {
		out[i] = SignalSpec{Name: sl.name, Type: sl.dataType, Flags: sl.flags}
	}
	return out
}

func (s *Segment) readAsF64(sl slot) float64 {
	base := sl.dataOffset
	switch sl.dataType {
	case F64:
		bits := atomic.LoadUint64((*uint64)(unsafe.Pointer(&s.data[base])))
		return math.Float64frombits(bits)
	case F32:
		bits := atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.data[base])))
		return float64(math.Float32frombits(bits))
	case I64:
		bits := atomic.LoadUint64((*uint64)(unsafe.Pointer(&s.data[base])))
		return float64(int64(bits))
	case I32:
		bits := atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.data[base])))
		return float64(int32(bits))
	case Bool:
		b := atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.data[base])))
		if b&0xff != 0 {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func (s *Segment) writeAsF64(sl slot, value float64) {
	base := sl.dataOffset
	switch sl.dataType {
	case F64:
		atomic.StoreUint64((*uint64)(unsafe.Pointer(&s.data[base])), math.Float64bits(value))
	case F32:
		atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.data[base])), math.Float32bits(float32(value)))
	case I64:
		atomic.StoreUint64((*uint64)(unsafe.Pointer(&s.data[base])), uint64(int64(value)))
	case I32:
		atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.data[base])), uint32(int32(value)))
	case Bool:
		var b uint32
		if value != 0 {
			b = 1
		}
		atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.data[base])), b)
	}
}

// Exact typed accessors, preferred over GetSignal/SetSignal when the
// caller knows the declared type and wants to avoid float64 conversion
// on a hot path. Each fails with WrongType if the slot's declared type
// does not match.

// GetF64 returns the exact f64 value of signal name.
func (s *Segment) GetF64(name string) (float64, error) {
	idx, err := s.slotIndex(name)
	if err != nil {
		return 0, err
	}
	sl := s.slots[idx]
	if sl.dataType != F64 {
		return 0, herrors.WrapWithDetail(nil, herrors.WrongType, "get_f64", name)
	}
	bits := atomic.LoadUint64((*uint64)(unsafe.Pointer(&s.data[sl.dataOffset])))
	return math.Float64frombits(bits), nil
}

// SetF64 sets the exact f64 value of signal name.
func (s *Segment) SetF64(name string, value float64) error {
	idx, err := s.slotIndex(name)
	if err != nil {
		return err
	}
	sl := s.slots[idx]
	if sl.dataType != F64 {
		return herrors.WrapWithDetail(nil, herrors.WrongType, "set_f64", name)
	}
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&s.data[sl.dataOffset])), math.Float64bits(value))
	return nil
}

// GetF32 returns the exact f32 value of signal name.
func (s *Segment) GetF32(name string) (float32, error) {
	idx, err := s.slotIndex(name)
	if err != nil {
		return 0, err
	}
	sl := s.slots[idx]
	if sl.dataType != F32 {
		return 0, herrors.WrapWithDetail(nil, herrors.WrongType, "get_f32", name)
	}
	bits := atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.data[sl.dataOffset])))
	return math.Float32frombits(bits), nil
}

// SetF32 sets the exact f32 value of signal name.
func (s *Segment) SetF32(name string, value float32) error {
	idx, err := s.slotIndex(name)
	if err != nil {
		return err
	}
	sl := s.slots[idx]
	if sl.dataType != F32 {
		return herrors.WrapWithDetail(nil, herrors.WrongType, "set_f32", name)
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.data[sl.dataOffset])), math.Float32bits(value))
	return nil
}

// GetI64 returns the exact i64 value of signal name.
func (s *Segment) GetI64(name string) (int64, error) {
	idx, err := s.slotIndex(name)
	if err != nil {
		return 0, err
	}
	sl := s.slots[idx]
	if sl.dataType != I64 {
		return 0, herrors.WrapWithDetail(nil, herrors.WrongType, "get_i64", name)
	}
	bits := atomic.LoadUint64((*uint64)(unsafe.Pointer(&s.data[sl.dataOffset])))
	return int64(bits), nil
}

// SetI64 sets the exact i64 value of signal name.
func (s *Segment) SetI64(name string, value int64) error {
	idx, err := s.slotIndex(name)
	if err != nil {
		return err
	}
	sl := s.slots[idx]
	if sl.dataType != I64 {
		return herrors.WrapWithDetail(nil, herrors.WrongType, "set_i64", name)
	}
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&s.data[sl.dataOffset])), uint64(value))
	return nil
}

// GetI32 returns the exact i32 value of signal name.
func (s *Segment) GetI32(name string) (int32, error) {
	idx, err := s.slotIndex(name)
	if err != nil {
		return 0, err
	}
	sl := s.slots[idx]
	if sl.dataType != I32 {
		return 0, herrors.WrapWithDetail(nil, herrors.WrongType, "get_i32", name)
	}
	bits := atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.data[sl.dataOffset])))
	return int32(bits), nil
}

// SetI32 sets the exact i32 value of signal name.
func (s *Segment) SetI32(name string, value int32) error {
	idx, err := s.slotIndex(name)
	if err != nil {
		return err
	}
	sl := s.slots[idx]
	if sl.dataType != I32 {
		return herrors.WrapWithDetail(nil, herrors.WrongType, "set_i32", name)
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.data[sl.dataOffset])), uint32(value))
	return nil
}

// GetBool returns the exact bool value of signal name.
func (s *Segment) GetBool(name string) (bool, error) {
	idx, err := s.slotIndex(name)
	if err != nil {
		return false, err
	}
	sl := s.slots[idx]
	if sl.dataType != Bool {
		return false, herrors.WrapWithDetail(nil, herrors.WrongType, "get_bool", name)
	}
	b := atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.data[sl.dataOffset])))
	return b&0xff != 0, nil
}

// SetBool sets the exact bool value of signal name.
func (s *Segment) SetBool(name string, value bool) error {
	idx, err := s.slotIndex(name)
	if err != nil {
		return err
	}
	sl := s.slots[idx]
	if sl.dataType != Bool {
		return herrors.WrapWithDetail(nil, herrors.WrongType, "set_bool", name)
	}
	var b uint32
	if value {
		b = 1
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.data[sl.dataOffset])), b)
	return nil
}
