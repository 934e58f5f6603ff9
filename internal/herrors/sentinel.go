package herrors

// Config and validation errors.
var (
	// ErrDuplicateSignalName indicates two signals share a qualified name.
	ErrDuplicateSignalName = &HermesError{Kind: Config, Detail: "duplicate qualified signal name"}

	// ErrDuplicateModuleName indicates two modules share a name.
	ErrDuplicateModuleName = &HermesError{Kind: Config, Detail: "duplicate module name"}

	// ErrInvalidSignalName indicates a signal name fails the ASCII/length rules.
	ErrInvalidSignalName = &HermesError{Kind: Config, Detail: "invalid signal name"}

	// ErrInvalidRate indicates a rate_hz of zero or less.
	ErrInvalidRate = &HermesError{Kind: Config, Detail: "rate_hz must be > 0"}

	// ErrWireSelfLoop indicates a wire whose src equals its dst.
	ErrWireSelfLoop = &HermesError{Kind: Config, Detail: "wire src and dst must differ"}

	// ErrWireUnknownEndpoint indicates a wire referencing an undeclared signal.
	ErrWireUnknownEndpoint = &HermesError{Kind: Config, Detail: "wire endpoint not found in registry"}

	// ErrWireDstNotWritable indicates a wire destination lacking the WRITABLE flag.
	ErrWireDstNotWritable = &HermesError{Kind: Config, Detail: "wire destination is not writable"}

	// ErrScheduleUnknownModule indicates a schedule entry naming an undefined module.
	ErrScheduleUnknownModule = &HermesError{Kind: Config, Detail: "schedule entry references undefined module"}

	// ErrInvalidRateRatio indicates a per-module rate_hz that is not an integer multiple of the major rate.
	ErrInvalidRateRatio = &HermesError{Kind: Config, Detail: "module rate_hz must be an integer multiple of execution rate_hz"}
)

// Shared memory / semaphore errors.
var (
	// ErrSegmentExists indicates a segment of this name already exists and was not cleanly unlinked.
	ErrSegmentExists = &HermesError{Kind: SharedMemory, Detail: "segment already exists"}

	// ErrWrongMagic indicates an attach against a segment with a mismatched magic constant.
	ErrWrongMagic = &HermesError{Kind: SharedMemory, Detail: "wrong magic"}

	// ErrWrongVersion indicates an attach against a segment with a mismatched version.
	ErrWrongVersion = &HermesError{Kind: SharedMemory, Detail: "wrong version"}

	// ErrBarrierExists indicates a barrier of this base name already exists.
	ErrBarrierExists = &HermesError{Kind: Semaphore, Detail: "barrier already exists"}
)

// Signal access errors.
var (
	// ErrUnknownSignal indicates access by a name absent from the directory.
	ErrUnknownSignal = &HermesError{Kind: UnknownSignal, Detail: "signal not found"}

	// ErrSignalNotWritable indicates a set on a non-writable signal.
	ErrSignalNotWritable = &HermesError{Kind: NotWritable, Detail: "signal is not writable"}

	// ErrSignalWrongType indicates a typed accessor used against a mismatched slot.
	ErrSignalWrongType = &HermesError{Kind: WrongType, Detail: "signal has a different declared type"}
)

// Process manager errors.
var (
	// ErrModuleNotStaged indicates a frame/reset attempted before staging.
	ErrModuleNotStaged = &HermesError{Kind: Internal, Detail: "module has not been staged"}

	// ErrNoSuchModule indicates an operation referenced an unknown module name.
	ErrNoSuchModule = &HermesError{Kind: Internal, Detail: "no such module"}
)
