// Package modrt is the module-side runtime library of spec §4.4: the
// attach helper, command loop, and signal accessors a module process
// links against. It is the counterpart to internal/manager, which
// drives this protocol from the coordinator side, over the shared wire
// format in internal/ctrlproto.
package modrt

import (
	"hermes/internal/ctrlproto"
)

// Re-exported so callers wiring up a module don't need to import
// ctrlproto directly for the common case.
type (
	Command     = ctrlproto.Command
	DuplexPipe  = ctrlproto.DuplexPipe
)

const (
	CmdStage     = ctrlproto.CmdStage
	CmdReset     = ctrlproto.CmdReset
	CmdPause     = ctrlproto.CmdPause
	CmdResume    = ctrlproto.CmdResume
	CmdTerminate = ctrlproto.CmdTerminate
	CmdMicrostep = ctrlproto.CmdMicrostep
)

// NewDuplexPipe builds a DuplexPipe from separate read/write/closer
// endpoints; see ctrlproto.NewDuplexPipe.
var NewDuplexPipe = ctrlproto.NewDuplexPipe
