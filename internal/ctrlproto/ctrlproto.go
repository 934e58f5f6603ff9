// Package ctrlproto implements the length-prefixed JSON-over-pipe
// protocol of spec §4.4: the control channel carries every lifecycle
// command other than the implicit per-frame step, which runs over the
// frame barrier instead. Both internal/manager (coordinator side) and
// modrt (module side) speak this protocol.
package ctrlproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Command is one control-channel command.
type Command string

const (
	CmdStage     Command = "stage"
	CmdReset     Command = "reset"
	CmdPause     Command = "pause"
	CmdResume    Command = "resume"
	CmdTerminate Command = "terminate"
	// CmdMicrostep drives one extra step directly over the control
	// channel rather than the frame barrier, for a module whose
	// configured rate_hz is a multiple of the major frame rate (spec §9
	// Open Question (a)). It carries its own frame/time_ns since the
	// module does not read the segment header for a microstep.
	CmdMicrostep Command = "microstep"
)

// Message is the coordinator-to-module envelope. Frame/TimeNs are only
// populated for CmdMicrostep, which does not derive them from the
// segment header the way a barrier-driven step does.
type Message struct {
	Cmd     Command `json:"cmd"`
	Frame   uint64  `json:"frame,omitempty"`
	TimeNs  uint64  `json:"time_ns,omitempty"`
}

// Reply is the module-to-coordinator envelope.
type Reply struct {
	Ack   bool   `json:"ack"`
	Error string `json:"error,omitempty"`
}

// WriteFrame writes a length-prefixed JSON value: a 4-byte big-endian
// length followed by the JSON body. Length-prefixing lets either side
// read a complete message with one Read(N) after the length, rather
// than scanning for a delimiter that might appear inside the payload —
// a structured generalization of the teacher's utils.SyncPipe
// single-byte protocol.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed JSON value into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > 1<<20 {
		return fmt.Errorf("ctrlproto: control frame too large (%d bytes)", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// DuplexPipe combines a read half and a write half — e.g. one end of
// each of two os.Pipe() pairs set up before spawn — into the single
// io.ReadWriteCloser the protocol's Send/Loop helpers expect, the same
// way the teacher's utils.SyncPipe keeps a parent and child *os.File
// together on one type.
type DuplexPipe struct {
	R io.Reader
	W io.Writer
	C []io.Closer
}

// NewDuplexPipe builds a DuplexPipe from separate read/write/closer
// endpoints.
func NewDuplexPipe(r io.Reader, w io.Writer, closers ...io.Closer) *DuplexPipe {
	return &DuplexPipe{R: r, W: w, C: closers}
}

func (d *DuplexPipe) Read(p []byte) (int, error)  { return d.R.Read(p) }
func (d *DuplexPipe) Write(p []byte) (int, error) { return d.W.Write(p) }

// Close closes every registered closer, returning the first error.
func (d *DuplexPipe) Close() error {
	var first error
	for _, c := range d.C {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SetReadDeadline forwards to the read half, which must support
// deadlines (true of os.Pipe() file descriptors on Unix) for a poll
// loop to work; it returns an error rather than silently no-op'ing if
// the read half cannot honor one.
func (d *DuplexPipe) SetReadDeadline(t time.Time) error {
	type deadliner interface {
		SetReadDeadline(time.Time) error
	}
	dl, ok := d.R.(deadliner)
	if !ok {
		return fmt.Errorf("ctrlproto: control channel read half does not support deadlines")
	}
	return dl.SetReadDeadline(t)
}

// Send writes cmd and blocks for the module's reply. It is the
// coordinator-side half of the protocol, used by internal/manager.
func Send(ctrl io.ReadWriter, cmd Command) (Reply, error) {
	return SendMessage(ctrl, Message{Cmd: cmd})
}

// SendMicrostep sends a CmdMicrostep carrying an explicit frame/time_ns,
// for a module substepping within a major frame.
func SendMicrostep(ctrl io.ReadWriter, frame, timeNs uint64) (Reply, error) {
	return SendMessage(ctrl, Message{Cmd: CmdMicrostep, Frame: frame, TimeNs: timeNs})
}

// SendMessage writes msg and blocks for the module's reply.
func SendMessage(ctrl io.ReadWriter, msg Message) (Reply, error) {
	if err := WriteFrame(ctrl, msg); err != nil {
		return Reply{}, err
	}
	var reply Reply
	if err := ReadFrame(ctrl, &reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}
