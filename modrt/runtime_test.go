package modrt

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"testing"
	"time"

	"hermes/internal/backplane"
	"hermes/internal/barrier"
	"hermes/internal/ctrlproto"
)

func testName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, rand.Int63())
}

// fakeCoordinator is the test's stand-in for internal/manager, driving
// the control channel protocol from the other end of a net.Pipe (a
// single bidirectional connection with read deadlines on both ends, so
// it doubles as both directions of the DuplexPipe under test).
type fakeCoordinator struct {
	conn net.Conn
}

func (f *fakeCoordinator) send(cmd Command) (ctrlproto.Reply, error) {
	return ctrlproto.Send(f.conn, cmd)
}

func TestLoopStageStepTerminate(t *testing.T) {
	segName := testName("modrt-seg")
	barName := testName("modrt-bar")

	specs := []backplane.SignalSpec{{Name: "m.x", Type: backplane.F64, Flags: backplane.Writable}}
	seg, err := backplane.Create(segName, specs)
	if err != nil {
		t.Fatalf("Create segment: %v", err)
	}
	defer seg.Destroy()

	bar, err := barrier.Create(barName, 1)
	if err != nil {
		t.Fatalf("Create barrier: %v", err)
	}
	defer bar.Destroy()

	clientConn, coordConn := net.Pipe()
	coord := &fakeCoordinator{conn: coordConn}

	ctx := context.Background()
	rt, err := Attach(ctx, Params{SegmentName: segName, BarrierName: barName, ModuleName: "m", NumModules: 1})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	rt.SetControlChannel(NewDuplexPipe(clientConn, clientConn, clientConn))
	defer rt.Close()

	var staged, stepped, terminated bool
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- rt.Loop(
			func() error { staged = true; return nil },
			func(frame, timeNs uint64) error {
				stepped = true
				return rt.SetF64("m.x", float64(frame))
			},
			func() error { return nil },
		)
	}()

	reply, err := coord.send(CmdStage)
	if err != nil {
		t.Fatalf("send stage: %v", err)
	}
	if !reply.Ack {
		t.Fatalf("stage not acked: %+v", reply)
	}
	if !staged {
		t.Error("stager was not invoked")
	}

	seg.SetClock(1, 1_000_000)
	if err := bar.PostStep(1); err != nil {
		t.Fatalf("PostStep: %v", err)
	}
	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	timedOutAt, err := bar.WaitAllDone(wctx, 1, 1*time.Second)
	if err != nil {
		t.Fatalf("WaitAllDone: %v", err)
	}
	if timedOutAt != -1 {
		t.Fatalf("module did not signal done in time")
	}
	if !stepped {
		t.Error("stepper was not invoked")
	}
	got, err := seg.GetF64("m.x")
	if err != nil || got != 1 {
		t.Errorf("m.x = %v, %v, want 1, nil", got, err)
	}

	reply, err = coord.send(CmdTerminate)
	if err != nil {
		t.Fatalf("send terminate: %v", err)
	}
	if !reply.Ack {
		t.Fatalf("terminate not acked: %+v", reply)
	}
	terminated = true

	select {
	case err := <-loopErr:
		if err != nil {
			t.Fatalf("Loop returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not return after terminate")
	}
	if !terminated {
		t.Error("terminate path not exercised")
	}
}

func TestLoopMicrostep(t *testing.T) {
	segName := testName("modrt-seg")
	barName := testName("modrt-bar")

	specs := []backplane.SignalSpec{{Name: "m.x", Type: backplane.F64, Flags: backplane.Writable}}
	seg, err := backplane.Create(segName, specs)
	if err != nil {
		t.Fatalf("Create segment: %v", err)
	}
	defer seg.Destroy()

	bar, err := barrier.Create(barName, 1)
	if err != nil {
		t.Fatalf("Create barrier: %v", err)
	}
	defer bar.Destroy()

	clientConn, coordConn := net.Pipe()
	coord := &fakeCoordinator{conn: coordConn}

	ctx := context.Background()
	rt, err := Attach(ctx, Params{SegmentName: segName, BarrierName: barName, ModuleName: "m", NumModules: 1})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	rt.SetControlChannel(NewDuplexPipe(clientConn, clientConn, clientConn))
	defer rt.Close()

	var steps []uint64
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- rt.Loop(
			func() error { return nil },
			func(frame, timeNs uint64) error {
				steps = append(steps, frame)
				return rt.SetF64("m.x", float64(frame))
			},
			func() error { return nil },
		)
	}()

	if reply, err := coord.send(CmdStage); err != nil || !reply.Ack {
		t.Fatalf("send stage: reply=%+v err=%v", reply, err)
	}

	reply, err := ctrlproto.SendMicrostep(coordConn, 5, 50_000_000)
	if err != nil {
		t.Fatalf("SendMicrostep: %v", err)
	}
	if !reply.Ack {
		t.Fatalf("microstep not acked: %+v", reply)
	}

	reply, err = ctrlproto.SendMicrostep(coordConn, 6, 60_000_000)
	if err != nil {
		t.Fatalf("SendMicrostep: %v", err)
	}
	if !reply.Ack {
		t.Fatalf("microstep not acked: %+v", reply)
	}

	got, err := seg.GetF64("m.x")
	if err != nil || got != 6 {
		t.Errorf("m.x = %v, %v, want 6, nil", got, err)
	}
	if len(steps) != 2 || steps[0] != 5 || steps[1] != 6 {
		t.Errorf("stepper frames = %v, want [5 6]", steps)
	}

	if reply, err := coord.send(CmdTerminate); err != nil || !reply.Ack {
		t.Fatalf("send terminate: reply=%+v err=%v", reply, err)
	}
	select {
	case err := <-loopErr:
		if err != nil {
			t.Fatalf("Loop returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not return after terminate")
	}
}
