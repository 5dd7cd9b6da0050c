package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/mzyy94/kvscan/internal/kvs"
)

// fakeSide is one page side the fake device will serve.
type fakeSide struct {
	data          []byte
	width, height uint32
	offset        int
}

type readReq struct {
	page uint8
	back bool
}

// fakeDev plays the device side of the protocol: it hands out page
// sides in order and ends each one with the incorrect-length sense a
// real scanner produces on the final chunk.
type fakeDev struct {
	sides []*fakeSide
	cur   int

	resets       int
	scans        int
	windowIDs    []byte
	statusPolls  int
	pendingPolls int
	reads        []readReq
}

func checkCondition(sense kvs.SenseInfo) kvs.TransferResult {
	return kvs.TransferResult{Status: kvs.StatusCheckCondition, Sense: sense}
}

func outOfPaperSense() kvs.SenseInfo {
	return kvs.SenseInfo{Valid: true, Key: kvs.SenseMediumError, ASC: 0x3A}
}

func (d *fakeDev) Execute(_ context.Context, cmd kvs.Command, data []byte) (kvs.TransferResult, error) {
	good := kvs.TransferResult{Status: kvs.StatusGood, Transferred: cmd.DataLen}
	switch cmd.CDB[0] {
	case kvs.OpTestUnitReady:
		return good, nil

	case kvs.OpSetWindow:
		if cmd.DataLen == 0 {
			d.resets++
		} else {
			d.windowIDs = append(d.windowIDs, data[8])
		}
		return good, nil

	case kvs.OpScan:
		d.scans++
		if d.cur >= len(d.sides) {
			return checkCondition(outOfPaperSense()), nil
		}
		return good, nil

	case kvs.OpGetDataBufferStatus:
		d.statusPolls++
		if d.cur >= len(d.sides) {
			return checkCondition(outOfPaperSense()), nil
		}
		for i := range data[:12] {
			data[i] = 0
		}
		if d.pendingPolls > 0 {
			d.pendingPolls--
			return good, nil
		}
		s := d.sides[d.cur]
		avail := uint32(len(s.data) - s.offset)
		data[9], data[10], data[11] = byte(avail>>16), byte(avail>>8), byte(avail)
		return good, nil

	case kvs.OpRead:
		if d.cur >= len(d.sides) {
			return checkCondition(outOfPaperSense()), nil
		}
		s := d.sides[d.cur]
		if cmd.CDB[2] == kvs.ReadPictureElementSize {
			for i := range data[:16] {
				data[i] = 0
			}
			data[0], data[1], data[2], data[3] = byte(s.width>>24), byte(s.width>>16), byte(s.width>>8), byte(s.width)
			data[4], data[5], data[6], data[7] = byte(s.height>>24), byte(s.height>>16), byte(s.height>>8), byte(s.height)
			return good, nil
		}
		d.reads = append(d.reads, readReq{page: cmd.CDB[4], back: cmd.CDB[5] == kvs.Back})
		rem := len(s.data) - s.offset
		if rem > cmd.DataLen {
			copy(data, s.data[s.offset:s.offset+cmd.DataLen])
			s.offset += cmd.DataLen
			return good, nil
		}
		copy(data, s.data[s.offset:])
		s.offset = len(s.data)
		d.cur++
		return checkCondition(kvs.SenseInfo{
			Valid:           true,
			EndOfMedium:     true,
			IncorrectLength: true,
			Residual:        uint32(cmd.DataLen - rem),
		}), nil

	case kvs.OpMaintenanceOut:
		return good, nil
	}
	return good, nil
}

func (d *fakeDev) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sideBytes(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestRunSimplexSequence(t *testing.T) {
	dev := &fakeDev{sides: []*fakeSide{
		{data: sideBytes(250, 1), width: 100, height: 200},
		{data: sideBytes(250, 2), width: 100, height: 200},
		{data: sideBytes(250, 3), width: 100, height: 200},
	}}
	c := New(dev, testLogger())
	c.chunk = 100

	var got []Page
	err := c.Run(context.Background(), Options{Window: kvs.DefaultWindow(), Pages: 3},
		func(p Page) error {
			got = append(got, p)
			return nil
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c.State() != StateComplete {
		t.Errorf("state = %v, want complete", c.State())
	}
	if len(got) != 3 {
		t.Fatalf("emitted %d pages, want 3", len(got))
	}
	for i, p := range got {
		if p.Number != i || p.Side != SideFront {
			t.Errorf("page %d: number %d side %v", i, p.Number, p.Side)
		}
		if p.Width != 100 || p.Height != 200 {
			t.Errorf("page %d: size %dx%d, want 100x200", i, p.Width, p.Height)
		}
		if len(p.Data) != 250 || p.Data[0] != byte(i+1) {
			t.Errorf("page %d: %d bytes starting %#02x", i, len(p.Data), p.Data[0])
		}
	}

	// 250 bytes at 100 per chunk is three reads per page, the last short.
	if len(dev.reads) != 9 {
		t.Errorf("image reads = %d, want 9", len(dev.reads))
	}
	if dev.resets != 1 || dev.scans != 1 {
		t.Errorf("resets = %d scans = %d, want 1 each", dev.resets, dev.scans)
	}
	if len(dev.windowIDs) != 1 || dev.windowIDs[0] != kvs.WindowFront {
		t.Errorf("window ids = %v, want front only", dev.windowIDs)
	}
}

func TestRunDuplexOrdering(t *testing.T) {
	dev := &fakeDev{sides: []*fakeSide{
		{data: sideBytes(50, 0xA0), width: 10, height: 10},
		{data: sideBytes(50, 0xB0), width: 10, height: 10},
		{data: sideBytes(50, 0xA1), width: 10, height: 10},
		{data: sideBytes(50, 0xB1), width: 10, height: 10},
	}}
	c := New(dev, testLogger())
	c.chunk = 64

	var seq []string
	err := c.Run(context.Background(), Options{Window: kvs.DefaultWindow(), Pages: 2, Duplex: true},
		func(p Page) error {
			seq = append(seq, fmt.Sprintf("%d%s", p.Number, p.Side.Letter()))
			return nil
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"0A", "0B", "1A", "1B"}
	if len(seq) != len(want) {
		t.Fatalf("emitted %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("emitted %v, want %v", seq, want)
		}
	}

	if len(dev.windowIDs) != 2 || dev.windowIDs[0] != kvs.WindowFront || dev.windowIDs[1] != kvs.WindowBack {
		t.Errorf("window ids = %v, want [front back]", dev.windowIDs)
	}
	wantReads := []readReq{{0, false}, {0, true}, {1, false}, {1, true}}
	if len(dev.reads) != len(wantReads) {
		t.Fatalf("reads = %v, want %v", dev.reads, wantReads)
	}
	for i := range wantReads {
		if dev.reads[i] != wantReads[i] {
			t.Fatalf("reads = %v, want %v", dev.reads, wantReads)
		}
	}
}

func TestDevicePageWraps(t *testing.T) {
	c := New(&fakeDev{}, testLogger())
	c.devPage = 255
	c.logical = 255

	c.advance()
	if c.devPage != 0 {
		t.Errorf("device page = %d, want 0 after wrap", c.devPage)
	}
	if c.logical != 256 {
		t.Errorf("logical page = %d, want 256", c.logical)
	}
}

func TestDuplexAdvanceKeepsPageUntilBack(t *testing.T) {
	c := New(&fakeDev{}, testLogger())
	c.duplex = true

	c.advance()
	if c.side != SideBack || c.devPage != 0 || c.logical != 0 {
		t.Errorf("after front: side %v page %d logical %d", c.side, c.devPage, c.logical)
	}
	c.advance()
	if c.side != SideFront || c.devPage != 1 || c.logical != 1 {
		t.Errorf("after back: side %v page %d logical %d", c.side, c.devPage, c.logical)
	}
}

func TestOutOfPaperAbortsBeforePolling(t *testing.T) {
	dev := &fakeDev{} // empty feeder
	c := New(dev, testLogger())

	err := c.Run(context.Background(), Options{Window: kvs.DefaultWindow(), Pages: 1},
		func(Page) error { return nil })
	if !isOutOfPaper(err) {
		t.Fatalf("err = %v, want out-of-paper device error", err)
	}
	if dev.statusPolls != 0 {
		t.Errorf("buffer status polled %d times before abort, want 0", dev.statusPolls)
	}
	if c.State() != StateAborted {
		t.Errorf("state = %v, want aborted", c.State())
	}
}

func TestContinuousRunEndsWhenFeederEmpty(t *testing.T) {
	dev := &fakeDev{sides: []*fakeSide{
		{data: sideBytes(30, 1), width: 5, height: 5},
		{data: sideBytes(30, 2), width: 5, height: 5},
	}}
	c := New(dev, testLogger())
	c.chunk = 64

	var count int
	err := c.Run(context.Background(), Options{Window: kvs.DefaultWindow()},
		func(Page) error {
			count++
			return nil
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if count != 2 {
		t.Errorf("emitted %d pages, want 2", count)
	}
	if c.State() != StateComplete {
		t.Errorf("state = %v, want complete", c.State())
	}
}

func TestShortReadLength(t *testing.T) {
	// End-of-page signaled by residual 0x32 against a full 64 KiB
	// request: exactly 0x10000-0x32 bytes come back.
	n := kvs.MaxChunk - 0x32
	dev := &fakeDev{sides: []*fakeSide{{data: sideBytes(n, 7), width: 1, height: 1}}}
	c := New(dev, testLogger())

	var got Page
	err := c.Run(context.Background(), Options{Window: kvs.DefaultWindow(), Pages: 1},
		func(p Page) error {
			got = p
			return nil
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(got.Data) != n {
		t.Errorf("drained %d bytes, want %d", len(got.Data), n)
	}
	if len(dev.reads) != 1 {
		t.Errorf("image reads = %d, want 1", len(dev.reads))
	}
}

func TestWaitForDataPollsUntilReady(t *testing.T) {
	dev := &fakeDev{
		sides:        []*fakeSide{{data: sideBytes(10, 1), width: 1, height: 1}},
		pendingPolls: 3,
	}
	c := New(dev, testLogger())
	c.poll = 0
	c.state = StateScanning

	bs, err := c.WaitForData(context.Background())
	if err != nil {
		t.Fatalf("WaitForData failed: %v", err)
	}
	if dev.statusPolls != 4 {
		t.Errorf("polls = %d, want 4", dev.statusPolls)
	}
	if bs.Available != 10 {
		t.Errorf("available = %d, want 10", bs.Available)
	}
}

func TestWaitForDataCancellable(t *testing.T) {
	dev := &fakeDev{
		sides:        []*fakeSide{{data: sideBytes(10, 1), width: 1, height: 1}},
		pendingPolls: 1 << 30,
	}
	c := New(dev, testLogger())
	c.state = StateScanning

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.WaitForData(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if c.State() != StateAborted {
		t.Errorf("state = %v, want aborted", c.State())
	}
}

func TestOperationsRejectWrongState(t *testing.T) {
	c := New(&fakeDev{}, testLogger())
	ctx := context.Background()

	var se *StateError
	if _, err := c.WaitForData(ctx); !errors.As(err, &se) {
		t.Errorf("WaitForData from idle: err = %v, want StateError", err)
	}
	w := kvs.DefaultWindow()
	if err := c.SetWindows(ctx, &w, false); !errors.As(err, &se) {
		t.Errorf("SetWindows before reset: err = %v, want StateError", err)
	}
	if err := c.StartScan(ctx); !errors.As(err, &se) {
		t.Errorf("StartScan before configure: err = %v, want StateError", err)
	}
	if _, err := c.DrainPage(ctx); !errors.As(err, &se) {
		t.Errorf("DrainPage from idle: err = %v, want StateError", err)
	}
}

func TestEmitErrorAbortsRun(t *testing.T) {
	dev := &fakeDev{sides: []*fakeSide{{data: sideBytes(10, 1), width: 1, height: 1}}}
	c := New(dev, testLogger())

	sinkErr := errors.New("disk full")
	err := c.Run(context.Background(), Options{Window: kvs.DefaultWindow(), Pages: 1},
		func(Page) error { return sinkErr })
	if !errors.Is(err, sinkErr) {
		t.Fatalf("err = %v, want wrapped sink error", err)
	}
	if c.State() != StateAborted {
		t.Errorf("state = %v, want aborted", c.State())
	}
}
