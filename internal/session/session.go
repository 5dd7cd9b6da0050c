// Package session sequences a scanning run: reset and configure the
// windows, start the feeder, then per page and side wait for buffered
// data, query its dimensions and drain it in chunks. The device itself
// enforces page and side ordering; the controller only keeps the
// counters and surfaces device rejections as errors.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mzyy94/kvscan/internal/kvs"
	"github.com/mzyy94/kvscan/internal/transport"
)

// State of the scan session machine.
type State int

const (
	StateIdle State = iota
	StateWindowsReset
	StateWindowsSet
	StateScanning
	StateAwaitingBuffer
	StateSizeKnown
	StateDraining
	StatePageDone
	StateComplete
	StateAborted
)

var stateNames = [...]string{
	"idle", "windows-reset", "windows-set", "scanning", "awaiting-buffer",
	"size-known", "draining", "page-done", "complete", "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// StateError reports an operation invoked from the wrong state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

// Side of a duplex page.
type Side int

const (
	SideFront Side = iota
	SideBack
)

func (s Side) String() string {
	if s == SideBack {
		return "back"
	}
	return "front"
}

// Letter returns the side marker used in output file names.
func (s Side) Letter() string {
	if s == SideBack {
		return "B"
	}
	return "A"
}

// Page is one retrieved page side. Data is the raw image payload as the
// device produced it, typically a complete JPEG stream.
type Page struct {
	// Number is the logical page counter. It never wraps, unlike the
	// device-side index underneath it.
	Number int
	Side   Side
	Width  uint32
	Height uint32
	Data   []byte
}

// Options configure a scanning run.
type Options struct {
	Window kvs.Window
	Duplex bool
	// Pages is the number of sheets to scan; 0 scans until the feeder
	// is empty.
	Pages int
	// PollInterval is the buffer-status poll period, 50ms when zero.
	PollInterval time.Duration
}

const defaultPollInterval = 50 * time.Millisecond

// Controller drives one scanner for one run at a time. It is not safe
// for concurrent use; the device cannot multiplex sessions either.
type Controller struct {
	tr  transport.Transport
	log *slog.Logger

	state   State
	duplex  bool
	side    Side
	devPage uint8
	logical int
	poll    time.Duration
	chunk   int
}

func New(tr transport.Transport, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		tr:    tr,
		log:   log,
		state: StateIdle,
		poll:  defaultPollInterval,
		chunk: kvs.MaxChunk,
	}
}

// State returns the current machine state.
func (c *Controller) State() State { return c.state }

// Logical returns the logical page counter.
func (c *Controller) Logical() int { return c.logical }

// Side returns the side the next retrieval operates on.
func (c *Controller) Side() Side { return c.side }

func (c *Controller) ensure(op string, allowed ...State) error {
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	return &StateError{Op: op, State: c.state}
}

// exec runs one command and turns transport failures into an aborted
// session. Check conditions are returned in the result for the caller
// to interpret.
func (c *Controller) exec(ctx context.Context, cmd kvs.Command, data []byte) (kvs.TransferResult, error) {
	res, err := c.tr.Execute(ctx, cmd, data)
	if err != nil {
		c.state = StateAborted
		return res, fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return res, nil
}

func (c *Controller) fail(cmd kvs.Command, sense kvs.SenseInfo) error {
	c.state = StateAborted
	return &kvs.DeviceError{Op: cmd.Name(), Sense: sense}
}

// ResetWindows clears all window state on the device. It must precede
// any (re)configuration.
func (c *Controller) ResetWindows(ctx context.Context) error {
	if err := c.ensure("reset windows", StateIdle, StatePageDone, StateComplete, StateAborted); err != nil {
		return err
	}
	cmd := kvs.ResetWindows()
	res, err := c.exec(ctx, cmd, nil)
	if err != nil {
		return err
	}
	if res.Status != kvs.StatusGood {
		return c.fail(cmd, res.Sense)
	}
	c.state = StateWindowsReset
	return nil
}

// SetWindows configures the front window and, for duplex, a back window
// that shares every field except the window identifier.
func (c *Controller) SetWindows(ctx context.Context, w *kvs.Window, duplex bool) error {
	if err := c.ensure("set windows", StateWindowsReset); err != nil {
		return err
	}
	for _, id := range windowIDs(duplex) {
		payload := kvs.SetWindowPayload(w, id)
		cmd := kvs.SetWindow(len(payload))
		res, err := c.exec(ctx, cmd, payload)
		if err != nil {
			return err
		}
		if res.Status != kvs.StatusGood {
			return c.fail(cmd, res.Sense)
		}
	}
	c.duplex = duplex
	c.state = StateWindowsSet
	c.log.Debug("windows configured", "duplex", duplex,
		"resolution", w.XRes, "pages", w.PagesToScan)
	return nil
}

func windowIDs(duplex bool) []byte {
	if duplex {
		return []byte{kvs.WindowFront, kvs.WindowBack}
	}
	return []byte{kvs.WindowFront}
}

// StartScan starts the feeder. The device-side page index restarts at
// zero for the new scan; the logical counter keeps its value so callers
// can number pages across multiple scans.
func (c *Controller) StartScan(ctx context.Context) error {
	if err := c.ensure("start scan", StateWindowsSet); err != nil {
		return err
	}
	cmd := kvs.Scan()
	res, err := c.exec(ctx, cmd, nil)
	if err != nil {
		return err
	}
	if res.Status != kvs.StatusGood {
		// An empty feeder fails here, before any polling happens.
		return c.fail(cmd, res.Sense)
	}
	c.devPage = 0
	c.side = SideFront
	c.state = StateScanning
	c.log.Info("scan started", "page", c.logical)
	return nil
}

// WaitForData polls the data buffer status until the device reports
// image bytes ready for the current page side. This is the only busy
// wait in the system and honors ctx cancellation between polls.
func (c *Controller) WaitForData(ctx context.Context) (kvs.BufferStatus, error) {
	if err := c.ensure("wait for data", StateScanning, StatePageDone); err != nil {
		return kvs.BufferStatus{}, err
	}
	buf := make([]byte, 12)
	for {
		cmd := kvs.DataBufferStatus()
		res, err := c.exec(ctx, cmd, buf)
		if err != nil {
			return kvs.BufferStatus{}, err
		}
		if res.Status != kvs.StatusGood {
			return kvs.BufferStatus{}, c.fail(cmd, res.Sense)
		}
		bs, err := kvs.ParseBufferStatus(buf)
		if err != nil {
			c.state = StateAborted
			return kvs.BufferStatus{}, err
		}
		if bs.Available > 0 {
			c.state = StateAwaitingBuffer
			return bs, nil
		}
		select {
		case <-time.After(c.poll):
		case <-ctx.Done():
			c.state = StateAborted
			return kvs.BufferStatus{}, ctx.Err()
		}
	}
}

// PageSize queries the pixel dimensions of the current page side.
func (c *Controller) PageSize(ctx context.Context) (width, height uint32, err error) {
	if err := c.ensure("page size", StateAwaitingBuffer); err != nil {
		return 0, 0, err
	}
	buf := make([]byte, 16)
	cmd := kvs.PictureSize(c.devPage, c.side == SideBack)
	res, err := c.exec(ctx, cmd, buf)
	if err != nil {
		return 0, 0, err
	}
	if res.Status != kvs.StatusGood {
		return 0, 0, c.fail(cmd, res.Sense)
	}
	if width, height, err = kvs.ParsePictureSize(buf); err != nil {
		c.state = StateAborted
		return 0, 0, err
	}
	c.state = StateSizeKnown
	return width, height, nil
}

// DrainPage reads the current page side to completion. Full chunks mean
// more data remains; the device signals the final chunk with an
// incorrect-length sense whose residual gives the exact byte count, and
// the end-of-medium bit closes the page side.
func (c *Controller) DrainPage(ctx context.Context) ([]byte, error) {
	if err := c.ensure("read image", StateSizeKnown); err != nil {
		return nil, err
	}
	c.state = StateDraining

	var out []byte
	for {
		buf := make([]byte, c.chunk)
		cmd := kvs.Read(kvs.ReadImage, c.devPage, c.side == SideBack, uint32(c.chunk))
		res, err := c.exec(ctx, cmd, buf)
		if err != nil {
			return nil, err
		}
		switch res.Status {
		case kvs.StatusGood:
			out = append(out, buf...)
		case kvs.StatusCheckCondition:
			s := res.Sense
			if !s.Valid || !s.IncorrectLength {
				return nil, c.fail(cmd, s)
			}
			n := uint32(c.chunk) - s.Residual
			out = append(out, buf[:n]...)
			if s.EndOfMedium {
				c.advance()
				c.log.Debug("page side drained", "page", c.logical,
					"side", c.side.String(), "bytes", len(out))
				return out, nil
			}
		default:
			return nil, c.fail(cmd, res.Sense)
		}
	}
}

// advance moves the counters past the side just drained. The device
// page index is a uint8 and wraps at 256 by construction; the logical
// counter keeps incrementing.
func (c *Controller) advance() {
	if c.duplex && c.side == SideFront {
		c.side = SideBack
	} else {
		c.side = SideFront
		c.devPage++
		c.logical++
	}
	c.state = StatePageDone
}

// Stop halts the document feeder. Pages already buffered on the device
// remain readable afterwards.
func (c *Controller) Stop(ctx context.Context) error {
	cmd := kvs.StopADF()
	res, err := c.exec(ctx, cmd, nil)
	if err != nil {
		return err
	}
	if res.Status != kvs.StatusGood {
		return c.fail(cmd, res.Sense)
	}
	return nil
}

// Run executes a complete scanning run, invoking emit once per
// retrieved page side in device order. With Options.Pages zero it scans
// until the feeder is empty and treats paper exhaustion as normal
// completion; with a fixed count, running out early is an error.
func (c *Controller) Run(ctx context.Context, opts Options, emit func(Page) error) error {
	if err := c.ensure("run", StateIdle, StateComplete, StateAborted); err != nil {
		return err
	}
	if opts.PollInterval > 0 {
		c.poll = opts.PollInterval
	}

	// Scans run in blocks of at most 254 pages, the largest count the
	// one-byte window field can request short of the scan-everything
	// value 0xFF.
	const maxBlock = 0xFE
	w := opts.Window
	continuous := opts.Pages <= 0
	start := c.logical

	for {
		blockSize := 0
		if continuous {
			w.PagesToScan = 0xFF
		} else {
			blockSize = opts.Pages - (c.logical - start)
			if blockSize <= 0 {
				break
			}
			if blockSize > maxBlock {
				blockSize = maxBlock
			}
			w.PagesToScan = byte(blockSize)
		}

		if err := c.ResetWindows(ctx); err != nil {
			return err
		}
		if err := c.SetWindows(ctx, &w, opts.Duplex); err != nil {
			return err
		}
		if err := c.StartScan(ctx); err != nil {
			if continuous && c.logical > start && isOutOfPaper(err) {
				break
			}
			return err
		}

		blockStart := c.logical
		for continuous || c.logical-blockStart < blockSize {
			if _, err := c.WaitForData(ctx); err != nil {
				if continuous && c.side == SideFront && feederExhausted(err) {
					c.state = StateComplete
					c.log.Info("scan complete", "pages", c.logical-start)
					return nil
				}
				return err
			}
			width, height, err := c.PageSize(ctx)
			if err != nil {
				return err
			}
			page := Page{Number: c.logical, Side: c.side, Width: width, Height: height}
			if page.Data, err = c.DrainPage(ctx); err != nil {
				return err
			}
			if err := emit(page); err != nil {
				c.state = StateAborted
				return fmt.Errorf("emitting page %d: %w", page.Number, err)
			}
		}
	}

	c.state = StateComplete
	c.log.Info("scan complete", "pages", c.logical-start)
	return nil
}

func isOutOfPaper(err error) bool {
	var de *kvs.DeviceError
	return errors.As(err, &de) && de.Sense.Classify() == kvs.ClassOutOfPaper
}

// feederExhausted reports whether err is how the end of the document
// stack shows up mid-run: an out-of-paper sense, or a data phase
// failure on the channel, which some firmware produces instead.
func feederExhausted(err error) bool {
	return isOutOfPaper(err) || transport.IsDataPhase(err)
}
