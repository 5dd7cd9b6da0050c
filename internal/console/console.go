// Package console is an interactive debugging shell for poking at a
// scanner one command at a time: attach, issue raw maintenance
// commands, run short scans, reset a wedged device.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/mzyy94/kvscan/internal/kvs"
	"github.com/mzyy94/kvscan/internal/output"
	"github.com/mzyy94/kvscan/internal/session"
	"github.com/mzyy94/kvscan/internal/transport"
)

// Console holds the shell state: at most one attached scanner and the
// session controller driving it.
type Console struct {
	log *slog.Logger
	out io.Writer

	tr  transport.Transport
	ctl *session.Controller
}

type command struct {
	name string
	help string
	fn   func(ctx context.Context, arg string) error
}

func New(log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{log: log}
}

// Run reads commands until quit or EOF.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kvscan> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()
	c.out = rl.Stdout()

	cmds := c.commands()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			break
		}
		name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		if name == "" {
			continue
		}
		if name == "quit" || name == "exit" {
			break
		}
		if name == "help" {
			c.printHelp(cmds)
			continue
		}
		cmd, ok := cmds[name]
		if !ok {
			fmt.Fprintf(c.out, "unknown command %q, try help\n", name)
			continue
		}
		if err := cmd.fn(ctx, strings.TrimSpace(arg)); err != nil {
			fmt.Fprintf(c.out, "%s: %v\n", name, err)
		}
	}
	c.detach()
	return nil
}

func (c *Console) commands() map[string]command {
	table := []command{
		{"list", "list attached scanners as bus:address", c.cmdList},
		{"attach", "attach [bus:address]  open and claim a scanner", c.cmdAttach},
		{"close", "release the attached scanner", c.cmdClose},
		{"reset", "reset [bus:address]  usb port reset", c.cmdReset},
		{"testready", "issue TEST UNIT READY", c.cmdTestReady},
		{"inquiry", "print the scanner identity", c.cmdInquiry},
		{"version", "read the firmware version block", c.cmdVersion},
		{"counter", "read the page counter block", c.cmdCounter},
		{"warning", "read the warning state block", c.cmdWarning},
		{"clearwarning", "clear the warning state", c.cmdClearWarning},
		{"hopper", "lower the feed hopper", c.cmdHopper},
		{"stop", "stop the document feeder", c.cmdStop},
		{"windowsreset", "issue the resetting SET WINDOW variant", c.cmdWindowsReset},
		{"read", "read [n]  scan n pages (duplex) to out-NNN-S.jpeg", c.cmdRead},
		{"read1", "scan a single page", c.cmdRead1},
		{"readside", "readside [front|back] [page]  drain one page side, discard data", c.cmdReadSide},
		{"sense", "issue REQUEST SENSE and decode the result", c.cmdSense},
		{"state", "print the session state", c.cmdState},
	}
	m := make(map[string]command, len(table))
	for _, cmd := range table {
		m[cmd.name] = cmd
	}
	return m
}

func (c *Console) printHelp(cmds map[string]command) {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-14s %s\n", name, cmds[name].help)
	}
	fmt.Fprintf(c.out, "  %-14s %s\n", "help", "this text")
	fmt.Fprintf(c.out, "  %-14s %s\n", "quit", "leave the console")
}

func (c *Console) attached() error {
	if c.tr == nil {
		return errors.New("attach first")
	}
	return nil
}

func (c *Console) detach() {
	if c.tr != nil {
		c.tr.Close()
		c.tr = nil
		c.ctl = nil
	}
}

func (c *Console) cmdList(ctx context.Context, arg string) error {
	devs, err := transport.ListUSB()
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Fprintln(c.out, "no devices found")
		return nil
	}
	for _, d := range devs {
		fmt.Fprintln(c.out, d)
	}
	return nil
}

func (c *Console) cmdAttach(ctx context.Context, arg string) error {
	if c.tr != nil {
		return errors.New("already attached, close first")
	}
	tr, err := transport.OpenUSB(ctx, arg, c.log)
	if err != nil {
		return err
	}
	c.tr = tr
	c.ctl = session.New(tr, c.log)
	fmt.Fprintln(c.out, "attached")
	return nil
}

func (c *Console) cmdClose(ctx context.Context, arg string) error {
	if c.tr == nil {
		fmt.Fprintln(c.out, "already closed")
		return nil
	}
	c.detach()
	return nil
}

func (c *Console) cmdReset(ctx context.Context, arg string) error {
	if c.tr != nil {
		c.detach()
	}
	return transport.ResetUSB(arg)
}

func (c *Console) cmdTestReady(ctx context.Context, arg string) error {
	if err := c.attached(); err != nil {
		return err
	}
	res, err := c.tr.Execute(ctx, kvs.TestUnitReady(), nil)
	if err != nil {
		return err
	}
	if res.Status != kvs.StatusGood {
		fmt.Fprintf(c.out, "not ready: %s\n", res.Sense.Describe())
		return nil
	}
	fmt.Fprintln(c.out, "ready")
	return nil
}

func (c *Console) cmdInquiry(ctx context.Context, arg string) error {
	if err := c.attached(); err != nil {
		return err
	}
	buf := make([]byte, 0x60)
	res, err := c.tr.Execute(ctx, kvs.Inquiry(), buf)
	if err != nil {
		return err
	}
	if res.Status != kvs.StatusGood {
		return &kvs.DeviceError{Op: "INQUIRY", Sense: res.Sense}
	}
	info, err := kvs.ParseInquiry(buf)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "vendor %q model %q revision %q\n", info.Vendor, info.Model, info.Revision)
	return nil
}

func (c *Console) maintenanceRead(ctx context.Context, cmd kvs.Command) error {
	if err := c.attached(); err != nil {
		return err
	}
	buf := make([]byte, cmd.DataLen)
	res, err := c.tr.Execute(ctx, cmd, buf)
	if err != nil {
		return err
	}
	if res.Status != kvs.StatusGood {
		return &kvs.DeviceError{Op: cmd.Name(), Sense: res.Sense}
	}
	fmt.Fprintf(c.out, "% x\n", buf[:res.Transferred])
	return nil
}

func (c *Console) cmdVersion(ctx context.Context, arg string) error {
	return c.maintenanceRead(ctx, kvs.GetVersion())
}

func (c *Console) cmdCounter(ctx context.Context, arg string) error {
	return c.maintenanceRead(ctx, kvs.GetCounter())
}

func (c *Console) cmdWarning(ctx context.Context, arg string) error {
	return c.maintenanceRead(ctx, kvs.GetWarning())
}

func (c *Console) execSimple(ctx context.Context, cmd kvs.Command) error {
	if err := c.attached(); err != nil {
		return err
	}
	res, err := c.tr.Execute(ctx, cmd, nil)
	if err != nil {
		return err
	}
	if res.Status != kvs.StatusGood {
		return &kvs.DeviceError{Op: cmd.Name(), Sense: res.Sense}
	}
	return nil
}

func (c *Console) cmdClearWarning(ctx context.Context, arg string) error {
	return c.execSimple(ctx, kvs.ClearWarning())
}

func (c *Console) cmdHopper(ctx context.Context, arg string) error {
	return c.execSimple(ctx, kvs.HopperDown())
}

func (c *Console) cmdStop(ctx context.Context, arg string) error {
	return c.execSimple(ctx, kvs.StopADF())
}

func (c *Console) cmdWindowsReset(ctx context.Context, arg string) error {
	return c.execSimple(ctx, kvs.ResetWindows())
}

func (c *Console) scan(ctx context.Context, pages int) error {
	if err := c.attached(); err != nil {
		return err
	}
	w := kvs.DefaultWindow()
	w.XRes, w.YRes = 400, 400
	w.Subsample = 0
	w.CompressionArgument = 90

	sink := output.NewFileSink("out", "")
	err := c.ctl.Run(ctx, session.Options{Window: w, Duplex: true, Pages: pages},
		func(p session.Page) error {
			if err := sink.Write(p); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s: %d bytes\n", sink.Name(p), len(p.Data))
			return nil
		})
	if err != nil {
		return err
	}
	return sink.Close()
}

func (c *Console) cmdRead(ctx context.Context, arg string) error {
	pages := 0
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("page count %q: %w", arg, err)
		}
		pages = n
	}
	return c.scan(ctx, pages)
}

func (c *Console) cmdRead1(ctx context.Context, arg string) error {
	return c.scan(ctx, 1)
}

// cmdReadSide drains a single page side straight off the transport
// without touching the session state machine. Useful for clearing a
// page the device is still holding after an interrupted scan.
func (c *Console) cmdReadSide(ctx context.Context, arg string) error {
	if err := c.attached(); err != nil {
		return err
	}
	back := false
	page := 0
	for _, f := range strings.Fields(arg) {
		switch f {
		case "front":
		case "back":
			back = true
		default:
			n, err := strconv.Atoi(f)
			if err != nil {
				return fmt.Errorf("argument %q: %w", f, err)
			}
			page = n
		}
	}
	buf := make([]byte, kvs.MaxChunk)
	total := 0
	for {
		res, err := c.tr.Execute(ctx, kvs.Read(kvs.ReadImage, uint8(page), back, uint32(len(buf))), buf)
		if err != nil {
			return err
		}
		if res.Status == kvs.StatusGood {
			total += res.Transferred
			continue
		}
		if !res.Sense.Valid || !res.Sense.IncorrectLength {
			return &kvs.DeviceError{Op: "READ", Sense: res.Sense}
		}
		total += len(buf) - int(res.Sense.Residual)
		fmt.Fprintf(c.out, "%d bytes discarded\n", total)
		return nil
	}
}

func (c *Console) cmdSense(ctx context.Context, arg string) error {
	if err := c.attached(); err != nil {
		return err
	}
	buf := make([]byte, kvs.SenseSize)
	res, err := c.tr.Execute(ctx, kvs.RequestSense(), buf)
	if err != nil {
		return err
	}
	info := kvs.ParseSense(buf[:res.Transferred])
	fmt.Fprintf(c.out, "% x\n%s\n", buf[:res.Transferred], info.Describe())
	return nil
}

func (c *Console) cmdState(ctx context.Context, arg string) error {
	if c.ctl == nil {
		fmt.Fprintln(c.out, "no session")
		return nil
	}
	fmt.Fprintf(c.out, "%s (page %d, %s side)\n",
		c.ctl.State(), c.ctl.Logical(), c.ctl.Side())
	return nil
}
