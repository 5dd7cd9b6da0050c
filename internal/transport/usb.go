package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/gousb"

	"github.com/mzyy94/kvscan/internal/kvs"
)

// USB IDs the scanners enumerate with. 0x1004 covers the KV-S3105C,
// 0x100E the KV-S70xx family.
const (
	vendorPanasonic gousb.ID = 0x04DA
	productKVS3105  gousb.ID = 0x1004
	productKVS70xx  gousb.ID = 0x100E
)

// Bulk endpoint addresses on interface 0.
const (
	epIn  = 0x81
	epOut = 0x02
)

// Every bulk transfer starts with a 12-byte header: a big-endian block
// length, a block type, a type-specific code and a transaction id the
// scanners always leave at zero.
const (
	headerSize = 12
	statusSize = 4

	blockCommand  uint16 = 1
	blockData     uint16 = 2
	blockResponse uint16 = 3

	codeCommand  uint16 = 0x9000
	codeData     uint16 = 0xB000
	codeResponse uint16 = 0xA000
)

const defaultUSBTimeout = 10 * time.Second

func putHeader(dst []byte, length uint32, typ, code uint16) {
	binary.BigEndian.PutUint32(dst[0:4], length)
	binary.BigEndian.PutUint16(dst[4:6], typ)
	binary.BigEndian.PutUint16(dst[6:8], code)
}

// commandBlock frames a CDB for the bulk-out pipe. The CDB is zero
// padded to the fixed 12-byte command slot.
func commandBlock(cdb []byte) []byte {
	block := make([]byte, headerSize+kvs.MaxCDBSize)
	putHeader(block, uint32(len(block)), blockCommand, codeCommand)
	copy(block[headerSize:], cdb)
	return block
}

// dataBlock frames an outbound data phase.
func dataBlock(payload []byte) []byte {
	block := make([]byte, headerSize+len(payload))
	putHeader(block, uint32(len(block)), blockData, codeData)
	copy(block[headerSize:], payload)
	return block
}

// parseStatus extracts the SCSI status word from a response block.
func parseStatus(resp []byte) (uint32, error) {
	if len(resp) < headerSize+statusSize {
		return 0, fmt.Errorf("status block too short: %d bytes", len(resp))
	}
	return binary.BigEndian.Uint32(resp[headerSize : headerSize+statusSize]), nil
}

// USB is a Transport over the scanner's bulk endpoints.
type USB struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	done    func()
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	timeout time.Duration
	log     *slog.Logger
}

func matchScanner(hint string) func(*gousb.DeviceDesc) bool {
	return func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != vendorPanasonic {
			return false
		}
		if desc.Product != productKVS3105 && desc.Product != productKVS70xx {
			return false
		}
		if hint != "" && hint != fmt.Sprintf("%d:%d", desc.Bus, desc.Address) {
			return false
		}
		return true
	}
}

// ListUSB returns "bus:address" strings for every attached KV-series
// scanner.
func ListUSB() ([]string, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []string
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if matchScanner("")(desc) {
			found = append(found, fmt.Sprintf("%d:%d", desc.Bus, desc.Address))
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("enumerating USB devices: %w", err)
	}
	return found, nil
}

// ResetUSB issues a USB port reset to the scanner matching hint. Some
// firmware revisions wedge their bulk pipes on an aborted scan and only
// a reset brings them back.
func ResetUSB(hint string) error {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(matchScanner(hint))
	for _, d := range devs {
		defer d.Close()
	}
	if err != nil {
		return fmt.Errorf("opening scanner: %w", err)
	}
	if len(devs) == 0 {
		return errors.New("no scanner found")
	}
	if err := devs[0].Reset(); err != nil {
		return fmt.Errorf("resetting scanner: %w", err)
	}
	time.Sleep(500 * time.Millisecond)
	return nil
}

// OpenUSB claims the first scanner matching hint ("bus:address", empty
// for any) and waits for it to come ready.
func OpenUSB(ctx context.Context, hint string, log *slog.Logger) (*USB, error) {
	if log == nil {
		log = slog.Default()
	}
	usbctx := gousb.NewContext()

	devs, err := usbctx.OpenDevices(matchScanner(hint))
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		usbctx.Close()
		return nil, fmt.Errorf("opening scanner: %w", err)
	}
	if len(devs) == 0 {
		usbctx.Close()
		return nil, errors.New("no scanner found")
	}
	dev := devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}

	u := &USB{ctx: usbctx, dev: dev, timeout: defaultUSBTimeout, log: log}
	if err := u.claim(); err != nil {
		u.Close()
		return nil, err
	}
	if err := u.clearHalt(); err != nil {
		log.Debug("clear halt failed", "error", err)
	}
	if err := u.waitReady(ctx); err != nil {
		u.Close()
		return nil, err
	}
	log.Info("scanner opened", "transport", "usb")
	return u, nil
}

func (u *USB) claim() error {
	if err := u.dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("detaching kernel driver: %w", err)
	}
	intf, done, err := u.dev.DefaultInterface()
	if err != nil {
		return fmt.Errorf("claiming interface: %w", err)
	}
	u.intf, u.done = intf, done
	if u.in, err = intf.InEndpoint(epIn & 0x0F); err != nil {
		return fmt.Errorf("opening bulk-in endpoint: %w", err)
	}
	if u.out, err = intf.OutEndpoint(epOut); err != nil {
		return fmt.Errorf("opening bulk-out endpoint: %w", err)
	}
	return nil
}

// clearHalt clears any stall left on the bulk endpoints by a previous
// user of the device.
func (u *USB) clearHalt() error {
	for _, ep := range []uint16{epIn, epOut} {
		// Standard CLEAR_FEATURE(ENDPOINT_HALT) to the endpoint.
		if _, err := u.dev.Control(0x02, 0x01, 0x00, ep, nil); err != nil {
			return err
		}
	}
	return nil
}

// waitReady polls TEST UNIT READY until the scanner answers GOOD. Fresh
// power-ons take several seconds to come up.
func (u *USB) waitReady(ctx context.Context) error {
	for i := 0; i < 10; i++ {
		res, err := u.Execute(ctx, kvs.TestUnitReady(), nil)
		if err == nil && res.Status == kvs.StatusGood {
			return nil
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.New("scanner did not become ready")
}

// Execute runs one command exchange. A CHECK CONDITION triggers an
// automatic REQUEST SENSE so the result always carries decoded sense
// data; the scanners have no auto-sense on this channel.
func (u *USB) Execute(ctx context.Context, cmd kvs.Command, data []byte) (kvs.TransferResult, error) {
	res, err := u.exchange(ctx, cmd, data)
	if err != nil || res.Status != kvs.StatusCheckCondition {
		return res, err
	}

	buf := make([]byte, kvs.SenseSize)
	if _, serr := u.exchange(ctx, kvs.RequestSense(), buf); serr != nil {
		return res, fmt.Errorf("fetching sense after %s: %w", cmd.Name(), serr)
	}
	res.Sense = kvs.ParseSense(buf)
	u.log.Debug("check condition", "cmd", cmd.Name(), "sense", res.Sense.Describe())
	return res, nil
}

func (u *USB) exchange(ctx context.Context, cmd kvs.Command, data []byte) (kvs.TransferResult, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	failed := kvs.TransferResult{Status: kvs.StatusTransportFailed}
	u.log.Debug("scsi command", "cmd", cmd.Name(), "dir", cmd.Direction.String(), "len", cmd.DataLen)

	if _, err := u.out.WriteContext(ctx, commandBlock(cmd.CDB)); err != nil {
		return failed, &Error{PhaseCommand, err}
	}

	var transferred int
	if cmd.DataLen > 0 {
		switch cmd.Direction {
		case kvs.DirIn:
			buf := make([]byte, headerSize+cmd.DataLen)
			n, err := u.in.ReadContext(ctx, buf)
			if err != nil {
				return failed, &Error{PhaseData, err}
			}
			if n < headerSize {
				return failed, &Error{PhaseData, fmt.Errorf("short data block: %d bytes", n)}
			}
			transferred = copy(data, buf[headerSize:n])
		case kvs.DirOut:
			if _, err := u.out.WriteContext(ctx, dataBlock(data[:cmd.DataLen])); err != nil {
				return failed, &Error{PhaseData, err}
			}
			transferred = cmd.DataLen
		}
	}

	resp := make([]byte, headerSize+statusSize)
	n, err := u.in.ReadContext(ctx, resp)
	if err != nil {
		failed.Transferred = transferred
		return failed, &Error{PhaseStatus, err}
	}
	status, err := parseStatus(resp[:n])
	if err != nil {
		failed.Transferred = transferred
		return failed, &Error{PhaseStatus, err}
	}

	res := kvs.TransferResult{Status: kvs.StatusGood, Transferred: transferred}
	if status != 0 {
		res.Status = kvs.StatusCheckCondition
	}
	return res, nil
}

func (u *USB) Close() error {
	if u.done != nil {
		u.done()
	}
	if u.dev != nil {
		u.dev.Close()
	}
	if u.ctx != nil {
		return u.ctx.Close()
	}
	return nil
}
