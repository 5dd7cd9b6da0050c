//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mzyy94/kvscan/internal/kvs"
)

const (
	sgIO = 0x2285

	sgDxferNone    = -1
	sgDxferToDev   = -2
	sgDxferFromDev = -3

	defaultSGTimeout = 30 * time.Second
	// transientPause is how long to wait before retrying a command the
	// device rejected with a becoming-ready or unit-attention condition.
	transientPause = 3 * time.Second
	maxAttempts    = 5
)

// sgIOHdr mirrors struct sg_io_hdr from <scsi/sg.h> on 64-bit Linux.
type sgIOHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSBLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32
	flags          uint32
	packID         int32
	_              [4]byte
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

func sgioctl(fd uintptr, hdr *sgIOHdr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, sgIO, uintptr(unsafe.Pointer(hdr)))
	if errno != 0 {
		return errno
	}
	return nil
}

// SG is a Transport over a /dev/sg* SCSI generic device.
type SG struct {
	f       *os.File
	timeout time.Duration
	pause   time.Duration
	log     *slog.Logger
	do      func(fd uintptr, hdr *sgIOHdr) error
}

// OpenSG opens the scanner at path, or probes /dev/sg0 upward for the
// first device whose INQUIRY identifies a KV-series scanner when path
// is empty.
func OpenSG(ctx context.Context, path string, log *slog.Logger) (*SG, error) {
	if log == nil {
		log = slog.Default()
	}
	if path != "" {
		return openSGPath(ctx, path, log)
	}
	for i := 0; ; i++ {
		p := fmt.Sprintf("/dev/sg%d", i)
		sg, err := openSGPath(ctx, p, log)
		if err == nil {
			return sg, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("no scanner found on any sg device")
		}
	}
}

func openSGPath(ctx context.Context, path string, log *slog.Logger) (*SG, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	sg := &SG{f: f, timeout: defaultSGTimeout, pause: transientPause, log: log, do: sgioctl}

	buf := make([]byte, 0x60)
	res, err := sg.Execute(ctx, kvs.Inquiry(), buf)
	if err != nil || res.Status != kvs.StatusGood {
		sg.Close()
		if err == nil {
			err = fmt.Errorf("check condition: %s", res.Sense.Describe())
		}
		return nil, fmt.Errorf("inquiry on %s: %w", path, err)
	}
	info, err := kvs.ParseInquiry(buf)
	if err != nil {
		sg.Close()
		return nil, fmt.Errorf("inquiry on %s: %w", path, err)
	}
	if !info.IsKV() {
		sg.Close()
		return nil, fmt.Errorf("%s is %q, not a KV-series scanner", path, info.Model)
	}
	log.Info("scanner opened", "transport", "sg", "device", path, "model", info.Model)
	return sg, nil
}

// Execute runs one command through SG_IO. The driver fills the sense
// buffer itself, so unlike the USB channel no REQUEST SENSE follow-up
// is needed. Transient conditions are retried a few times with a pause;
// everything else is returned to the caller as-is.
func (t *SG) Execute(ctx context.Context, cmd kvs.Command, data []byte) (kvs.TransferResult, error) {
	dir := int32(sgDxferNone)
	if cmd.DataLen > 0 {
		switch cmd.Direction {
		case kvs.DirIn:
			dir = sgDxferFromDev
		case kvs.DirOut:
			dir = sgDxferToDev
		}
	}

	var res kvs.TransferResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sense := make([]byte, kvs.SenseSize)
		hdr := sgIOHdr{
			interfaceID:    'S',
			dxferDirection: dir,
			cmdLen:         uint8(len(cmd.CDB)),
			mxSBLen:        uint8(len(sense)),
			dxferLen:       uint32(cmd.DataLen),
			cmdp:           uintptr(unsafe.Pointer(&cmd.CDB[0])),
			sbp:            uintptr(unsafe.Pointer(&sense[0])),
			timeout:        uint32(t.timeout / time.Millisecond),
		}
		if cmd.DataLen > 0 {
			hdr.dxferp = uintptr(unsafe.Pointer(&data[0]))
		}

		t.log.Debug("scsi command", "cmd", cmd.Name(), "dir", cmd.Direction.String(),
			"len", cmd.DataLen, "attempt", attempt)
		err := t.do(t.f.Fd(), &hdr)
		runtime.KeepAlive(cmd.CDB)
		runtime.KeepAlive(data)
		runtime.KeepAlive(sense)
		if err != nil {
			return kvs.TransferResult{Status: kvs.StatusTransportFailed}, &Error{PhaseIoctl, err}
		}

		transferred := cmd.DataLen - int(hdr.resid)
		if hdr.maskedStatus == 0 {
			return kvs.TransferResult{Status: kvs.StatusGood, Transferred: transferred}, nil
		}

		res = kvs.TransferResult{
			Status:      kvs.StatusCheckCondition,
			Transferred: transferred,
			Sense:       kvs.ParseSense(sense),
		}
		if res.Sense.Classify() != kvs.ClassTransient {
			return res, nil
		}
		t.log.Debug("transient condition, retrying", "cmd", cmd.Name(), "sense", res.Sense.Describe())
		select {
		case <-time.After(t.pause):
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
	return res, nil
}

func (t *SG) Close() error {
	return t.f.Close()
}
