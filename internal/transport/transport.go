// Package transport executes SCSI commands against a KV-series scanner
// over one of two channels: SCSI tunneled through USB bulk endpoints,
// or the Linux SCSI generic driver. Both report CHECK CONDITION results
// through the same sense-carrying TransferResult so callers never need
// to know which channel is underneath.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/mzyy94/kvscan/internal/kvs"
)

// Transport executes SCSI commands. For DirOut commands data holds the
// payload to send; for DirIn it is the buffer to fill and must be at
// least cmd.DataLen bytes.
type Transport interface {
	Execute(ctx context.Context, cmd kvs.Command, data []byte) (kvs.TransferResult, error)
	Close() error
}

// Phase names the stage of a command exchange that failed.
type Phase string

const (
	// PhaseCommand failures mean the command block itself never reached
	// the device. The channel is unusable afterwards.
	PhaseCommand Phase = "command"
	// PhaseData failures happen while moving the data phase. They show
	// up on paper jams and at the end of a book, so callers treat them
	// as a device condition rather than a dead channel.
	PhaseData Phase = "data"
	// PhaseStatus failures lost the terminal status word.
	PhaseStatus Phase = "status"
	// PhaseIoctl failures come from the SG_IO ioctl itself.
	PhaseIoctl Phase = "ioctl"
)

// Error wraps a channel failure with the exchange phase it happened in.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s phase: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsDataPhase reports whether err is a transport failure in the data
// phase, the one failure mode that can mean a physical paper condition
// instead of a broken channel.
func IsDataPhase(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Phase == PhaseData
}
