//go:build !linux

package transport

import (
	"context"
	"errors"
	"log/slog"
)

// OpenSG needs the Linux SCSI generic driver; other platforms use the
// USB transport.
func OpenSG(ctx context.Context, path string, log *slog.Logger) (Transport, error) {
	return nil, errors.New("SCSI generic devices are only supported on Linux")
}
