package kvs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// putTribyte writes a 24-bit big-endian length into dst.
func putTribyte(dst []byte, n uint32) {
	dst[0] = byte(n >> 16)
	dst[1] = byte(n >> 8)
	dst[2] = byte(n)
}

// Tribyte reads a 24-bit big-endian length from b.
func Tribyte(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// TestUnitReady builds a TEST UNIT READY command.
func TestUnitReady() Command {
	return Command{CDB: []byte{OpTestUnitReady, 0, 0, 0, 0, 0}}
}

// RequestSense builds a REQUEST SENSE command. The allocation length is
// the 18 bytes the scanners report; callers hand the transport a
// SenseSize buffer.
func RequestSense() Command {
	return Command{
		CDB:       []byte{OpRequestSense, 0, 0, 0, senseAlloc, 0},
		Direction: DirIn,
		DataLen:   senseAlloc,
	}
}

// Inquiry builds an INQUIRY command requesting the standard data page.
func Inquiry() Command {
	return Command{
		CDB:       []byte{OpInquiry, 0, 0, 0, inquiryAlloc, 0},
		Direction: DirIn,
		DataLen:   inquiryAlloc,
	}
}

// ResetWindows builds the SET WINDOW variant with zero transfer length,
// which resets all window state on the device (and more besides).
func ResetWindows() Command {
	return Command{
		CDB:       []byte{OpSetWindow, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		Direction: DirOut,
	}
}

// SetWindow builds a SET WINDOW command whose data phase carries a
// window parameter payload of payloadLen bytes.
func SetWindow(payloadLen int) Command {
	cdb := []byte{OpSetWindow, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	putTribyte(cdb[6:9], uint32(payloadLen))
	return Command{CDB: cdb, Direction: DirOut, DataLen: payloadLen}
}

// Scan builds the SCAN command that starts feeding pages.
func Scan() Command {
	return Command{CDB: []byte{OpScan, 0, 0, 0, 0, 0}}
}

// Read builds a READ command. typ selects the data class (ReadImage,
// ReadPictureElementSize, ReadSupport), page is the device-side page
// index and back selects the rear side of a duplex page.
func Read(typ byte, page uint8, back bool, length uint32) Command {
	var q2 byte
	if back {
		q2 = Back
	}
	cdb := []byte{OpRead, 0, typ, 0, page, q2, 0, 0, 0, 0}
	putTribyte(cdb[6:9], length)
	return Command{CDB: cdb, Direction: DirIn, DataLen: int(length)}
}

// PictureSize builds the READ variant returning the pixel dimensions of
// a scanned page side.
func PictureSize(page uint8, back bool) Command {
	return Read(ReadPictureElementSize, page, back, 16)
}

// DataBufferStatus builds a GET DATA BUFFER STATUS command.
func DataBufferStatus() Command {
	return Command{
		CDB:       []byte{OpGetDataBufferStatus, 0, 0, 0, 0, 0, 0, 0, 12, 0},
		Direction: DirIn,
		DataLen:   12,
	}
}

// StopADF builds the maintenance command that halts the document feeder.
// Pages already buffered remain readable until the device reports an
// ADF stopped condition.
func StopADF() Command {
	return Command{CDB: []byte{OpMaintenanceOut, 0, SubStopADF, 0, 0, 0, 0, 0, 0, 0}}
}

// HopperDown builds the maintenance command lowering the feed hopper.
func HopperDown() Command {
	return Command{CDB: []byte{OpMaintenanceOut, 0, SubHopperDown, 0, 0, 0, 0, 0, 0, 0}}
}

// ClearWarning builds the maintenance command clearing a warning state.
func ClearWarning() Command {
	return Command{CDB: []byte{OpMaintenanceOut, 0, SubClearWarning, 0, 0, 0, 0, 0, 0, 0}}
}

// maintenanceIn builds a 0xE0 read with the given sub-command and
// allocation length.
func maintenanceIn(sub byte, alloc uint32) Command {
	cdb := []byte{OpMaintenanceIn, 0, sub, 0, 0, 0, 0, 0, 0, 0}
	putTribyte(cdb[6:9], alloc)
	return Command{CDB: cdb, Direction: DirIn, DataLen: int(alloc)}
}

// GetVersion builds the maintenance command reading firmware version data.
func GetVersion() Command { return maintenanceIn(SubGetVersion, 0x30) }

// GetCounter builds the maintenance command reading the page counter.
func GetCounter() Command { return maintenanceIn(SubGetCounter, 0x10) }

// GetWarning builds the maintenance command reading the warning state.
func GetWarning() Command { return maintenanceIn(SubGetWarning, 0x10) }

// InquiryInfo is the decoded identity portion of an INQUIRY response.
type InquiryInfo struct {
	Vendor   string
	Model    string
	Revision string
}

// IsKV reports whether the model string identifies a Panasonic KV-series
// scanner.
func (i InquiryInfo) IsKV() bool {
	return strings.HasPrefix(i.Model, "KV-")
}

// ParseInquiry decodes the standard INQUIRY response. The model check at
// offset 16 is how the scanners are told apart from other SCSI devices
// on the bus.
func ParseInquiry(data []byte) (InquiryInfo, error) {
	if len(data) < 36 {
		return InquiryInfo{}, fmt.Errorf("inquiry response too short: %d bytes", len(data))
	}
	return InquiryInfo{
		Vendor:   strings.TrimRight(string(data[8:16]), " \x00"),
		Model:    strings.TrimRight(string(data[16:32]), " \x00"),
		Revision: strings.TrimRight(string(data[32:36]), " \x00"),
	}, nil
}

// BufferStatus is the decoded GET DATA BUFFER STATUS response.
type BufferStatus struct {
	WindowID  byte
	Available uint32 // bytes ready to be read for the current page side
}

// ParseBufferStatus decodes a 12-byte GET DATA BUFFER STATUS response:
// a window identifier at byte 4 and an available-length tribyte at 9..11.
func ParseBufferStatus(data []byte) (BufferStatus, error) {
	if len(data) < 12 {
		return BufferStatus{}, fmt.Errorf("buffer status response too short: %d bytes", len(data))
	}
	return BufferStatus{
		WindowID:  data[4],
		Available: Tribyte(data[9:12]),
	}, nil
}

// ParsePictureSize decodes a READ(picture-element-size) response into
// the pixel width and height of the page side.
func ParsePictureSize(data []byte) (width, height uint32, err error) {
	if len(data) < 8 {
		return 0, 0, errors.New("picture size response too short")
	}
	return binary.BigEndian.Uint32(data[0:4]), binary.BigEndian.Uint32(data[4:8]), nil
}

// CommandName returns a human-readable name for an opcode, using the
// sub-command byte to disambiguate the maintenance opcodes.
func CommandName(op, sub byte) string {
	switch op {
	case OpTestUnitReady:
		return "TEST UNIT READY"
	case OpRequestSense:
		return "REQUEST SENSE"
	case OpInquiry:
		return "INQUIRY"
	case OpReserveUnit:
		return "RESERVE UNIT"
	case OpReleaseUnit:
		return "RELEASE UNIT"
	case OpScan:
		return "SCAN"
	case OpSendDiagnostic:
		return "SEND DIAGNOSTIC"
	case OpSetWindow:
		return "SET WINDOW"
	case OpRead:
		return "READ"
	case OpSend:
		return "SEND"
	case OpObjectPosition:
		return "OBJECT POSITION"
	case OpGetDataBufferStatus:
		return "GET DATA BUFFER STATUS"
	case OpSetSubwindow:
		return "SET SUBWINDOW"
	case OpMaintenanceIn:
		switch sub {
		case SubGetVersion:
			return "GET VERSION"
		case SubGetCounter:
			return "GET COUNTER"
		case SubGetWarning:
			return "GET WARNING"
		case SubGetBackgroundLevel:
			return "GET BACKGROUND LEVEL"
		default:
			return "UNKNOWN 0xE0 COMMAND"
		}
	case OpMaintenanceOut:
		switch sub {
		case SubHopperDown, 0x07:
			return "HOPPER DOWN"
		case SubSetTime:
			return "SET TIME"
		case SubStopADF:
			return "STOP ADF"
		case SubClearWarning:
			return "CLEAR WARNING"
		case SubSetTimeout:
			return "SET TIMEOUT"
		default:
			return "UNKNOWN 0xE1 COMMAND"
		}
	case OpSetImprinter:
		return "SET IMPRINTER"
	case OpSetBarcode:
		return "SET BARCODE"
	default:
		return "UNKNOWN COMMAND"
	}
}
