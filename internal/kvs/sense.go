package kvs

import "fmt"

// SenseInfo is the decoded fixed-format sense data returned after a
// CHECK CONDITION.
type SenseInfo struct {
	// Valid is set when the sense buffer carries current error data
	// (response code 0x70 with the valid bit).
	Valid bool
	// Key is the low nibble of sense byte 2.
	Key byte
	// EndOfMedium marks the last chunk of a page side.
	EndOfMedium bool
	// IncorrectLength marks a short read; Residual then holds the
	// number of requested bytes that were not transferred.
	IncorrectLength bool
	Residual        uint32
	ASC, ASCQ       byte
}

// ParseSense decodes a fixed-format sense buffer. Buffers shorter than
// 14 bytes yield a zero SenseInfo, matching a device that returned no
// sense data at all.
func ParseSense(buf []byte) SenseInfo {
	if len(buf) < 14 {
		return SenseInfo{}
	}
	return SenseInfo{
		Valid:           buf[0] == 0xF0,
		Key:             buf[2] & 0x0F,
		EndOfMedium:     buf[2]&0x40 != 0,
		IncorrectLength: buf[2]&0x20 != 0,
		Residual:        uint32(buf[3])<<24 | uint32(buf[4])<<16 | uint32(buf[5])<<8 | uint32(buf[6]),
		ASC:             buf[12],
		ASCQ:            buf[13],
	}
}

// Code packs ASC and ASCQ into the 16-bit code the error tables use.
func (s SenseInfo) Code() uint16 {
	return uint16(s.ASC)<<8 | uint16(s.ASCQ)
}

// Class is the coarse outcome category a caller acts on.
type Class int

const (
	ClassSuccess Class = iota
	// ClassTransient conditions clear on their own; retry after a pause.
	ClassTransient
	// ClassEndOfMedium is the normal end of a page side during READ.
	ClassEndOfMedium
	// ClassOutOfPaper means the feeder is empty.
	ClassOutOfPaper
	// ClassDeviceFault covers jams, open doors and hardware failures.
	ClassDeviceFault
	// ClassProtocolError means the host sent something the device rejects.
	ClassProtocolError
	ClassUnknown
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassTransient:
		return "transient"
	case ClassEndOfMedium:
		return "end-of-medium"
	case ClassOutOfPaper:
		return "out-of-paper"
	case ClassDeviceFault:
		return "device-fault"
	case ClassProtocolError:
		return "protocol-error"
	default:
		return "unknown"
	}
}

// Classify maps sense data to the action a caller should take.
func (s SenseInfo) Classify() Class {
	if !s.Valid && s.Key == SenseNone {
		return ClassSuccess
	}
	if s.EndOfMedium {
		return ClassEndOfMedium
	}
	switch s.ASC {
	case 0x04, 0x28, 0x29:
		// Becoming ready, medium changed, reset. All clear on retry.
		return ClassTransient
	}
	switch s.Key {
	case SenseNone:
		return ClassSuccess
	case SenseMediumError:
		if s.Code() == CodeOutOfPaper {
			return ClassOutOfPaper
		}
		return ClassDeviceFault
	case SenseNotReady, SenseHardwareError:
		return ClassDeviceFault
	case SenseIllegalRequest:
		return ClassProtocolError
	}
	return ClassUnknown
}

// senseMessages maps sense key and ASC/ASCQ code to the vendor error
// strings. Codes at 0x8000 and above are Panasonic specific.
var senseMessages = map[byte]map[uint16]string{
	SenseNone: {
		0x0000: "sense code 0 returned",
	},
	SenseNotReady: {
		0x0000: "not ready",
		0x0401: "logical unit is in process of becoming ready",
		0x0480: "document lead door open",
		0x0481: "document discharge door open",
		0x0482: "post imprinter door open",
		0x8001: "scanner stopped",
		0x8002: "ADF stopped",
	},
	SenseMediumError: {
		0x3A00: "out of paper",
		0x8001: "jammed at document lead",
		0x8002: "jammed at document discharge 1",
		0x8003: "jammed at document discharge 2",
		0x8004: "document internal rest",
		0x8006: "jammed at document feed 1",
		0x8007: "jammed at document feed 2",
		0x8008: "jammed at document feed 3",
		0x8009: "jammed at document feed 4",
		0x800A: "skew error",
		0x800B: "minimum media error",
		0x800C: "media length error",
		0x800D: "double feed error",
		0x800E: "barcode error",
	},
	SenseHardwareError: {
		0x0880: "internal parameter error",
		0x0881: "internal DMA error",
		0x0882: "internal command error",
		0x8083: "internal communication error",
		0x4480: "internal RAM error",
		0x4481: "internal EEPROM error",
		0x4482: "FPGA error",
		0x4700: "SCSI parity error",
		0x8001: "lamp failure with regular temperature",
		0x8002: "document size detect error",
		0x8004: "document hopper error",
		0x8005: "document sensor adjust error",
	},
	SenseIllegalRequest: {
		0x1A00: "parameter list length error",
		0x2000: "invalid command op code",
		0x2400: "invalid field in CDB",
		0x2500: "logical unit not supported",
		0x2600: "invalid field in parameter list",
		0x2C01: "too many windows",
		0x2C02: "invalid window combination",
		0x2C80: "out of memory",
		0x2C81: "no back scanning unit",
		0x2C82: "no imprinter unit",
		0x2C83: "pointer position error",
		0x2C84: "out of scanning page limit",
		0x2C85: "out of scanning length limit",
		0x2C86: "out of scanning resolution limit",
		0x2C87: "out of scanning line cycle limit",
		0x3D00: "invalid bits in identity message",
	},
	SenseUnitAttention: {
		0x2900: "unit attention",
		0x1B00: "sync data transfer error",
		0x4300: "message error",
		0x4900: "invalid message error",
		0x8001: "image data transfer error",
	},
}

// Describe returns the vendor error string for the sense data, or a
// generic key/code rendering when the combination is not in the table.
func (s SenseInfo) Describe() string {
	if m, ok := senseMessages[s.Key]; ok {
		if msg, ok := m[s.Code()]; ok {
			return msg
		}
	}
	return fmt.Sprintf("unknown sense (key %#x, code %#04x)", s.Key, s.Code())
}

// DeviceError is a CHECK CONDITION surfaced as an error. Op names the
// command that failed.
type DeviceError struct {
	Op    string
	Sense SenseInfo
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Sense.Describe())
}
