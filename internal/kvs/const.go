package kvs

// SCSI opcodes understood by KV-series scanners (CDB byte 0).
const (
	OpTestUnitReady       byte = 0x00
	OpRequestSense        byte = 0x03
	OpInquiry             byte = 0x12
	OpReserveUnit         byte = 0x16
	OpReleaseUnit         byte = 0x17
	OpScan                byte = 0x1B
	OpSendDiagnostic      byte = 0x1D
	OpSetWindow           byte = 0x24
	OpRead                byte = 0x28
	OpSend                byte = 0x2A
	OpObjectPosition      byte = 0x31
	OpGetDataBufferStatus byte = 0x34
	OpSetSubwindow        byte = 0xC0
	OpMaintenanceIn       byte = 0xE0
	OpMaintenanceOut      byte = 0xE1
	OpSetImprinter        byte = 0xE4
	OpSetBarcode          byte = 0xE6
)

// READ data type selectors (CDB byte 2).
const (
	ReadImage              byte = 0x00
	ReadPictureElementSize byte = 0x80
	ReadSupport            byte = 0x93
)

// Maintenance sub-commands (CDB byte 2 under OpMaintenanceIn/Out).
const (
	SubGetVersion         byte = 0x83
	SubGetCounter         byte = 0x86
	SubGetWarning         byte = 0x90
	SubGetBackgroundLevel byte = 0xA0
	SubHopperDown         byte = 0x05
	SubSetTime            byte = 0x85
	SubStopADF            byte = 0x8B
	SubSetTimeout         byte = 0x8D
	SubClearWarning       byte = 0x91
)

// Image composition modes (window byte 25).
const (
	CompositionBinary    byte = 0
	CompositionGrayscale byte = 2
	CompositionColour    byte = 5
)

// Back selects the back-side image of a duplex page in READ CDBs
// (qualifier byte 5) and marks the back window in SET WINDOW bodies.
const Back byte = 0x80

const (
	// SenseSize is the size of the request sense buffer.
	SenseSize = 20
	// senseAlloc is the REQUEST SENSE allocation length on the wire.
	senseAlloc = 0x12
	// inquiryAlloc is the INQUIRY allocation length.
	inquiryAlloc = 0x60
	// MaxChunk is the READ(image) transfer ceiling: 64 KiB per request.
	MaxChunk = 0x10000
	// MaxCDBSize is the longest CDB the scanners accept.
	MaxCDBSize = 12
)

// SCSI sense keys seen from KV-series scanners.
const (
	SenseNone           byte = 0
	SenseNotReady       byte = 2
	SenseMediumError    byte = 3
	SenseHardwareError  byte = 4
	SenseIllegalRequest byte = 5
	SenseUnitAttention  byte = 6
)

// CodeOutOfPaper is the ASC/ASCQ pair reported when the feeder is empty.
const CodeOutOfPaper uint16 = 0x3A00
