package kvs

import (
	"encoding/binary"
	"fmt"
)

// WindowSize is the exact on-wire size of a serialized window body.
const WindowSize = 64

// Window identifiers. The back window shares the front window's layout;
// only byte 0 of the body differs.
const (
	WindowFront byte = 0x00
	WindowBack  byte = 0x80
)

// Window holds the full scanning configuration record. Field comments
// follow the SET WINDOW documentation; geometry units are 1/1200 inch.
type Window struct {
	// Resolution in DPI for the X and Y directions. 0 selects the
	// device default (400 dpi).
	XRes, YRes uint16
	// Scan origin and page size.
	UpperLeftX, UpperLeftY uint32
	Width, Length          uint32
	// Brightness: 0 normal, 1 lightest .. 0xFF darkest.
	Brightness byte
	// Threshold applies to binary composition: 0 means 0x80.
	Threshold byte
	// Contrast: 0 means 0x80, 1 lowest .. 0xFF highest.
	Contrast byte
	// Composition selects binary/grayscale/colour (Composition* consts).
	Composition byte
	// BitsPerPixel: 1 binary, 8 grayscale, 24 colour.
	BitsPerPixel byte
	// HalftonePattern is documented but reportedly unsupported.
	HalftonePattern uint16
	// ReverseImage inverts binary images.
	ReverseImage bool
	// BitOrdering for uncompressed data: 0 LSB first, 1 MSB first.
	BitOrdering uint16
	// CompressionType: 0 none, 1 MH, 2 MR, 3 MMR, 0x81 JPEG.
	// CompressionArgument is the K parameter for MR or JPEG quality 1..100.
	CompressionType     byte
	CompressionArgument byte

	Flatbed              bool
	StopOnSkew           bool
	DisableBuffering     bool
	ContinueOnDoubleFeed bool
	// MirrorImage: 0 none, 0x80 left-right mirror.
	MirrorImage byte
	// Emphasis: 1..0x2F medium, above high, 0xF0 none.
	Emphasis        byte
	GammaCorrection byte
	// MultiColourDropOut makes the drop-out colour come from a SEND
	// command instead of the Lamp field.
	MultiColourDropOut bool
	// Lamp: 0 white, 1 red, 2 green, 3 blue.
	Lamp byte
	// DoubleFeedSensitivity: 0 normal, 1 high, 2 low.
	DoubleFeedSensitivity byte
	RemoveMoire           bool
	// Subsample: 0 = 4:4:4, 1 = 4:1:1, 3 = 4:2:2.
	Subsample   byte
	ColourMatch bool
	// DocumentSize packs the standard-size bits: bit 7 enables the
	// standard size in bits 0..3 (7 = US letter), bit 4 landscape.
	DocumentSize byte
	// Document dimensions, effective when no standard size is set.
	DocumentWidth, DocumentLength uint32

	AheadDisable bool
	// Deskew: 0 off, 1 detect only, 2 correct.
	Deskew             byte
	DoubleFeedDetector bool
	FullSizeScan       bool
	FeedSlow           bool
	RemoveShadow       bool
	// PagesToScan: 0 or 1 scan one page, n scans n pages, 0xFF scans
	// until the feeder is empty.
	PagesToScan byte
	// ThresholdMode for binary: 0 static, 0x11..0x1F dynamic.
	ThresholdMode      byte
	SeparationMode     byte
	StandardWhiteLevel byte
	BWNoiseReduction   bool
	NoiseReduction     byte

	ManualFeedMode        bool
	AdditionalSpaceTop    bool
	AdditionalSpaceBottom bool
	DetectSeparationSheet bool
	HaltAtSeparationSheet bool
	DetectControlSheet    bool
	StopMode              byte
}

// DefaultWindow returns the settings a colour JPEG scan of a US letter
// page would use: 300 dpi, quality 85, feeder until empty.
func DefaultWindow() Window {
	return Window{
		Composition:         CompositionColour,
		BitsPerPixel:        24,
		XRes:                300,
		YRes:                300,
		PagesToScan:         0xFF,
		Emphasis:            0xF0,
		DocumentSize:        7, // US letter
		DoubleFeedDetector:  true,
		Subsample:           3, // 4:2:2 JPEG subsampling
		Width:               8.5 * 1200,
		Length:              11 * 1200,
		DocumentWidth:       8.5 * 1200,
		DocumentLength:      11 * 1200,
		CompressionType:     0x81, // JPEG
		CompressionArgument: 85,
	}
}

func bit(b bool, shift uint) byte {
	if b {
		return 1 << shift
	}
	return 0
}

// Serialize packs the window into its 64-byte wire form with the given
// window identifier at byte 0. The bit-to-field mapping must match the
// device reference exactly; a wrong bit silently misconfigures the
// scanner without any protocol error, so the layout below is the one
// place it is allowed to exist.
func (w *Window) Serialize(id byte) []byte {
	out := make([]byte, WindowSize)
	out[0] = id
	// out[1] reserved
	binary.BigEndian.PutUint16(out[2:4], w.XRes)
	binary.BigEndian.PutUint16(out[4:6], w.YRes)
	binary.BigEndian.PutUint32(out[6:10], w.UpperLeftX)
	binary.BigEndian.PutUint32(out[10:14], w.UpperLeftY)
	binary.BigEndian.PutUint32(out[14:18], w.Width)
	binary.BigEndian.PutUint32(out[18:22], w.Length)
	out[22] = w.Brightness
	out[23] = w.Threshold
	out[24] = w.Contrast
	out[25] = w.Composition
	out[26] = w.BitsPerPixel
	binary.BigEndian.PutUint16(out[27:29], w.HalftonePattern)
	if w.ReverseImage {
		out[29] = 0x80
	}
	binary.BigEndian.PutUint16(out[30:32], w.BitOrdering)
	out[32] = w.CompressionType
	out[33] = w.CompressionArgument
	// out[34:40] reserved, zero-filled
	// out[40] reserved
	out[41] = bit(w.Flatbed, 7) | bit(w.StopOnSkew, 4) |
		bit(w.DisableBuffering, 3) | bit(w.ContinueOnDoubleFeed, 0)
	out[42] = w.MirrorImage
	out[43] = w.Emphasis
	out[44] = w.GammaCorrection
	out[45] = bit(w.MultiColourDropOut, 7) | w.Lamp<<4 | w.DoubleFeedSensitivity
	out[46] = bit(w.RemoveMoire, 6) | w.Subsample<<4 | bit(w.ColourMatch, 0)
	out[47] = w.DocumentSize
	binary.BigEndian.PutUint32(out[48:52], w.DocumentWidth)
	binary.BigEndian.PutUint32(out[52:56], w.DocumentLength)
	out[56] = bit(w.AheadDisable, 7) | w.Deskew<<5 | bit(w.DoubleFeedDetector, 4) |
		bit(w.FullSizeScan, 2) | bit(w.FeedSlow, 1) | bit(w.RemoveShadow, 0)
	out[57] = w.PagesToScan
	out[58] = w.ThresholdMode
	out[59] = w.SeparationMode
	out[60] = w.StandardWhiteLevel
	out[61] = bit(w.BWNoiseReduction, 7) | w.NoiseReduction
	out[62] = bit(w.ManualFeedMode, 6) | bit(w.AdditionalSpaceTop, 5) |
		bit(w.AdditionalSpaceBottom, 4) | bit(w.DetectSeparationSheet, 3) |
		bit(w.HaltAtSeparationSheet, 2) | bit(w.DetectControlSheet, 1)
	out[63] = w.StopMode

	if len(out) != WindowSize {
		panic(fmt.Sprintf("window serializer produced %d bytes, want %d", len(out), WindowSize))
	}
	return out
}

// ParseWindow is the inverse of Serialize. It exists for tests and the
// debugging console; the scanner never sends window bodies back.
func ParseWindow(data []byte) (Window, byte, error) {
	if len(data) != WindowSize {
		return Window{}, 0, fmt.Errorf("window body is %d bytes, want %d", len(data), WindowSize)
	}
	var w Window
	id := data[0]
	w.XRes = binary.BigEndian.Uint16(data[2:4])
	w.YRes = binary.BigEndian.Uint16(data[4:6])
	w.UpperLeftX = binary.BigEndian.Uint32(data[6:10])
	w.UpperLeftY = binary.BigEndian.Uint32(data[10:14])
	w.Width = binary.BigEndian.Uint32(data[14:18])
	w.Length = binary.BigEndian.Uint32(data[18:22])
	w.Brightness = data[22]
	w.Threshold = data[23]
	w.Contrast = data[24]
	w.Composition = data[25]
	w.BitsPerPixel = data[26]
	w.HalftonePattern = binary.BigEndian.Uint16(data[27:29])
	w.ReverseImage = data[29]&0x80 != 0
	w.BitOrdering = binary.BigEndian.Uint16(data[30:32])
	w.CompressionType = data[32]
	w.CompressionArgument = data[33]
	w.Flatbed = data[41]&0x80 != 0
	w.StopOnSkew = data[41]&0x10 != 0
	w.DisableBuffering = data[41]&0x08 != 0
	w.ContinueOnDoubleFeed = data[41]&0x01 != 0
	w.MirrorImage = data[42]
	w.Emphasis = data[43]
	w.GammaCorrection = data[44]
	w.MultiColourDropOut = data[45]&0x80 != 0
	w.Lamp = data[45] >> 4 & 0x07
	w.DoubleFeedSensitivity = data[45] & 0x0F
	w.RemoveMoire = data[46]&0x40 != 0
	w.Subsample = data[46] >> 4 & 0x03
	w.ColourMatch = data[46]&0x01 != 0
	w.DocumentSize = data[47]
	w.DocumentWidth = binary.BigEndian.Uint32(data[48:52])
	w.DocumentLength = binary.BigEndian.Uint32(data[52:56])
	w.AheadDisable = data[56]&0x80 != 0
	w.Deskew = data[56] >> 5 & 0x03
	w.DoubleFeedDetector = data[56]&0x10 != 0
	w.FullSizeScan = data[56]&0x04 != 0
	w.FeedSlow = data[56]&0x02 != 0
	w.RemoveShadow = data[56]&0x01 != 0
	w.PagesToScan = data[57]
	w.ThresholdMode = data[58]
	w.SeparationMode = data[59]
	w.StandardWhiteLevel = data[60]
	w.BWNoiseReduction = data[61]&0x80 != 0
	w.NoiseReduction = data[61] & 0x7F
	w.ManualFeedMode = data[62]&0x40 != 0
	w.AdditionalSpaceTop = data[62]&0x20 != 0
	w.AdditionalSpaceBottom = data[62]&0x10 != 0
	w.DetectSeparationSheet = data[62]&0x08 != 0
	w.HaltAtSeparationSheet = data[62]&0x04 != 0
	w.DetectControlSheet = data[62]&0x02 != 0
	w.StopMode = data[63]
	return w, id, nil
}

// SetWindowPayload builds the SET WINDOW data phase: a 6-byte parameter
// list header, a 2-byte big-endian window length, and the 64-byte body.
func SetWindowPayload(w *Window, id byte) []byte {
	payload := make([]byte, 6+2+WindowSize)
	binary.BigEndian.PutUint16(payload[6:8], WindowSize)
	copy(payload[8:], w.Serialize(id))
	return payload
}
