package transport

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/google/gousb"
)

func TestCommandBlock(t *testing.T) {
	block := commandBlock([]byte{0x28, 0, 0, 0, 5, 0x80, 0x01, 0x00, 0x00, 0})
	if len(block) != 24 {
		t.Fatalf("block length = %d, want 24", len(block))
	}
	// Header: length 24, type 1, code 0x9000, txid 0.
	want := []byte{0, 0, 0, 24, 0, 1, 0x90, 0, 0, 0, 0, 0}
	if !bytes.Equal(block[:12], want) {
		t.Errorf("header = %x, want %x", block[:12], want)
	}
	// CDB zero padded to the 12-byte command slot.
	if block[12] != 0x28 || block[22] != 0 || block[23] != 0 {
		t.Errorf("command slot = %x", block[12:])
	}
}

func TestDataBlock(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 72)
	block := dataBlock(payload)
	if len(block) != 12+72 {
		t.Fatalf("block length = %d, want 84", len(block))
	}
	want := []byte{0, 0, 0, 84, 0, 2, 0xB0, 0, 0, 0, 0, 0}
	if !bytes.Equal(block[:12], want) {
		t.Errorf("header = %x, want %x", block[:12], want)
	}
	if !bytes.Equal(block[12:], payload) {
		t.Error("payload not copied into block")
	}
}

func TestParseStatus(t *testing.T) {
	resp := make([]byte, 16)
	resp[14] = 0x00
	resp[15] = 0x02
	status, err := parseStatus(resp)
	if err != nil {
		t.Fatalf("parseStatus failed: %v", err)
	}
	if status != 2 {
		t.Errorf("status = %d, want 2", status)
	}

	if _, err := parseStatus(resp[:10]); err == nil {
		t.Error("parseStatus accepted a truncated block")
	}
}

func TestErrorPhases(t *testing.T) {
	base := errors.New("pipe broke")
	err := fmt.Errorf("reading page: %w", &Error{PhaseData, base})
	if !IsDataPhase(err) {
		t.Error("IsDataPhase = false for wrapped data phase error")
	}
	if !errors.Is(err, base) {
		t.Error("cause not reachable through Unwrap")
	}
	if IsDataPhase(&Error{PhaseCommand, base}) {
		t.Error("IsDataPhase = true for command phase error")
	}
	if IsDataPhase(base) {
		t.Error("IsDataPhase = true for unrelated error")
	}
}

func TestMatchScanner(t *testing.T) {
	scanner := &gousb.DeviceDesc{Bus: 3, Address: 11, Vendor: vendorPanasonic, Product: productKVS3105}
	disk := &gousb.DeviceDesc{Bus: 3, Address: 12, Vendor: 0x0951, Product: 0x1666}
	other := &gousb.DeviceDesc{Bus: 1, Address: 2, Vendor: vendorPanasonic, Product: productKVS70xx}

	if !matchScanner("")(scanner) {
		t.Error("unhinted match rejected a KV-S3105C")
	}
	if !matchScanner("")(other) {
		t.Error("unhinted match rejected a KV-S70xx")
	}
	if matchScanner("")(disk) {
		t.Error("matched a non-Panasonic device")
	}
	if !matchScanner("3:11")(scanner) {
		t.Error("hint 3:11 rejected the device at 3:11")
	}
	if matchScanner("3:11")(other) {
		t.Error("hint 3:11 matched the device at 1:2")
	}
}
