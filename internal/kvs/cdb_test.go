package kvs

import (
	"bytes"
	"testing"
)

func TestTribyte(t *testing.T) {
	var buf [3]byte
	putTribyte(buf[:], 0x123456)
	if !bytes.Equal(buf[:], []byte{0x12, 0x34, 0x56}) {
		t.Errorf("putTribyte = %x", buf)
	}
	if got := Tribyte(buf[:]); got != 0x123456 {
		t.Errorf("Tribyte = %#x", got)
	}
}

func TestReadCDB(t *testing.T) {
	cmd := Read(ReadImage, 7, true, 0x10000)
	want := []byte{0x28, 0, 0, 0, 7, 0x80, 0x01, 0x00, 0x00, 0}
	if !bytes.Equal(cmd.CDB, want) {
		t.Errorf("CDB = %x, want %x", cmd.CDB, want)
	}
	if cmd.Direction != DirIn || cmd.DataLen != 0x10000 {
		t.Errorf("Direction = %v, DataLen = %d", cmd.Direction, cmd.DataLen)
	}
	if cmd.Name() != "READ" {
		t.Errorf("Name = %q", cmd.Name())
	}
}

func TestReadFrontSide(t *testing.T) {
	cmd := Read(ReadImage, 0, false, 512)
	if cmd.CDB[5] != 0 {
		t.Errorf("front side qualifier = %#02x, want 0", cmd.CDB[5])
	}
}

func TestPictureSizeCDB(t *testing.T) {
	cmd := PictureSize(3, true)
	if cmd.CDB[2] != ReadPictureElementSize {
		t.Errorf("type = %#02x, want %#02x", cmd.CDB[2], ReadPictureElementSize)
	}
	if cmd.CDB[4] != 3 || cmd.CDB[5] != Back {
		t.Errorf("page/side = %#02x/%#02x", cmd.CDB[4], cmd.CDB[5])
	}
	if cmd.DataLen != 16 {
		t.Errorf("DataLen = %d, want 16", cmd.DataLen)
	}
}

func TestSetWindowCDB(t *testing.T) {
	cmd := SetWindow(72)
	if !bytes.Equal(cmd.CDB, []byte{0x24, 0, 0, 0, 0, 0, 0, 0, 72, 0}) {
		t.Errorf("CDB = %x", cmd.CDB)
	}
	if cmd.Direction != DirOut {
		t.Errorf("Direction = %v, want out", cmd.Direction)
	}
}

func TestResetWindowsCDB(t *testing.T) {
	cmd := ResetWindows()
	if Tribyte(cmd.CDB[6:9]) != 0 {
		t.Errorf("reset transfer length = %d, want 0", Tribyte(cmd.CDB[6:9]))
	}
	if cmd.DataLen != 0 {
		t.Errorf("DataLen = %d, want 0", cmd.DataLen)
	}
}

func TestRequestSenseCDB(t *testing.T) {
	cmd := RequestSense()
	if cmd.CDB[4] != 0x12 {
		t.Errorf("allocation length = %#02x, want 0x12", cmd.CDB[4])
	}
}

func TestParseInquiry(t *testing.T) {
	data := make([]byte, 0x60)
	copy(data[8:], "Panasonc")
	copy(data[16:], "KV-S3105C       ")
	copy(data[32:], "1.00")
	info, err := ParseInquiry(data)
	if err != nil {
		t.Fatalf("ParseInquiry failed: %v", err)
	}
	if info.Model != "KV-S3105C" {
		t.Errorf("Model = %q", info.Model)
	}
	if !info.IsKV() {
		t.Error("IsKV() = false for KV-S3105C")
	}

	copy(data[16:], "NOT A SCANNER   ")
	info, _ = ParseInquiry(data)
	if info.IsKV() {
		t.Error("IsKV() = true for non-KV model")
	}
}

func TestParseBufferStatus(t *testing.T) {
	data := make([]byte, 12)
	data[4] = Back
	data[9], data[10], data[11] = 0x01, 0x86, 0xA0
	bs, err := ParseBufferStatus(data)
	if err != nil {
		t.Fatalf("ParseBufferStatus failed: %v", err)
	}
	if bs.WindowID != Back {
		t.Errorf("WindowID = %#02x, want 0x80", bs.WindowID)
	}
	if bs.Available != 100000 {
		t.Errorf("Available = %d, want 100000", bs.Available)
	}
}

func TestParsePictureSize(t *testing.T) {
	data := make([]byte, 16)
	copy(data, []byte{0, 0, 0x0A, 0x00, 0, 0, 0x0D, 0x80})
	w, h, err := ParsePictureSize(data)
	if err != nil {
		t.Fatalf("ParsePictureSize failed: %v", err)
	}
	if w != 2560 || h != 3456 {
		t.Errorf("size = %dx%d, want 2560x3456", w, h)
	}
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		op, sub byte
		want    string
	}{
		{OpTestUnitReady, 0, "TEST UNIT READY"},
		{OpScan, 0, "SCAN"},
		{OpMaintenanceIn, SubGetVersion, "GET VERSION"},
		{OpMaintenanceOut, SubStopADF, "STOP ADF"},
		{OpMaintenanceOut, 0x07, "HOPPER DOWN"},
		{OpMaintenanceOut, 0x42, "UNKNOWN 0xE1 COMMAND"},
		{0x99, 0, "UNKNOWN COMMAND"},
	}
	for _, tt := range tests {
		if got := CommandName(tt.op, tt.sub); got != tt.want {
			t.Errorf("CommandName(%#02x, %#02x) = %q, want %q", tt.op, tt.sub, got, tt.want)
		}
	}
}
