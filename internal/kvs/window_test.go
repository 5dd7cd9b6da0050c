package kvs

import (
	"bytes"
	"testing"
)

func TestSerializeDefaultWindow(t *testing.T) {
	w := DefaultWindow()
	body := w.Serialize(WindowFront)
	if len(body) != WindowSize {
		t.Fatalf("body length = %d, want %d", len(body), WindowSize)
	}

	// Spot-check fixed offsets against the wire layout.
	checks := []struct {
		offset int
		want   byte
		name   string
	}{
		{0, WindowFront, "window id"},
		{2, 0x01, "x resolution hi"},
		{3, 0x2C, "x resolution lo"},
		{25, CompositionColour, "composition"},
		{26, 24, "bits per pixel"},
		{32, 0x81, "compression type"},
		{33, 85, "compression argument"},
		{43, 0xF0, "emphasis"},
		{46, 3 << 4, "subsample"},
		{47, 7, "document size"},
		{56, 1 << 4, "double feed detector"},
		{57, 0xFF, "pages to scan"},
	}
	for _, c := range checks {
		if body[c.offset] != c.want {
			t.Errorf("%s: body[%d] = %#02x, want %#02x", c.name, c.offset, body[c.offset], c.want)
		}
	}

	// Width 10200 = 0x27D8 as a big-endian u32 at offset 14.
	if got := []byte{body[14], body[15], body[16], body[17]}; !bytes.Equal(got, []byte{0, 0, 0x27, 0xD8}) {
		t.Errorf("width bytes = %x, want 000027d8", got)
	}

	// The reserved gap must stay zero.
	if !bytes.Equal(body[34:41], make([]byte, 7)) {
		t.Errorf("reserved bytes 34..40 not zero: %x", body[34:41])
	}
}

func TestSerializeBackWindow(t *testing.T) {
	w := DefaultWindow()
	body := w.Serialize(WindowBack)
	if body[0] != 0x80 {
		t.Errorf("back window id = %#02x, want 0x80", body[0])
	}
}

func TestWindowRoundTrip(t *testing.T) {
	w := DefaultWindow()
	w.Flatbed = true
	w.StopOnSkew = true
	w.Deskew = 2
	w.Lamp = 3
	w.DoubleFeedSensitivity = 1
	w.RemoveMoire = true
	w.ColourMatch = true
	w.BWNoiseReduction = true
	w.NoiseReduction = 2
	w.ManualFeedMode = true
	w.DetectControlSheet = true
	w.ReverseImage = true
	w.UpperLeftX = 600
	w.UpperLeftY = 1200

	got, id, err := ParseWindow(w.Serialize(WindowBack))
	if err != nil {
		t.Fatalf("ParseWindow failed: %v", err)
	}
	if id != WindowBack {
		t.Errorf("id = %#02x, want %#02x", id, WindowBack)
	}
	if got != w {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, w)
	}
}

func TestParseWindowRejectsWrongSize(t *testing.T) {
	if _, _, err := ParseWindow(make([]byte, 63)); err == nil {
		t.Error("ParseWindow accepted 63 bytes")
	}
}

func TestSetWindowPayload(t *testing.T) {
	w := DefaultWindow()
	payload := SetWindowPayload(&w, WindowFront)
	if len(payload) != 72 {
		t.Fatalf("payload length = %d, want 72", len(payload))
	}
	if !bytes.Equal(payload[0:6], make([]byte, 6)) {
		t.Errorf("parameter list header not zero: %x", payload[0:6])
	}
	if payload[6] != 0 || payload[7] != WindowSize {
		t.Errorf("window length field = %x %x, want 00 40", payload[6], payload[7])
	}
	if !bytes.Equal(payload[8:], w.Serialize(WindowFront)) {
		t.Error("payload body does not match serialized window")
	}
}
