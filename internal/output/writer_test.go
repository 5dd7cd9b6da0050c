package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzyy94/kvscan/internal/session"
)

func TestFileSinkNaming(t *testing.T) {
	s := NewFileSink("/tmp/scan", "")
	assert.Equal(t, "/tmp/scan-000-A.jpeg", s.Name(session.Page{Number: 0, Side: session.SideFront}))
	assert.Equal(t, "/tmp/scan-007-B.jpeg", s.Name(session.Page{Number: 7, Side: session.SideBack}))
	assert.Equal(t, "/tmp/scan-256-A.jpeg", s.Name(session.Page{Number: 256, Side: session.SideFront}))

	raw := NewFileSink("out", "raw")
	assert.Equal(t, "out-001-A.raw", raw.Name(session.Page{Number: 1}))
}

func TestFileSinkWrite(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(filepath.Join(dir, "doc"), "")

	page := session.Page{Number: 3, Side: session.SideBack, Data: []byte{0xFF, 0xD8, 0xFF}}
	require.NoError(t, s.Write(page))
	require.NoError(t, s.Close())

	got, err := os.ReadFile(filepath.Join(dir, "doc-003-B.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, page.Data, got)
}

func TestStreamSinkConcatenates(t *testing.T) {
	var buf bytes.Buffer
	s := NewStreamSink(&buf)

	require.NoError(t, s.Write(session.Page{Number: 0, Data: []byte("first")}))
	require.NoError(t, s.Write(session.Page{Number: 1, Data: []byte("second")}))
	require.NoError(t, s.Close())
	assert.Equal(t, "firstsecond", buf.String())
}

func TestPDFSinkRejectsZeroDimensions(t *testing.T) {
	s := NewPDFSink(filepath.Join(t.TempDir(), "out.pdf"), 300)
	err := s.Write(session.Page{Number: 0, Data: []byte{1, 2, 3}})
	assert.Error(t, err)
}
