package output

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer_ReplaceAndSnapshot(t *testing.T) {
	b := NewBuffer()
	b.Replace("pane contents")

	assert.Equal(t, "pane contents", b.Snapshot())
	assert.Equal(t, len("pane contents"), b.Len())

	b.Replace("new contents")
	assert.Equal(t, "new contents", b.Snapshot())
}

func TestBuffer_TrimsFromFront(t *testing.T) {
	b := &Buffer{limit: 10}
	b.Replace("0123456789abcdef")

	assert.Equal(t, "6789abcdef", b.Snapshot())
	assert.Equal(t, 10, b.Len())
}

func TestBuffer_TailLines(t *testing.T) {
	b := NewBuffer()
	b.Replace("one\ntwo\nthree\nfour")

	assert.Equal(t, "three\nfour", b.TailLines(2))
	assert.Equal(t, "one\ntwo\nthree\nfour", b.TailLines(10))
	assert.Equal(t, "one\ntwo\nthree\nfour", b.TailLines(0))
}

func TestBuffer_LargeReplace(t *testing.T) {
	b := NewBuffer()
	big := strings.Repeat("x", DefaultBufferLimit+100)
	b.Replace(big)

	assert.Equal(t, DefaultBufferLimit, b.Len())
}
