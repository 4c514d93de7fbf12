package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrecheck(t *testing.T) {
	t.Run("regular pdf", func(t *testing.T) {
		data := []byte("%PDF-1.7\n1 0 obj\n<< /Type /Page /MediaBox [0 0 612 792] >>\nendobj\n")
		rep := Precheck(data)
		assert.True(t, rep.IsPDF)
		assert.True(t, rep.HasPageDimensions)
		assert.Equal(t, "1.7", rep.Version)
	})

	t.Run("missing page dimensions", func(t *testing.T) {
		data := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Page >>\nendobj\n")
		rep := Precheck(data)
		assert.True(t, rep.IsPDF)
		assert.False(t, rep.HasPageDimensions)
		assert.Equal(t, "1.4", rep.Version)
	})

	t.Run("junk before header", func(t *testing.T) {
		data := append([]byte("some garbage preamble\n"), []byte("%PDF-1.5\ncontent /MediaBox [0 0 1 1]")...)
		rep := Precheck(data)
		assert.True(t, rep.IsPDF)
		assert.True(t, rep.HasPageDimensions)
	})

	t.Run("not a pdf", func(t *testing.T) {
		rep := Precheck([]byte("hello world, definitely not a document"))
		assert.False(t, rep.IsPDF)
		assert.False(t, rep.HasPageDimensions)
	})

	t.Run("empty input", func(t *testing.T) {
		rep := Precheck(nil)
		assert.False(t, rep.IsPDF)
	})

	t.Run("magic beyond the scan window", func(t *testing.T) {
		data := append(make([]byte, 2048), []byte("%PDF-1.4")...)
		rep := Precheck(data)
		assert.False(t, rep.IsPDF)
	})
}
