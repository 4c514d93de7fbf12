package extract

import (
	"bytes"
)

// Report is the outcome of the structural pre-check. It is advisory:
// missing page dimensions never block an extraction attempt.
type Report struct {
	IsPDF             bool
	HasPageDimensions bool
	Version           string
}

var (
	pdfMagic      = []byte("%PDF-")
	mediaBoxToken = []byte("/MediaBox")
)

// Precheck inspects the raw bytes just enough to classify the document.
// Generator-produced PDFs frequently omit explicit /MediaBox entries; that
// is a soft condition, reported but not fatal.
func Precheck(data []byte) Report {
	var rep Report

	// Lenient readers tolerate up to 1024 bytes of junk before the header,
	// though in practice real files start with the magic.
	idx := bytes.Index(data[:min(len(data), 1024)], pdfMagic)
	if idx < 0 {
		return rep
	}
	rep.IsPDF = true

	rest := data[idx+len(pdfMagic):]
	if end := bytes.IndexAny(rest, "\r\n \t"); end > 0 && end <= 8 {
		rep.Version = string(rest[:end])
	}

	rep.HasPageDimensions = bytes.Contains(data, mediaBoxToken)
	return rep
}
