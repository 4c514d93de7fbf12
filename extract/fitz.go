package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// fitzBackend wraps MuPDF via github.com/gen2brain/go-fitz. MuPDF rebuilds
// page geometry itself, which makes it tolerant of structurally damaged
// documents and of PDFs missing explicit page dimensions. It is the
// terminal fallback: if this backend fails, the document is unreadable.
type fitzBackend struct{}

func (b *fitzBackend) Name() string { return "fitz" }

func (b *fitzBackend) Extract(ctx context.Context, data []byte) (*Result, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	res := &Result{
		PageCount: n,
		DocInfo:   fitzDocInfo(doc),
	}

	var full strings.Builder
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}

		res.Pages = append(res.Pages, newPage(i+1, text))
		full.WriteString(text)
		full.WriteString("\n")
	}

	res.FullText = strings.TrimRight(full.String(), "\n")
	// MuPDF's text walker does not expose table or image structure here.
	res.Warning = "table and image extraction not available in fallback mode"
	return normalize(res), nil
}

func fitzDocInfo(doc *fitz.Document) map[string]string {
	meta := doc.Metadata()
	if len(meta) == 0 {
		return nil
	}

	out := make(map[string]string)
	for _, key := range []string{"title", "author", "subject", "creator", "producer", "format"} {
		if v := meta[key]; v != "" {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
