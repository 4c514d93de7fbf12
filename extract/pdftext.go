package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdftextBackend extracts text with github.com/ledongthuc/pdf. It is the
// first-ranked backend: fastest and most detailed (tables, image
// descriptors, document info), but strict: any page it cannot decode
// fails the whole attempt and the chain moves on.
type pdftextBackend struct{}

func (b *pdftextBackend) Name() string { return "pdftext" }

func (b *pdftextBackend) Extract(ctx context.Context, data []byte) (*Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}

	n := r.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	res := &Result{
		PageCount: n,
		DocInfo:   docInfo(r),
	}

	var full strings.Builder
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := r.Page(i)
		if p.V.IsNull() {
			return nil, fmt.Errorf("page %d is unreadable", i)
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}

		res.Pages = append(res.Pages, newPage(i, text))
		full.WriteString(text)
		full.WriteString("\n")

		if tbl, ok := detectTable(p); ok {
			res.Tables = append(res.Tables, Table{Page: i, Content: tbl})
		}
		res.Images = append(res.Images, pageImages(p, i)...)
	}

	res.FullText = strings.TrimRight(full.String(), "\n")
	return normalize(res), nil
}

// pdftextLenientBackend reuses the same reader page by page, isolating
// panics and decode errors so one broken page does not lose the rest of
// the document. Tables and images are skipped in this mode.
type pdftextLenientBackend struct{}

func (b *pdftextLenientBackend) Name() string { return "pdftext-lenient" }

func (b *pdftextLenientBackend) Extract(ctx context.Context, data []byte) (*Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}

	n := r.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	res := &Result{
		PageCount: n,
		DocInfo:   docInfo(r),
	}

	var full strings.Builder
	extracted := 0
	skipped := 0
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := lenientPageText(r, i)
		if err != nil {
			skipped++
			text = ""
		} else {
			extracted++
		}
		res.Pages = append(res.Pages, newPage(i, text))
		full.WriteString(text)
		full.WriteString("\n")
	}

	if extracted == 0 {
		return nil, fmt.Errorf("no page could be decoded (%d skipped)", skipped)
	}
	if skipped > 0 {
		res.Warning = fmt.Sprintf("%d of %d pages could not be decoded and were skipped", skipped, n)
	}

	res.FullText = strings.TrimRight(full.String(), "\n")
	return normalize(res), nil
}

// lenientPageText extracts one page, converting panics from the underlying
// parser into errors.
func lenientPageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("page %d: parser panic: %v", num, rec)
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return "", fmt.Errorf("page %d is unreadable", num)
	}
	return p.GetPlainText(nil)
}

// detectTable looks for a run of rows that each contain multiple
// well-separated text columns. Returns the tab-separated rows when at
// least two consecutive columnar rows exist.
func detectTable(p pdf.Page) (content string, ok bool) {
	defer func() {
		if recover() != nil {
			content, ok = "", false
		}
	}()

	rows, err := p.GetTextByRow()
	if err != nil {
		return "", false
	}

	const columnGap = 20.0 // horizontal gap (text-space units) separating columns

	var tableRows []string
	run := 0
	for _, row := range rows {
		cols := splitColumns(row.Content, columnGap)
		if len(cols) >= 2 {
			run++
			tableRows = append(tableRows, strings.Join(cols, "\t"))
		} else if run < 2 {
			run = 0
			tableRows = tableRows[:0]
		} else {
			break
		}
	}

	if run < 2 {
		return "", false
	}
	return strings.Join(tableRows, "\n"), true
}

// splitColumns groups a row's text runs into columns, breaking wherever the
// horizontal gap between runs exceeds the threshold.
func splitColumns(texts []pdf.Text, gap float64) []string {
	if len(texts) == 0 {
		return nil
	}

	var cols []string
	var cur strings.Builder
	prevEnd := texts[0].X

	for _, t := range texts {
		if t.X-prevEnd > gap && cur.Len() > 0 {
			cols = append(cols, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		cur.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		cols = append(cols, s)
	}
	return cols
}

// pageImages lists the image XObjects referenced by a page's resources.
func pageImages(p pdf.Page, num int) []ImageInfo {
	defer func() { _ = recover() }()

	xobj := p.V.Key("Resources").Key("XObject")
	if xobj.Kind() != pdf.Dict {
		return nil
	}

	var images []ImageInfo
	for idx, key := range xobj.Keys() {
		obj := xobj.Key(key)
		if obj.Key("Subtype").Name() != "Image" {
			continue
		}
		images = append(images, ImageInfo{
			Page:        num,
			Index:       idx,
			Description: fmt.Sprintf("Image %q on page %d", key, num),
			Width:       int(obj.Key("Width").Int64()),
			Height:      int(obj.Key("Height").Int64()),
		})
	}
	return images
}

// docInfo reads the trailer Info dictionary. Missing entries are omitted.
func docInfo(r *pdf.Reader) map[string]string {
	defer func() { _ = recover() }()

	info := r.Trailer().Key("Info")
	if info.Kind() != pdf.Dict {
		return nil
	}

	out := make(map[string]string)
	for _, key := range []string{"Title", "Author", "Subject", "Creator", "Producer"} {
		if v := info.Key(key); v.Kind() == pdf.String {
			if s := v.RawString(); s != "" {
				out[strings.ToLower(key)] = s
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
