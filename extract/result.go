package extract

import "strings"

// Result is the normalized extraction payload. Every backend produces this
// same shape; only the amount of detail varies.
type Result struct {
	FullText       string            `json:"full_text"`
	Pages          []Page            `json:"pages"`
	Tables         []Table           `json:"tables"`
	Images         []ImageInfo       `json:"images"`
	DocInfo        map[string]string `json:"doc_info,omitempty"`
	PageCount      int               `json:"page_count"`
	WordCount      int               `json:"word_count"`
	CharacterCount int               `json:"character_count"`
	Warning        string            `json:"warning,omitempty"`
}

// Page holds the text extracted from a single page.
type Page struct {
	Number         int    `json:"page_number"`
	Content        string `json:"content"`
	LineCount      int    `json:"line_count"`
	WordCount      int    `json:"word_count"`
	CharacterCount int    `json:"character_count"`
}

// Table is a detected tabular region. Content is tab-separated rows.
type Table struct {
	Page    int    `json:"page"`
	Content string `json:"content"`
}

// ImageInfo describes an embedded image without carrying its bytes.
type ImageInfo struct {
	Page        int    `json:"page"`
	Index       int    `json:"image_index"`
	Description string `json:"description"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// newPage builds a Page with its derived counts filled in.
func newPage(number int, content string) Page {
	return Page{
		Number:         number,
		Content:        content,
		LineCount:      len(strings.Split(content, "\n")),
		WordCount:      len(strings.Fields(content)),
		CharacterCount: len(content),
	}
}

// normalize fills the aggregate fields so consumers always see the same
// shape regardless of which backend produced the result.
func normalize(r *Result) *Result {
	if r.FullText == "" && len(r.Pages) > 0 {
		var b strings.Builder
		for i, p := range r.Pages {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Content)
		}
		r.FullText = b.String()
	}
	if r.PageCount == 0 {
		r.PageCount = len(r.Pages)
	}
	r.WordCount = len(strings.Fields(r.FullText))
	r.CharacterCount = len(r.FullText)
	if r.Pages == nil {
		r.Pages = []Page{}
	}
	if r.Tables == nil {
		r.Tables = []Table{}
	}
	if r.Images == nil {
		r.Images = []ImageInfo{}
	}
	return r
}
