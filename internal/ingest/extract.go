package ingest

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for file extensions the extractor cannot read.
var ErrUnsupported = errors.New("unsupported file type")

// Extraction bounds. Only the head of a document is kept.
const (
	pdfMaxPages       = 3
	docxMaxParagraphs = 20
	textMaxChars      = 2000
)

const docxDocumentPath = "word/document.xml"

var (
	docxParagraph = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*)?>(.*?)</w:p>`)
	docxText      = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
)

// Extractor reads the leading text of PDF, DOCX and plain-text files.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on ext, which includes the
// leading dot.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".txt", ".md":
		return extractPlain(content), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

// Supported reports whether ext can be extracted.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx", ".txt", ".md":
		return true
	}
	return false
}

func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	pages := min(r.NumPage(), pdfMaxPages)

	var parts []string
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extracting page %d: %w", i, err)
		}
		parts = append(parts, strings.TrimSpace(text))
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("opening DOCX: not a zip: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != docxDocumentPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("opening %s: %w", f.Name, err)
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", f.Name, err)
		}
		break
	}
	if docXML == nil {
		return "", fmt.Errorf("opening DOCX: %s not found", docxDocumentPath)
	}

	paragraphs := docxParagraph.FindAllSubmatch(docXML, docxMaxParagraphs)
	texts := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		var b strings.Builder
		for _, t := range docxText.FindAllSubmatch(p[1], -1) {
			b.WriteString(html.UnescapeString(string(t[1])))
		}
		texts = append(texts, b.String())
	}
	return strings.TrimSpace(strings.Join(texts, " ")), nil
}

func extractPlain(content []byte) string {
	return strings.TrimSpace(truncateRunes(strings.ToValidUTF8(string(content), ""), textMaxChars))
}

// truncateRunes returns at most n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
