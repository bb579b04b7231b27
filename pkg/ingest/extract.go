package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// ErrExtraction marks documents that cannot be parsed at all (corrupt or
// unsupported content). Ingestion recovers locally: the document row still
// persists, just with zero chunks.
var ErrExtraction = errors.New("text extraction failed")

var extractableExtensions = map[string]struct{}{
	"pdf":  {},
	"docx": {},
	"html": {},
	"htm":  {},
	"txt":  {},
	"md":   {},
}

// CanExtract reports whether documents with the given file extension go
// through the vectorization pipeline. Other types are stored as-is.
func CanExtract(ext string) bool {
	_, ok := extractableExtensions[normalizeExt(ext)]
	return ok
}

// ExtractText pulls the text out of a document as an ordered sequence of
// sections (pages for PDF). Sections that yield no text (e.g. scanned
// images) are skipped rather than failing the document.
func ExtractText(content []byte, ext string) ([]string, error) {
	switch normalizeExt(ext) {
	case "pdf":
		return extractPDF(content)
	case "docx":
		return extractDOCX(content)
	case "html", "htm":
		return extractHTML(content)
	case "txt", "md":
		text := NormalizeText(string(content))
		if text == "" {
			return nil, nil
		}
		return []string{text}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported file extension %q", ErrExtraction, ext)
	}
}

func extractPDF(content []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrExtraction, err)
	}
	totalPages := reader.NumPage()
	pages := make([]string, 0, totalPages)
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing the document.
			continue
		}
		text = NormalizeText(text)
		if text == "" {
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// extractDOCX reads the main document part of an OOXML archive and collects
// the w:t text runs, one section per paragraph.
func extractDOCX(content []byte) ([]string, error) {
	archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: open docx: %v", ErrExtraction, err)
	}
	var docXML []byte
	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: read docx document part: %v", ErrExtraction, err)
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read docx content: %v", ErrExtraction, err)
		}
		break
	}
	if docXML == nil {
		return nil, fmt.Errorf("%w: docx missing word/document.xml", ErrExtraction)
	}

	decoder := xml.NewDecoder(bytes.NewReader(docXML))
	var sections []string
	var paragraph strings.Builder
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse docx xml: %v", ErrExtraction, err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				var text string
				if err := decoder.DecodeElement(&text, &t); err != nil {
					continue
				}
				paragraph.WriteString(text)
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				if section := NormalizeText(paragraph.String()); section != "" {
					sections = append(sections, section)
				}
				paragraph.Reset()
			}
		}
	}
	if section := NormalizeText(paragraph.String()); section != "" {
		sections = append(sections, section)
	}
	return sections, nil
}

func extractHTML(content []byte) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrExtraction, err)
	}
	text := NormalizeText(htmlText(doc))
	if text == "" {
		return nil, nil
	}
	return []string{text}, nil
}

func htmlText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}

// NormalizeText strips NUL bytes and invalid UTF-8 and collapses all runs
// of whitespace to single spaces.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
