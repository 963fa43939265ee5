package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"
)

func buildDOCX(t *testing.T, paragraphs []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	var doc strings.Builder
	doc.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		doc.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	doc.WriteString(`</w:body></w:document>`)
	if _, err := w.Write([]byte(doc.String())); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	docx := buildDOCX(t, []string{"hello"})
	cases := []struct {
		name string
		mime string
		data []byte
		want DocType
	}{
		{"brief.txt", "text/plain", []byte("plain words"), TypePlainText},
		{"notes.md", "", []byte("# heading\nbody"), TypePlainText},
		{"contract.pdf", "application/pdf", []byte("%PDF-1.7 ..."), TypePDF},
		{"renamed.bin", "", []byte("%PDF-1.4 ..."), TypePDF},
		{"filing.docx", mimeDOCX, docx, TypeWordProcessor},
		{"scan.png", "image/png", []byte{0x89, 0x50, 0x4E, 0x47, 0x00}, TypeImage},
		{"blob.bin", "application/octet-stream", []byte{0x00, 0x01, 0x02}, TypeUnknown},
	}
	for _, tc := range cases {
		if got := Detect(tc.name, tc.mime, tc.data); got != tc.want {
			t.Fatalf("Detect(%s): want=%v got=%v", tc.name, tc.want, got)
		}
	}
}

func TestExtractPlainText(t *testing.T) {
	text := "The indemnification clause survives termination."
	got, err := Extract(context.Background(), []byte(text), "text/plain", "clause.txt")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != text {
		t.Fatalf("text: want=%q got=%q", text, got)
	}
}

func TestExtractDOCX(t *testing.T) {
	data := buildDOCX(t, []string{"First paragraph of the brief.", "Second paragraph follows."})
	got, err := Extract(context.Background(), data, mimeDOCX, "brief.docx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "First paragraph of the brief.") {
		t.Fatalf("missing first paragraph: %q", got)
	}
	if !strings.Contains(got, "Second paragraph follows.") {
		t.Fatalf("missing second paragraph: %q", got)
	}
	if !strings.Contains(got, "\n") {
		t.Fatalf("paragraph break lost: %q", got)
	}
}

func TestExtractPDFReturnsEmptyForOCR(t *testing.T) {
	got, err := Extract(context.Background(), []byte("%PDF-1.5 binary junk"), "application/pdf", "scan.pdf")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "" {
		t.Fatalf("pdf text: want empty got=%q", got)
	}
}

func TestExtractImageReturnsEmptyForOCR(t *testing.T) {
	got, err := Extract(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0x00}, "image/jpeg", "exhibit.jpg")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "" {
		t.Fatalf("image text: want empty got=%q", got)
	}
}

func TestExtractEmptyBuffer(t *testing.T) {
	got, err := Extract(context.Background(), nil, "text/plain", "empty.txt")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "" {
		t.Fatalf("want empty, got %q", got)
	}
}

func TestExtractCorruptDOCXFails(t *testing.T) {
	// Claims docx via extension but the zip has no word/document.xml.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("other/part.xml")
	_, _ = w.Write([]byte("<x/>"))
	_ = zw.Close()

	_, err := Extract(context.Background(), buf.Bytes(), mimeDOCX, "broken.docx")
	if err == nil {
		t.Fatalf("expected error for docx without document part")
	}
}
