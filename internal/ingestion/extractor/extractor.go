// Package extractor turns a raw upload buffer into plain text. It dispatches
// on a closed set of document types resolved once from the declared MIME type,
// the file extension and magic-byte sniffing. PDFs and images intentionally
// produce no text here: scanned PDFs dominate legal uploads, so both routes
// uniformly fall through to OCR in the pipeline.
package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/lexfind/lexfind-backend/internal/platform/retry"
)

// DocType is the closed set of upload kinds the pipeline distinguishes.
type DocType int

const (
	TypeUnknown DocType = iota
	TypePlainText
	TypeWordProcessor
	TypePDF
	TypeImage
)

func (t DocType) String() string {
	switch t {
	case TypePlainText:
		return "text"
	case TypeWordProcessor:
		return "word"
	case TypePDF:
		return "pdf"
	case TypeImage:
		return "image"
	default:
		return "unknown"
	}
}

// MinTextLength is the threshold below which the pipeline treats direct
// extraction as a miss and falls back to OCR.
const MinTextLength = 100

// Detect resolves the document type once; all later branching matches on it.
func Detect(fileName, mimeType string, data []byte) DocType {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(fileName))

	// Magic bytes beat declared types; browsers lie about MIME routinely.
	if isPDF(data) {
		return TypePDF
	}
	if isZip(data) && (mt == mimeDOCX || ext == ".docx" || hasWordParts(data)) {
		return TypeWordProcessor
	}

	switch {
	case strings.HasPrefix(mt, "image/"):
		return TypeImage
	case mt == "application/pdf" || ext == ".pdf":
		return TypePDF
	case mt == mimeDOCX || ext == ".docx" || ext == ".doc":
		return TypeWordProcessor
	case strings.HasPrefix(mt, "text/") || ext == ".txt" || ext == ".md" || ext == ".markdown":
		return TypePlainText
	}

	if isProbablyText(data) {
		return TypePlainText
	}
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".tif", ".tiff":
		return TypeImage
	}
	return TypeUnknown
}

const mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Extract returns the plain text of the buffer, possibly empty. An empty
// result is not an error: it signals the caller to try OCR. Transient
// failures are retried twice with backoff before surfacing.
func Extract(ctx context.Context, data []byte, mimeType, fileName string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}

	var text string
	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, Retryable: retry.Always}, func(context.Context) error {
		t, err := extractOnce(data, mimeType, fileName)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("extract %q: %w", fileName, err)
	}
	return text, nil
}

func extractOnce(data []byte, mimeType, fileName string) (string, error) {
	switch Detect(fileName, mimeType, data) {
	case TypePlainText:
		return string(data), nil
	case TypeWordProcessor:
		return extractDOCX(data)
	case TypePDF, TypeImage, TypeUnknown:
		// No direct text; OCR is the caller's next move.
		return "", nil
	}
	return "", nil
}

// ---------------- sniffing ----------------

func isPDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZip(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

func hasWordParts(zipBytes []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "word/") {
			return true
		}
	}
	return false
}

func isProbablyText(b []byte) bool {
	sample := b
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	if len(sample) == 0 {
		return false
	}
	good := 0
	for _, c := range sample {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(sample)) > 0.9
}

// ---------------- DOCX ----------------

// extractDOCX walks word/document.xml collecting <w:t> runs; paragraphs
// become newlines so downstream chunking still sees paragraph breaks.
func extractDOCX(zipBytes []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return "", fmt.Errorf("docx zip: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx missing word/document.xml")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("docx open part: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("docx read part: %w", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx xml: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				var v string
				if err := dec.DecodeElement(&v, &el); err == nil {
					out.WriteString(v)
				}
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				out.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}
