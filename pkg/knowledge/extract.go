package knowledge

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/leadgate-ai/leadgate-engine/pkg/apperrors"
)

// ExtractText pulls plain text out of an uploaded document. PDF files are
// read page by page; everything else is treated as UTF-8 text.
func ExtractText(raw []byte, filename string) (string, error) {
	if len(raw) == 0 {
		return "", apperrors.ErrEmptyDocument
	}

	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return extractPDF(raw)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", apperrors.ErrEmptyDocument
	}
	return text, nil
}

func extractPDF(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not lose the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(text))
	}

	if sb.Len() == 0 {
		return "", apperrors.ErrEmptyDocument
	}
	return sb.String(), nil
}
