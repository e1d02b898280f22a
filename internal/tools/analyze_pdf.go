package tools

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/nextlevelbuilder/tollgate/internal/filestore"
)

// NewAnalyzePDFTool extracts text from a previously uploaded PDF UserFile.
// No example repo in the pack implements PDF analysis directly, so this is
// new code grounded on the pack's own pdf dependency
// (github.com/ledongthuc/pdf) rather than on teacher source. It makes no LLM
// sub-call (its only external request is fetching the file's bytes), so
// unlike analyze_image it has no marginal cost to charge and stays unpaid.
func NewAnalyzePDFTool(files *filestore.Store, maxChars int) *Tool {
	if maxChars <= 0 {
		maxChars = 40000
	}
	return &Tool{
		Name:        "analyze_pdf",
		Description: "Extract and return the text content of a previously uploaded PDF file.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_id": map[string]any{"type": "string", "description": "Provider file id of the PDF."},
			},
			"required": []string{"file_id"},
		},
		Executor: func(ctx context.Context, args map[string]any) *Result {
			fileID, _ := args["file_id"].(string)
			if fileID == "" {
				return ErrorResult("file_id is required")
			}
			data, err := files.Download(ctx, fileID)
			if err != nil {
				return ErrorResult("could not load PDF %s: %v", fileID, err)
			}

			text, pages, err := extractPDFText(data, maxChars)
			if err != nil {
				return ErrorResult("could not parse PDF: %v", err)
			}
			return NewResult(fmt.Sprintf("PDF (%d pages):\n\n%s", pages, text))
		},
	}
}

func extractPDFText(data []byte, maxChars int) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
		if sb.Len() > maxChars {
			break
		}
	}

	out := sb.String()
	if len(out) > maxChars {
		out = out[:maxChars] + "\n[truncated]"
	}
	return out, pages, nil
}
