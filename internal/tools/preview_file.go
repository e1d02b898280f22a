package tools

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/nextlevelbuilder/tollgate/internal/filestore"
)

// NewPreviewFileTool inspects a file without delivering it — preview_file
// never delivers, only inspects. CSV/XLSX get row samples
// via the pack's excelize dependency plus the standard library's csv
// reader; everything else falls back to a text head.
func NewPreviewFileTool(files *filestore.Store) *Tool {
	return &Tool{
		Name:        "preview_file",
		Description: "Inspect a previously uploaded file without delivering it: row samples for CSV/XLSX, a text head for other files.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_id":  map[string]any{"type": "string", "description": "Provider file id to preview."},
				"filename": map[string]any{"type": "string", "description": "Original filename, used to pick the preview mode by extension."},
			},
			"required": []string{"file_id", "filename"},
		},
		Executor: func(ctx context.Context, args map[string]any) *Result {
			fileID, _ := args["file_id"].(string)
			filename, _ := args["filename"].(string)
			if fileID == "" {
				return ErrorResult("file_id is required")
			}
			data, err := files.Download(ctx, fileID)
			if err != nil {
				return ErrorResult("could not load file %s: %v", fileID, err)
			}

			switch {
			case strings.HasSuffix(strings.ToLower(filename), ".csv"):
				return NewResult(previewCSV(data))
			case strings.HasSuffix(strings.ToLower(filename), ".xlsx"):
				return NewResult(previewXLSX(data))
			default:
				return NewResult(previewText(data))
			}
		},
	}
}

func previewCSV(data []byte) string {
	r := csv.NewReader(bytes.NewReader(data))
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		rec, err := r.Read()
		if err != nil {
			break
		}
		sb.WriteString(strings.Join(rec, " | "))
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "(empty CSV)"
	}
	return sb.String()
}

func previewXLSX(data []byte) string {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Sprintf("could not open XLSX: %v", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Sprintf("could not read sheet %q: %v", sheet, err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sheet %q, %d rows:\n", sheet, len(rows))
	for i, row := range rows {
		if i >= 20 {
			sb.WriteString("...\n")
			break
		}
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteString("\n")
	}
	return sb.String()
}

func previewText(data []byte) string {
	const headBytes = 4000
	if len(data) > headBytes {
		return string(data[:headBytes]) + "\n[truncated]"
	}
	return string(data)
}
