package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestPreviewFileToolRequiresFileID(t *testing.T) {
	tool := NewPreviewFileTool(nil)
	res := tool.Executor(context.Background(), map[string]any{"filename": "a.csv"})
	require.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "file_id is required")
}

func TestPreviewCSVRendersRowsPipeDelimited(t *testing.T) {
	out := previewCSV([]byte("a,b,c\n1,2,3\n"))
	assert.Equal(t, "a | b | c\n1 | 2 | 3\n", out)
}

func TestPreviewCSVEmptyInput(t *testing.T) {
	assert.Equal(t, "(empty CSV)", previewCSV([]byte("")))
}

func TestPreviewCSVCapsAtTwentyRows(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString("row\n")
	}
	out := previewCSV([]byte(sb.String()))
	assert.Equal(t, 20, strings.Count(out, "row"))
}

func TestPreviewTextTruncatesLongInput(t *testing.T) {
	data := []byte(strings.Repeat("x", 5000))
	out := previewText(data)
	assert.Contains(t, out, "[truncated]")
	assert.True(t, len(out) < len(data)+50)
}

func TestPreviewTextPassesThroughShortInput(t *testing.T) {
	assert.Equal(t, "short text", previewText([]byte("short text")))
}

func TestPreviewXLSXRendersSheetRows(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetCellValue(sheet, "A1", "name"))
	require.NoError(t, f.SetCellValue(sheet, "B1", "score"))
	require.NoError(t, f.SetCellValue(sheet, "A2", "alice"))
	require.NoError(t, f.SetCellValue(sheet, "B2", 10))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	out := previewXLSX(buf.Bytes())
	assert.Contains(t, out, "name | score")
	assert.Contains(t, out, "alice | 10")
}

func TestPreviewXLSXInvalidBytes(t *testing.T) {
	out := previewXLSX([]byte("not an xlsx file"))
	assert.Contains(t, out, "could not open XLSX")
}
