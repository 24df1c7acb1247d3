package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dbconnector/internal/connection"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Sheet1"

// Formats lists the extensions Write understands.
var Formats = []string{"csv", "xlsx", "json", "md"}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Write exports grid to path in format.
func Write(path, format string, grid connection.Grid) error {
	switch strings.ToLower(format) {
	case "csv":
		return WriteCSV(path, grid)
	case "xlsx":
		return WriteXLSX(path, grid)
	case "json", "md":
		f, err := create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if format == "json" {
			return encodeJSON(f, grid)
		}
		return encodeMarkdown(f, grid)
	}
	return fmt.Errorf("Unsupported format: %s", format)
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return os.Create(path)
}

func cellText(value interface{}) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// WriteCSV writes a header row followed by every grid row.
func WriteCSV(path string, grid connection.Grid) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return EncodeCSV(f, grid)
}

func EncodeCSV(w io.Writer, grid connection.Grid) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(grid.ColumnNames); err != nil {
		return err
	}
	for _, row := range grid.Rows {
		record := make([]string, len(grid.ColumnNames))
		for i := range record {
			if i < len(row) {
				record[i] = cellText(row[i])
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("Write error: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX writes grid to the first sheet of a new workbook.
func WriteXLSX(path string, grid connection.Grid) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	f := excelize.NewFile()
	defer f.Close()

	header := make([]interface{}, len(grid.ColumnNames))
	for i, name := range grid.ColumnNames {
		header[i] = name
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return err
	}
	for r, row := range grid.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		values := append([]interface{}{}, row...)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func encodeJSON(w io.Writer, grid connection.Grid) error {
	records := make([]map[string]interface{}, 0, len(grid.Rows))
	for _, row := range grid.Rows {
		record := make(map[string]interface{}, len(grid.ColumnNames))
		for i, name := range grid.ColumnNames {
			if i < len(row) {
				record[name] = row[i]
			}
		}
		records = append(records, record)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}

func encodeMarkdown(w io.Writer, grid connection.Grid) error {
	if _, err := fmt.Fprintf(w, "| %s |\n", strings.Join(grid.ColumnNames, " | ")); err != nil {
		return err
	}
	seps := make([]string, len(grid.ColumnNames))
	for i := range seps {
		seps[i] = "---"
	}
	if _, err := fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | ")); err != nil {
		return err
	}
	for _, row := range grid.Rows {
		record := make([]string, len(grid.ColumnNames))
		for i := range record {
			if i < len(row) {
				s := cellText(row[i])
				s = strings.ReplaceAll(s, "|", "\\|")
				s = strings.ReplaceAll(s, "\n", "<br>")
				record[i] = s
			}
		}
		if _, err := fmt.Fprintf(w, "| %s |\n", strings.Join(record, " | ")); err != nil {
			return err
		}
	}
	return nil
}
