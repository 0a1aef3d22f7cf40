// Package ingest extracts title rows from uploaded spreadsheet and CSV files.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for file extensions the parser does not
// understand.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrNoTitleColumn is returned when no column in the file looks like it
// holds titles.
var ErrNoTitleColumn = errors.New("no title column found")

// titleHeaders are recognized title-column names, in preference order.
var titleHeaders = []string{
	"title",
	"project title",
	"project_name",
	"topic",
	"idea",
	"name",
	"heading",
	"subject",
}

// Titles parses content according to the filename extension and returns the
// values of the detected title column, header excluded, blank cells dropped.
func Titles(content []byte, filename string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		rows, err := excelRows(content)
		if err != nil {
			return nil, err
		}
		return titleColumn(rows)
	case ".csv", ".txt":
		rows, err := csvRows(content)
		if err != nil {
			return nil, err
		}
		return titleColumn(rows)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

func excelRows(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close workbook")
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func csvRows(content []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1 // ragged rows are fine, cells are picked by index
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// titleColumn picks the title column and extracts its non-blank values.
// Header names are matched against titleHeaders first; without a recognized
// header the first column whose data looks textual is used and the first row
// is kept as data.
func titleColumn(rows [][]string) ([]string, error) {
	if len(rows) == 0 {
		return nil, ErrNoTitleColumn
	}

	col, headered := detectByHeader(rows[0])
	data := rows
	if headered {
		data = rows[1:]
	} else {
		col = detectByContent(rows)
		if col < 0 {
			return nil, ErrNoTitleColumn
		}
	}

	titles := make([]string, 0, len(data))
	for _, row := range data {
		if col >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		titles = append(titles, cell)
	}
	return titles, nil
}

func detectByHeader(header []string) (int, bool) {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for _, want := range titleHeaders {
		for i, h := range norm {
			if h == want {
				return i, true
			}
		}
	}
	return -1, false
}

// detectByContent returns the first column whose first non-blank cell
// contains a letter, or -1 when every column is blank or numeric.
func detectByContent(rows [][]string) int {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	for col := 0; col < width; col++ {
		for _, row := range rows {
			if col >= len(row) {
				continue
			}
			cell := strings.TrimSpace(row[col])
			if cell == "" {
				continue
			}
			if hasLetter(cell) {
				return col
			}
			break
		}
	}
	return -1
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
