package dataprocessing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrMissingColumn is returned when a row lookup names an unknown column
var ErrMissingColumn = errors.New("missing column")

// Table is a parsed input file
type Table struct {
	Path    string
	Sheet   string
	Header  []string
	columns map[string]int
	rows    [][]string
}

// Row is one data row bound to its table's header
type Row struct {
	Line   int
	table  *Table
	values []string
}

// ParseFile reads a CSV file or the first sheet of an .xlsx workbook. The
// file is checked with ValidateDataFile first.
func ParseFile(path string) (*Table, error) {
	var (
		rows  [][]string
		sheet string
		err   error
	)

	if err := ValidateDataFile(path); err != nil {
		return nil, err
	}

	if isWorkbook(path) {
		rows, sheet, err = readWorkbook(path)
	} else {
		rows, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}
	return newTable(path, sheet, rows)
}

// ParseCSV parses CSV content from r
func ParseCSV(name string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv %s: %w", name, err)
	}
	return newTable(name, "", rows)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv %s: %w", path, err)
	}
	return rows, nil
}

func readWorkbook(path string) ([][]string, string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, "", fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, "", fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, sheets[0], nil
}

func newTable(path, sheet string, rows [][]string) (*Table, error) {
	headerRow := -1
	for i, row := range rows {
		if !blank(row) {
			headerRow = i
			break
		}
	}
	if headerRow < 0 {
		return nil, fmt.Errorf("%s: no header row", path)
	}

	t := &Table{
		Path:    path,
		Sheet:   sheet,
		columns: make(map[string]int),
	}
	for j, h := range rows[headerRow] {
		name := NormalizeHeader(h)
		t.Header = append(t.Header, name)
		if _, dup := t.columns[name]; name != "" && !dup {
			t.columns[name] = j
		}
	}
	t.rows = rows[headerRow+1:]
	return t, nil
}

// NormalizeHeader lower-cases a header cell and joins words with underscores,
// so "Sepal Length" and "sepal_length" name the same column.
func NormalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Join(strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.'
	}), "_")
}

// HasColumns reports the first of names missing from the header
func (t *Table) HasColumns(names ...string) error {
	for _, n := range names {
		if _, ok := t.columns[n]; !ok {
			return fmt.Errorf("%s: %w %q", t.Path, ErrMissingColumn, n)
		}
	}
	return nil
}

// Len returns the number of rows after the header, blank rows included
func (t *Table) Len() int {
	return len(t.rows)
}

// Rows iterates the non-blank data rows in file order. It can be ranged
// more than once.
func (t *Table) Rows() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for i, values := range t.rows {
			if blank(values) {
				continue
			}
			if !yield(Row{Line: i + 2, table: t, values: values}) {
				return
			}
		}
	}
}

// String returns the trimmed cell of column
func (r Row) String(column string) (string, error) {
	j, ok := r.table.columns[column]
	if !ok {
		return "", fmt.Errorf("line %d: %w %q", r.Line, ErrMissingColumn, column)
	}
	if j >= len(r.values) {
		return "", nil
	}
	return strings.TrimSpace(r.values[j]), nil
}

// Float parses the cell of column. Thousands separators are accepted.
func (r Row) Float(column string) (float64, error) {
	s, err := r.String(column)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: column %q: %w", r.Line, column, err)
	}
	return v, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
