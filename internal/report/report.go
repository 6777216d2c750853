// Package report writes run results to CSV or JSON files and reads CSV input rows.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
)

// ErrUnsupportedFormat is returned for file extensions other than .csv and .json.
var ErrUnsupportedFormat = errors.New("unsupported file format")

type Format string

const (
	CSV  Format = ".csv"
	JSON Format = ".json"
)

// ErrorColumn is appended to re-emitted input rows.
const ErrorColumn = "error"

// SafeFileName removes path separators from names used in report file names.
func SafeFileName(name string) string {
	return strings.NewReplacer("/", "", "\\", "").Replace(name)
}

// SaveRecords writes records to file in the format given by its extension. CSV records
// must be a slice of structs with csv tags.
func SaveRecords(file string, records any) error {
	format := Format(strings.ToLower(filepath.Ext(file)))
	if format != CSV && format != JSON {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, file)
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if format == CSV {
		return gocsv.MarshalFile(records, f)
	}
	return writeJSON(f, records)
}

// SaveJSON writes v as indented JSON.
func SaveJSON(file string, v any) error {
	f, err := os.OpenFile(file, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeJSON(f, v)
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadJSON decodes the JSON file into v.
func ReadJSON(file string, v any) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}
	return nil
}

// Row is one CSV input row keyed by header. Line is the 1-based line number in the file,
// the header being line 1.
type Row struct {
	Line   int
	Values map[string]string
}

func (r Row) Get(column string) string {
	return r.Values[column]
}

// Table is a CSV file with free-form columns.
type Table struct {
	Header []string
	Rows   []Row
}

// ReadTable reads a CSV with a header row. Rows with a different number of fields than the
// header are an error.
func ReadTable(r io.Reader) (*Table, error) {
	lines, err := gocsv.LazyCSVReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(lines) == 0 {
		return nil, errors.New("csv has no header row")
	}

	t := &Table{Header: lines[0]}
	for i, line := range lines[1:] {
		if len(line) != len(t.Header) {
			return nil, fmt.Errorf("line %d: %d fields, header has %d", i+2, len(line), len(t.Header))
		}
		values := make(map[string]string, len(line))
		for j, v := range line {
			values[t.Header[j]] = v
		}
		t.Rows = append(t.Rows, Row{Line: i + 2, Values: values})
	}
	return t, nil
}

func ReadTableFile(file string) (*Table, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTable(f)
}

// ErrorRow is an input row that failed, with the reason.
type ErrorRow struct {
	Row   Row
	Error string
}

// WriteErrorRows re-emits failed input rows in their original column order with an
// ErrorColumn appended.
func WriteErrorRows(w io.Writer, header []string, rows []ErrorRow) error {
	cw := gocsv.DefaultCSVWriter(w)
	if err := cw.Write(append(append([]string(nil), header...), ErrorColumn)); err != nil {
		return err
	}
	for _, r := range rows {
		line := make([]string, 0, len(header)+1)
		for _, col := range header {
			line = append(line, r.Row.Values[col])
		}
		if err := cw.Write(append(line, r.Error)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func SaveErrorRows(file string, header []string, rows []ErrorRow) error {
	f, err := os.OpenFile(file, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteErrorRows(f, header, rows)
}
