package main

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatYAML  OutputFormat = "yaml"
	FormatCBOR  OutputFormat = "cbor"
	FormatRaw   OutputFormat = "raw"
)

func parseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatTable, FormatJSON, FormatCSV, FormatYAML, FormatCBOR, FormatRaw:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (table, json, csv, yaml, cbor, raw)", s)
}

var cborEncMode cbor.EncMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("output: CBOR encoder initialization failed: " + err.Error())
	}
}

// Formatter handles output formatting
type Formatter struct {
	format OutputFormat
	writer io.Writer
	yaml   *yaml.Encoder
}

// NewFormatter creates a new formatter
func NewFormatter(format string) *Formatter {
	return &Formatter{
		format: OutputFormat(format),
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
	f.yaml = nil
}

// Format returns the output format
func (f *Formatter) Format() OutputFormat {
	return f.format
}

// Structured reports whether the format encodes whole values (json, yaml, cbor)
func (f *Formatter) Structured() bool {
	switch f.format {
	case FormatJSON, FormatYAML, FormatCBOR:
		return true
	}
	return false
}

// Printf formats and prints output
func (f *Formatter) Printf(format string, args ...interface{}) {
	fmt.Fprintf(f.writer, format, args...)
}

// Println prints a line
func (f *Formatter) Println(args ...interface{}) {
	fmt.Fprintln(f.writer, args...)
}

// Encode writes v as one json, yaml or cbor document
func (f *Formatter) Encode(v interface{}) error {
	switch f.format {
	case FormatJSON:
		enc := json.NewEncoder(f.writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(f.writer)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatCBOR:
		data, err := cborEncMode.Marshal(v)
		if err != nil {
			return err
		}
		return f.writeBinary(data)
	default:
		return fmt.Errorf("format %s cannot encode values", f.format)
	}
}

// Stream writes v as one record of a stream: a JSON line, a YAML document or
// a CBOR sequence item
func (f *Formatter) Stream(v interface{}) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.writer).Encode(v)
	case FormatYAML:
		if f.yaml == nil {
			f.yaml = yaml.NewEncoder(f.writer)
			f.yaml.SetIndent(2)
		}
		return f.yaml.Encode(v)
	default:
		return f.Encode(v)
	}
}

// Flush ends a YAML stream
func (f *Formatter) Flush() error {
	if f.yaml != nil {
		err := f.yaml.Close()
		f.yaml = nil
		return err
	}
	return nil
}

// writeBinary hex-dumps binary output when it would land on a terminal
func (f *Formatter) writeBinary(data []byte) error {
	if file, ok := f.writer.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		_, err := io.WriteString(f.writer, hex.Dump(data))
		return err
	}
	_, err := f.writer.Write(data)
	return err
}

// PrintCSV prints a header line and rows as CSV
func (f *Formatter) PrintCSV(headers []string, rows [][]string) error {
	w := csv.NewWriter(f.writer)
	if err := w.Write(headers); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

// PrintTable prints data in table format
func (f *Formatter) PrintTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(f.writer, "%-*s ", widths[i], h)
	}
	fmt.Fprintln(f.writer)

	for i := range headers {
		for j := 0; j < widths[i]; j++ {
			fmt.Fprint(f.writer, "-")
		}
		fmt.Fprint(f.writer, " ")
	}
	fmt.Fprintln(f.writer)

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(f.writer, "%-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(f.writer)
	}
}

// PrintRows prints tabular data as a table or CSV, or v for structured formats
func (f *Formatter) PrintRows(v interface{}, headers []string, rows [][]string) error {
	switch {
	case f.Structured():
		return f.Encode(v)
	case f.format == FormatCSV:
		return f.PrintCSV(headers, rows)
	default:
		f.PrintTable(headers, rows)
		return nil
	}
}

// PrintKeyValue prints key-value pairs
func (f *Formatter) PrintKeyValue(pairs map[string]interface{}, order []string) {
	maxKeyLen := 0
	for _, key := range order {
		if len(key) > maxKeyLen {
			maxKeyLen = len(key)
		}
	}

	for _, key := range order {
		if val, ok := pairs[key]; ok {
			fmt.Fprintf(f.writer, "%-*s: %v\n", maxKeyLen, key, val)
		}
	}
}
