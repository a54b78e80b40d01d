package ingest

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// ReadCSV parses a CSV stream into a header row and data records. Variable
// field counts are tolerated; short rows leave trailing fields empty.
func ReadCSV(r io.Reader, opts CSVOptions) (header []string, records [][]string, err error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields

	for {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, nil, eris.Wrap(readErr, "csv: read row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		if header == nil {
			header = record
			continue
		}
		if isBlank(record) {
			continue
		}
		records = append(records, record)
	}

	if header == nil {
		return nil, nil, eris.New("csv: empty file")
	}
	return header, records, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if f != "" {
			return false
		}
	}
	return true
}
