// Package tabular turns raw dataset revisions (semicolon CSV or XLSX) into
// SourceRecords keyed by the dataset's primary key.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"clinicsync/pkg/domain"
)

// Delimiter separates fields in text exports.
const Delimiter = ';'

// ErrNoHeader is returned for empty inputs.
var ErrNoHeader = errors.New("tabular: missing header row")

// Options tune a parse.
type Options struct {
	// Encodings overrides DecodeOrder.
	Encodings []string
	// RevisionHash is stamped on every record.
	RevisionHash string
}

// Result is the outcome of parsing one revision.
type Result struct {
	Dataset  domain.Dataset
	Encoding string
	Header   []string
	Records  []domain.SourceRecord
	Total    int
	Dropped  int
	Errors   []domain.ParseError
}

// Parser parses revisions against their schema.
type Parser struct {
	log zerolog.Logger
}

// New returns a parser logging dropped rows at debug level.
func New(log zerolog.Logger) *Parser {
	return &Parser{log: log.With().Str("component", "tabular").Logger()}
}

// Parse decodes data and maps each row through schema.
func (p *Parser) Parse(data []byte, schema Schema, opts Options) (*Result, error) {
	var (
		rows      [][]string
		malformed []domain.ParseError
		encoding  string
		err       error
	)
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		rows, err = readXLSX(data)
		encoding = EncodingXLSX
	} else {
		var text string
		text, encoding, err = Decode(data, opts.Encodings)
		if err == nil {
			rows, malformed, err = p.readCSV(newCSVReader(text), schema.Dataset)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", schema.Dataset, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("parse %s: %w", schema.Dataset, ErrNoHeader)
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	pkIndex := -1
	for i, h := range header {
		if h == schema.PrimaryKey {
			pkIndex = i
			break
		}
	}
	if pkIndex < 0 {
		return nil, fmt.Errorf("parse %s: primary key column %q not in header", schema.Dataset, schema.PrimaryKey)
	}

	res := &Result{Dataset: schema.Dataset, Encoding: encoding, Header: header}
	res.Total += len(malformed)
	res.Dropped += len(malformed)
	res.Errors = append(res.Errors, malformed...)
	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			continue
		}
		res.Total++
		key := ""
		if pkIndex < len(row) {
			key = strings.TrimSpace(row[pkIndex])
		}
		if key == "" {
			res.Dropped++
			pe := domain.ParseError{Dataset: schema.Dataset, Row: line, Reason: "missing primary key " + schema.PrimaryKey}
			res.Errors = append(res.Errors, pe)
			p.log.Debug().Str("dataset", string(schema.Dataset)).Int("row", line).Msg(pe.Reason)
			continue
		}
		rec := domain.SourceRecord{
			Source:       schema.Dataset.Source(),
			Dataset:      schema.Dataset,
			RevisionHash: opts.RevisionHash,
			Row:          line,
			Key:          key,
			Fields:       make(map[string]string, len(schema.Columns)),
		}
		for j, col := range header {
			if col == "" {
				continue
			}
			val := ""
			if j < len(row) {
				val = strings.TrimSpace(row[j])
			}
			if schema.known(col) {
				rec.Fields[col] = val
				continue
			}
			if rec.Extras == nil {
				rec.Extras = make(map[string]string)
			}
			rec.Extras[col] = val
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func newCSVReader(text string) *csv.Reader {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r
}

// readCSV reads every record. Lines the reader rejects after the header are
// skipped and returned as parse errors.
func (p *Parser) readCSV(r *csv.Reader, ds domain.Dataset) ([][]string, []domain.ParseError, error) {
	var (
		rows    [][]string
		skipped []domain.ParseError
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) && len(rows) > 0 {
				p.log.Debug().Str("dataset", string(ds)).Int("line", pe.Line).Err(err).Msg("skipping malformed line")
				skipped = append(skipped, domain.ParseError{Dataset: ds, Row: pe.StartLine, Reason: "malformed line: " + pe.Err.Error()})
				continue
			}
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}
	return f.GetRows(sheets[0])
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
