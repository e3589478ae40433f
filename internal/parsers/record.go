package parsers

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"io"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"
)

// RecordParser reads the transaction export into raw records
type RecordParser struct {
	*BaseParser
	config *RecordParserConfig
	logger logger.Logger
}

// NewRecordParser creates a parser for the transaction export
func NewRecordParser(config *RecordParserConfig) (*RecordParser, error) {
	if config == nil {
		config = DefaultRecordParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "input", config, err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.Delimiter = config.Delimiter

	return &RecordParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.WithComponent("record_parser"),
	}, nil
}

// ParseFile reads every record of the file at path
func (p *RecordParser) ParseFile(ctx context.Context, path string) ([]*models.RawRecord, *ParseStats, error) {
	file, reader, err := p.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return p.parse(ctx, reader, path)
}

// ParseReader reads every record from r; source names it in errors
func (p *RecordParser) ParseReader(ctx context.Context, r io.Reader, source string) ([]*models.RawRecord, *ParseStats, error) {
	return p.parse(ctx, p.NewReader(r), source)
}

func (p *RecordParser) parse(ctx context.Context, reader *csv.Reader, source string) ([]*models.RawRecord, *ParseStats, error) {
	parseCtx := NewParseContext(ctx, source)

	required := make([]string, len(p.config.RequiredColumns))
	for i, col := range p.config.RequiredColumns {
		required[i] = p.config.GetColumnName(col)
	}
	if err := p.ReadHeaders(reader, parseCtx, required); err != nil {
		return nil, nil, err
	}

	// Canonical columns present in this file, with their header names.
	present := make(map[string]string, len(models.RawColumns))
	for _, col := range models.RawColumns {
		header := p.config.GetColumnName(col)
		if parseCtx.GetColumnIndex(header) != -1 {
			present[col] = header
		}
	}

	stats := &ParseStats{TotalLines: 1}
	var records []*models.RawRecord

	for {
		record, err := p.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if stderrors.As(err, &csvErr) {
				stats.MalformedRows++
				p.logger.WithError(err).WithField("line", parseCtx.LineNumber).Warn("Skipping malformed CSV line")
				continue
			}
			return nil, nil, errors.WrapIfNeeded(err, errors.CategoryParse, errors.CodeInvalidFormat, "reading "+source)
		}

		if len(record) < len(parseCtx.Headers) {
			stats.ShortRows++
		}

		raw := &models.RawRecord{
			Line:   parseCtx.LineNumber,
			Values: make(map[string]string, len(present)),
		}
		for col, header := range present {
			raw.Values[col] = p.GetFieldValue(record, parseCtx, header)
		}
		records = append(records, raw)
	}

	stats.TotalLines = parseCtx.LineNumber
	stats.RecordsParsed = len(records)

	p.logger.WithFields(logger.Fields{
		"source":    source,
		"records":   stats.RecordsParsed,
		"malformed": stats.MalformedRows,
	}).Info("Parsed transaction export")

	return records, stats, nil
}
