package parsers

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
)

// WriteCleanRecords writes a cleaned record set as CSV, header first, in
// models.CleanColumns order.
func WriteCleanRecords(w io.Writer, records []*models.CleanRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(models.CleanColumns); err != nil {
		return err
	}

	row := make([]string, len(models.CleanColumns))
	for _, rec := range records {
		for i, col := range models.CleanColumns {
			row[i] = rec.Value(col)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteCleanFile writes a cleaned record set to path, creating parent
// directories as needed.
func WriteCleanFile(path string, records []*models.CleanRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.FileError(errors.CodeFileWrite, path, err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFileWrite, path, err)
	}

	if err := WriteCleanRecords(file, records); err != nil {
		file.Close()
		return errors.FileError(errors.CodeFileWrite, path, err)
	}
	if err := file.Close(); err != nil {
		return errors.FileError(errors.CodeFileWrite, path, err)
	}
	return nil
}
