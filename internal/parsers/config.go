package parsers

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"bank-fraud-etl/internal/models"
)

// RecordParserConfig configures how the transaction export is read
type RecordParserConfig struct {
	Delimiter rune `json:"delimiter"`
	// RequiredColumns must all be present in the header.
	RequiredColumns []string `json:"required_columns"`
	// ColumnAliases maps a canonical column name to the header used by the file.
	ColumnAliases map[string]string `json:"column_aliases,omitempty"`
}

// DefaultRecordParserConfig returns a configuration for the standard export
func DefaultRecordParserConfig() *RecordParserConfig {
	return &RecordParserConfig{
		Delimiter:       ',',
		RequiredColumns: append([]string(nil), models.RawColumns...),
	}
}

// Validate checks if the parser configuration is valid
func (c *RecordParserConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '"' || c.Delimiter == '\r' || c.Delimiter == '\n' || c.Delimiter == utf8.RuneError {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}

	known := make(map[string]bool, len(models.RawColumns))
	for _, col := range models.RawColumns {
		known[col] = true
	}
	for _, col := range c.RequiredColumns {
		if !known[col] {
			return fmt.Errorf("unknown required column '%s'", col)
		}
	}
	for canonical, alias := range c.ColumnAliases {
		if !known[canonical] {
			return fmt.Errorf("alias for unknown column '%s'", canonical)
		}
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("empty alias for column '%s'", canonical)
		}
	}
	return nil
}

// GetColumnName returns the header name used for a canonical column
func (c *RecordParserConfig) GetColumnName(canonical string) string {
	if alias, exists := c.ColumnAliases[canonical]; exists {
		return alias
	}
	return canonical
}
