package errors

import (
	"fmt"
	"sort"
	"strings"
)

// RowErrorCollector records recoverable row-level errors. Every error is
// counted, but only the first maxSamples are retained.
type RowErrorCollector struct {
	total      int
	byCategory map[ErrorCategory]int
	byCode     map[ErrorCode]int
	samples    []*PipelineError
	maxSamples int
}

// NewRowErrorCollector creates a collector keeping at most maxSamples errors
func NewRowErrorCollector(maxSamples int) *RowErrorCollector {
	if maxSamples < 0 {
		maxSamples = 0
	}
	return &RowErrorCollector{
		byCategory: make(map[ErrorCategory]int),
		byCode:     make(map[ErrorCode]int),
		maxSamples: maxSamples,
	}
}

// Add records err against the given source line (0 when unknown)
func (c *RowErrorCollector) Add(line int, err *PipelineError) {
	if err == nil {
		return
	}
	if line > 0 {
		err.WithContext("line", line)
	}

	c.total++
	c.byCategory[err.Category]++
	c.byCode[err.Code]++
	if len(c.samples) < c.maxSamples {
		c.samples = append(c.samples, err)
	}
}

// Total returns the number of errors recorded
func (c *RowErrorCollector) Total() int {
	return c.total
}

// Count returns the number of errors recorded with the given code
func (c *RowErrorCollector) Count(code ErrorCode) int {
	return c.byCode[code]
}

// Samples returns the retained errors
func (c *RowErrorCollector) Samples() []*PipelineError {
	out := make([]*PipelineError, len(c.samples))
	copy(out, c.samples)
	return out
}

// Summary returns an ErrorSummary whose totals cover every recorded error
func (c *RowErrorCollector) Summary() *ErrorSummary {
	summary := NewErrorSummary(c.Samples())
	summary.Total = c.total
	for k, v := range c.byCategory {
		summary.ByCategory[k] = v
	}
	for k, v := range c.byCode {
		summary.ByCode[k] = v
	}
	return summary
}

// FormatSummary renders a summary for terminal output
func FormatSummary(summary *ErrorSummary) string {
	if summary == nil || summary.Total == 0 {
		return "No row errors"
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("%d rows rejected:", summary.Total))
	codes := make([]string, 0, len(summary.ByCode))
	for code := range summary.ByCode {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)
	for _, code := range codes {
		lines = append(lines, fmt.Sprintf("  %-24s %d", code, summary.ByCode[ErrorCode(code)]))
	}
	if len(summary.SampleErrors) > 0 {
		lines = append(lines, "Examples:")
		for _, err := range summary.SampleErrors {
			line := ""
			if l, ok := err.Context["line"]; ok {
				line = fmt.Sprintf("line %v: ", l)
			}
			lines = append(lines, "  "+line+err.Message)
		}
	}
	return strings.Join(lines, "\n")
}
