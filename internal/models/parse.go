package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var missingMarkers = map[string]bool{
	"":     true,
	"nan":  true,
	"null": true,
	"n/a":  true,
	"none": true,
}

// IsMissing reports whether s is a missing-value marker: blank, NaN, NULL,
// N/A or None, compared case-insensitively.
func IsMissing(s string) bool {
	return missingMarkers[strings.ToLower(strings.TrimSpace(s))]
}

// dayFirstLayouts are tried in order. Single-digit day, month and hour
// fields are accepted by the non-padded layout elements.
var dayFirstLayouts = []string{
	"2-1-2006 15:04:05",
	"2-1-2006 15:04",
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"2.1.2006 15:04:05",
	"2.1.2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
}

// ParseDayFirstTimestamp combines a date and a time field into one UTC
// timestamp, reading the date day-first.
func ParseDayFirstTimestamp(date, clock string) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, fmt.Errorf("date and time are both required")
	}

	s := date + " " + clock
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp '%s'", s)
}

// ParseAmount parses a monetary value, stripping currency symbols,
// thousands separators and inner spaces.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := stripNumber(s)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return d, nil
}

// ParseAge parses an integral age between 0 and 150. A trailing ".0" is
// accepted since spreadsheet exports often write integers as floats.
func ParseAge(s string) (int, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("age '%s' is not a whole number", s)
	}
	age := d.IntPart()
	if age < 0 || age > 150 {
		return 0, fmt.Errorf("age %d out of range", age)
	}
	return int(age), nil
}

// ParseFraudFlag parses 0/1 or true/false.
func ParseFraudFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "1.0", "true", "t", "yes":
		return true, nil
	case "0", "0.0", "false", "f", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid fraud flag '%s'", s)
	}
}

func stripNumber(s string) string {
	r := strings.NewReplacer("$", "", ",", "", " ", "")
	return r.Replace(strings.TrimSpace(s))
}
