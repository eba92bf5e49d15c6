package extract

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// dateLayouts lists accepted date-or-datetime forms, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseBool parses "true"/"false" (case-insensitive). Empty input is an error;
// callers decide whether the field is optional before calling.
func ParseBool(raw, field string) (bool, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return false, eris.Errorf("missing value for %q", field)
	}
	switch strings.ToLower(v) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, eris.Errorf("invalid value for %q: %q, expected true/false", field, raw)
}

// ParseDate parses a date or full timestamp and truncates it to the calendar
// date in UTC. Empty input yields nil.
func ParseDate(raw, field string) (*time.Time, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d, nil
	}
	return nil, eris.Errorf("invalid date in %q: %q, expected YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS", field, raw)
}

// ParseDecimal parses a decimal number. A comma decimal separator is accepted.
func ParseDecimal(raw, field string) (decimal.Decimal, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return decimal.Zero, eris.Errorf("missing value for %q", field)
	}
	d, err := decimal.NewFromString(strings.Replace(v, ",", ".", 1))
	if err != nil {
		return decimal.Zero, eris.Errorf("invalid decimal in %q: %q", field, raw)
	}
	return d, nil
}
