package commission

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FiscalYearStartMonth is the first month of every fiscal year.
const FiscalYearStartMonth = time.April

// FiscalYear identifies a fiscal year by the two-digit calendar year it starts in, e.g. "FY24".
type FiscalYear string

// FiscalYearOf returns the fiscal year containing date.
// This is the only fiscal year derivation; invoice numbering, filing locks and
// reports all go through it.
func FiscalYearOf(date time.Time) FiscalYear {
	year := date.Year()
	if date.Month() < FiscalYearStartMonth {
		year--
	}
	return fiscalYearFromStart(year)
}

func fiscalYearFromStart(year int) FiscalYear {
	return FiscalYear(fmt.Sprintf("FY%02d", year%100))
}

// ParseFiscalYear parses "FY24" (case-insensitive).
func ParseFiscalYear(s string) (FiscalYear, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 4 || !strings.HasPrefix(s, "FY") {
		return "", &InputError{Field: "fiscal_year", Value: s, Reason: "expected format FYxx"}
	}
	if _, err := strconv.Atoi(s[2:]); err != nil {
		return "", &InputError{Field: "fiscal_year", Value: s, Reason: "expected format FYxx"}
	}
	return FiscalYear(s), nil
}

// StartYear returns the calendar year the fiscal year starts in (2000-2099).
func (fy FiscalYear) StartYear() int {
	n, _ := strconv.Atoi(string(fy)[2:])
	return 2000 + n
}

// Start is April 1 of the starting year.
func (fy FiscalYear) Start() time.Time {
	return time.Date(fy.StartYear(), FiscalYearStartMonth, 1, 0, 0, 0, 0, time.UTC)
}

// End is March 31 of the following year.
func (fy FiscalYear) End() time.Time {
	return fy.Start().AddDate(1, 0, -1)
}

// Periods returns the twelve filing periods of the fiscal year, April first.
func (fy FiscalYear) Periods() []Period {
	periods := make([]Period, 0, 12)
	start := fy.Start()
	for i := 0; i < 12; i++ {
		periods = append(periods, PeriodOf(start.AddDate(0, i, 0)))
	}
	return periods
}

func (fy FiscalYear) String() string { return string(fy) }
