// Package daycount converts a date range into an elapsed-day count and a year
// fraction under a named day-count convention.
//
// The settlement engine treats this as a supplied service: every consumer
// depends on the Calculator interface, and Standard is the reference
// implementation wired by the server.
package daycount

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Convention names a day-count basis.
type Convention string

const (
	Act360     Convention = "ACT/360"
	Act365     Convention = "ACT/365F"
	Act365AFB  Convention = "ACT/365.25"
	Thirty360  Convention = "30/360"
	ThirtyE360 Convention = "30E/360"
	ActActISDA Convention = "ACT/ACT"
)

// ErrUnknownConvention is returned for a convention the calculator does not support.
var ErrUnknownConvention = errors.New("daycount: unknown convention")

// Calculator is the day-count collaborator consumed by the engine.
type Calculator interface {
	Days(conv Convention, start, end time.Time) (int, error)
	YearFraction(conv Convention, start, end time.Time) (decimal.Decimal, error)
}

// Standard implements the usual money-market and bond conventions.
type Standard struct{}

var (
	d360  = decimal.NewFromInt(360)
	d365  = decimal.NewFromInt(365)
	d366  = decimal.NewFromInt(366)
	d3655 = decimal.RequireFromString("365.25")
)

// Days returns the day count between start and end. Reversed ranges give a
// negative count.
func (Standard) Days(conv Convention, start, end time.Time) (int, error) {
	switch conv {
	case Act360, Act365, Act365AFB, ActActISDA:
		return actualDays(start, end), nil
	case Thirty360:
		return days360US(start, end), nil
	case ThirtyE360:
		return days360E(start, end), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownConvention, conv)
	}
}

// YearFraction returns the fraction of a year between start and end.
func (s Standard) YearFraction(conv Convention, start, end time.Time) (decimal.Decimal, error) {
	switch conv {
	case Act360:
		return decimal.NewFromInt(int64(actualDays(start, end))).Div(d360), nil
	case Act365:
		return decimal.NewFromInt(int64(actualDays(start, end))).Div(d365), nil
	case Act365AFB:
		return decimal.NewFromInt(int64(actualDays(start, end))).Div(d3655), nil
	case Thirty360:
		return decimal.NewFromInt(int64(days360US(start, end))).Div(d360), nil
	case ThirtyE360:
		return decimal.NewFromInt(int64(days360E(start, end))).Div(d360), nil
	case ActActISDA:
		return actActISDA(start, end), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownConvention, conv)
	}
}

// Date truncates t to a UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func actualDays(start, end time.Time) int {
	return int(Date(end).Sub(Date(start)).Hours() / 24)
}

// days360US applies the 30/360 U.S. (bond basis) rules:
//   - d1 == 31 → 30
//   - d2 == 31 && d1 >= 30 → 30
func days360US(start, end time.Time) int {
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	if d1 == 31 {
		d1 = 30
	}
	if d2 == 31 && d1 >= 30 {
		d2 = 30
	}
	return (y2-y1)*360 + int(m2-m1)*30 + (d2 - d1)
}

// days360E applies 30E/360: both day-of-month values are capped at 30.
func days360E(start, end time.Time) int {
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	if d1 == 31 {
		d1 = 30
	}
	if d2 == 31 {
		d2 = 30
	}
	return (y2-y1)*360 + int(m2-m1)*30 + (d2 - d1)
}

// actActISDA splits the range at year boundaries and divides each piece by
// the length of its own year.
func actActISDA(start, end time.Time) decimal.Decimal {
	start, end = Date(start), Date(end)
	sign := decimal.NewFromInt(1)
	if end.Before(start) {
		start, end = end, start
		sign = sign.Neg()
	}
	total := decimal.Zero
	for start.Before(end) {
		next := time.Date(start.Year()+1, 1, 1, 0, 0, 0, 0, time.UTC)
		if next.After(end) {
			next = end
		}
		base := d365
		if yearDays(start.Year()) == 366 {
			base = d366
		}
		total = total.Add(decimal.NewFromInt(int64(actualDays(start, next))).Div(base))
		start = next
	}
	return total.Mul(sign)
}

func yearDays(y int) int {
	if y%4 != 0 {
		return 365
	}
	if y%100 != 0 {
		return 366
	}
	if y%400 == 0 {
		return 366
	}
	return 365
}
