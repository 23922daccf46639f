// Package billing computes billing-cycle periods and charges for a patient's
// treatment plan. Everything here is pure; persistence lives in the endpoints.
package billing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/model"
)

const DateLayout = "2006-01-02"

// MaxPeriods bounds PeriodsBetween (ten years of weekly cycles).
const MaxPeriods = 520

var (
	ErrInvalidFrequency = errors.New("billing: invalid frequency")
	ErrInvalidDate      = errors.New("billing: invalid date")
	ErrBeforeAnchor     = errors.New("billing: date is before the billing anchor")
	ErrNotCalendar      = errors.New("billing: session-count cycles have no calendar periods")
	ErrInvalidRange     = errors.New("billing: invalid date range")
	ErrTooManyPeriods   = errors.New("billing: range spans too many periods")
	ErrInvalidCycleSize = errors.New("billing: sessions per cycle must be at least 1")
	ErrNegativeAmount   = errors.New("billing: negative sessions or fee")
)

// Period is an inclusive date range [Start, End] at UTC midnight.
type Period struct {
	Index int       `json:"index"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t's calendar date falls inside p.
func (p Period) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days is the number of calendar days in p, counting both ends.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

// StartDate and EndDate format the bounds as YYYY-MM-DD.
func (p Period) StartDate() string { return p.Start.Format(DateLayout) }
func (p Period) EndDate() string   { return p.End.Format(DateLayout) }

// ParseDate parses YYYY-MM-DD into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// ParseFrequency validates a billing frequency string.
func ParseFrequency(s string) (model.BillingFrequency, error) {
	f := model.BillingFrequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case model.FrequencyWeekly, model.FrequencyBiweekly, model.FrequencyMonthly, model.FrequencySessions:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// addMonthsClamped moves anchor forward n months keeping its day of month,
// clamped to the target month's last day.
func addMonthsClamped(anchor time.Time, n int) time.Time {
	y, m, d := anchor.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func periodStart(anchor time.Time, freq model.BillingFrequency, index int) time.Time {
	switch freq {
	case model.FrequencyWeekly:
		return anchor.AddDate(0, 0, 7*index)
	case model.FrequencyBiweekly:
		return anchor.AddDate(0, 0, 14*index)
	default:
		return addMonthsClamped(anchor, index)
	}
}

func checkCalendar(anchor time.Time, freq model.BillingFrequency) error {
	if anchor.IsZero() {
		return fmt.Errorf("%w: zero anchor", ErrInvalidDate)
	}
	switch freq {
	case model.FrequencyWeekly, model.FrequencyBiweekly, model.FrequencyMonthly:
		return nil
	case model.FrequencySessions:
		return ErrNotCalendar
	}
	return fmt.Errorf("%w: %q", ErrInvalidFrequency, freq)
}

// PeriodAt returns the index-th (0-based) calendar period after anchor.
// Monthly periods are always derived from the anchor's day, so Jan 31 gives
// Feb 28 (or 29) and then Mar 31.
func PeriodAt(anchor time.Time, freq model.BillingFrequency, index int) (Period, error) {
	if err := checkCalendar(anchor, freq); err != nil {
		return Period{}, err
	}
	if index < 0 {
		return Period{}, fmt.Errorf("%w: negative index %d", ErrInvalidRange, index)
	}
	anchor = truncateDay(anchor)
	start := periodStart(anchor, freq, index)
	next := periodStart(anchor, freq, index+1)
	return Period{Index: index, Start: start, End: next.AddDate(0, 0, -1)}, nil
}

// PeriodFor returns the calendar period containing date.
func PeriodFor(anchor time.Time, freq model.BillingFrequency, date time.Time) (Period, error) {
	if err := checkCalendar(anchor, freq); err != nil {
		return Period{}, err
	}
	anchor = truncateDay(anchor)
	date = truncateDay(date)
	if date.Before(anchor) {
		return Period{}, ErrBeforeAnchor
	}

	var index int
	switch freq {
	case model.FrequencyWeekly:
		index = int(date.Sub(anchor).Hours()/24) / 7
	case model.FrequencyBiweekly:
		index = int(date.Sub(anchor).Hours()/24) / 14
	default:
		index = (date.Year()-anchor.Year())*12 + int(date.Month()-anchor.Month())
		// the clamped start may still be after date within the same calendar month
		for index > 0 && addMonthsClamped(anchor, index).After(date) {
			index--
		}
	}
	return PeriodAt(anchor, freq, index)
}

// PeriodsBetween lists every period overlapping [from, to]. Dates before the
// anchor are ignored.
func PeriodsBetween(anchor time.Time, freq model.BillingFrequency, from, to time.Time) ([]Period, error) {
	if err := checkCalendar(anchor, freq); err != nil {
		return nil, err
	}
	anchor = truncateDay(anchor)
	from = truncateDay(from)
	to = truncateDay(to)
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	if to.Before(anchor) {
		return []Period{}, nil
	}
	if from.Before(anchor) {
		from = anchor
	}

	first, err := PeriodFor(anchor, freq, from)
	if err != nil {
		return nil, err
	}
	periods := []Period{first}
	for cur := first; cur.End.Before(to); {
		if len(periods) >= MaxPeriods {
			return nil, ErrTooManyPeriods
		}
		cur, err = PeriodAt(anchor, freq, cur.Index+1)
		if err != nil {
			return nil, err
		}
		periods = append(periods, cur)
	}
	return periods, nil
}

// SessionCycle is a session-count billing cycle.
type SessionCycle struct {
	Period
	Sessions []time.Time `json:"sessions"`
	Complete bool        `json:"complete"`
}

// GroupSessions sorts session dates and chunks them into cycles of perCycle
// sessions. Each cycle spans its first..last session date; the final cycle
// may be partial.
func GroupSessions(dates []time.Time, perCycle int) ([]SessionCycle, error) {
	if perCycle < 1 {
		return nil, ErrInvalidCycleSize
	}
	sorted := make([]time.Time, len(dates))
	for i, d := range dates {
		sorted[i] = truncateDay(d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	cycles := make([]SessionCycle, 0, (len(sorted)+perCycle-1)/perCycle)
	for i := 0; i < len(sorted); i += perCycle {
		end := i + perCycle
		if end > len(sorted) {
			end = len(sorted)
		}
		chunk := sorted[i:end]
		cycles = append(cycles, SessionCycle{
			Period: Period{
				Index: len(cycles),
				Start: chunk[0],
				End:   chunk[len(chunk)-1],
			},
			Sessions: chunk,
			Complete: len(chunk) == perCycle,
		})
	}
	return cycles, nil
}

// Charge is sessions × fee rounded to cents.
func Charge(sessions int, fee float64) (float64, error) {
	if sessions < 0 || fee < 0 {
		return 0, ErrNegativeAmount
	}
	return RoundCents(float64(sessions) * fee), nil
}

// RoundCents rounds half away from zero to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// DueDate is the period end plus graceDays.
func DueDate(p Period, graceDays int) time.Time {
	if graceDays < 0 {
		graceDays = 0
	}
	return p.End.AddDate(0, 0, graceDays)
}
