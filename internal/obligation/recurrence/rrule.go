// Package recurrence parses the RFC 5545 RRULE subset accepted on requests
// and computes the due date of the next occurrence.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Yearly
)

var freqByName = map[string]Freq{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
	"YEARLY":  Yearly,
}

var weekdayByCode = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// Rule is a parsed recurrence rule.
type Rule struct {
	Freq       Freq
	Interval   int
	ByDay      []time.Weekday // WEEKLY only; empty means the anchor's weekday
	ByMonthDay int            // MONTHLY only; 0 means the anchor's day
	Count      int
	Until      *time.Time
}

// Parse reads a rule such as "FREQ=MONTHLY;BYMONTHDAY=1;COUNT=12". An
// optional "RRULE:" prefix is accepted.
func Parse(raw string) (Rule, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	if raw == "" {
		return Rule{}, fmt.Errorf("empty rule")
	}

	r := Rule{Interval: 1}
	seenFreq := false
	for _, part := range strings.Split(raw, ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok || val == "" {
			return Rule{}, fmt.Errorf("malformed part %q", part)
		}
		switch strings.ToUpper(key) {
		case "FREQ":
			f, ok := freqByName[strings.ToUpper(val)]
			if !ok {
				return Rule{}, fmt.Errorf("unsupported FREQ %q", val)
			}
			r.Freq, seenFreq = f, true
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("invalid INTERVAL %q", val)
			}
			r.Interval = n
		case "BYDAY":
			for _, code := range strings.Split(val, ",") {
				wd, ok := weekdayByCode[strings.ToUpper(strings.TrimSpace(code))]
				if !ok {
					return Rule{}, fmt.Errorf("invalid BYDAY %q", code)
				}
				r.ByDay = append(r.ByDay, wd)
			}
		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 31 {
				return Rule{}, fmt.Errorf("invalid BYMONTHDAY %q", val)
			}
			r.ByMonthDay = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("invalid COUNT %q", val)
			}
			r.Count = n
		case "UNTIL":
			t, err := parseUntil(val)
			if err != nil {
				return Rule{}, err
			}
			r.Until = &t
		default:
			return Rule{}, fmt.Errorf("unsupported key %q", key)
		}
	}
	if !seenFreq {
		return Rule{}, fmt.Errorf("FREQ is required")
	}
	if r.Count > 0 && r.Until != nil {
		return Rule{}, fmt.Errorf("COUNT and UNTIL are mutually exclusive")
	}
	if len(r.ByDay) > 0 && r.Freq != Weekly {
		return Rule{}, fmt.Errorf("BYDAY requires FREQ=WEEKLY")
	}
	if r.ByMonthDay > 0 && r.Freq != Monthly {
		return Rule{}, fmt.Errorf("BYMONTHDAY requires FREQ=MONTHLY")
	}
	return r, nil
}

func parseUntil(val string) (time.Time, error) {
	for _, layout := range []string{"20060102T150405Z", "20060102"} {
		if t, err := time.Parse(layout, val); err == nil {
			if layout == "20060102" {
				t = t.Add(24*time.Hour - time.Second)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid UNTIL %q", val)
}

func (r Rule) String() string {
	parts := []string{"FREQ=" + freqName(r.Freq)}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if len(r.ByDay) > 0 {
		codes := make([]string, 0, len(r.ByDay))
		for _, d := range r.ByDay {
			codes = append(codes, strings.ToUpper(d.String()[:2]))
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	}
	if r.ByMonthDay > 0 {
		parts = append(parts, "BYMONTHDAY="+strconv.Itoa(r.ByMonthDay))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format("20060102T150405Z"))
	}
	return strings.Join(parts, ";")
}

func freqName(f Freq) string {
	for name, v := range freqByName {
		if v == f {
			return name
		}
	}
	return ""
}

// Next returns the first occurrence strictly after prev, where prev is itself
// an occurrence of the series.
func (r Rule) Next(prev time.Time) time.Time {
	interval := max(r.Interval, 1)
	switch r.Freq {
	case Daily:
		return prev.AddDate(0, 0, interval)
	case Weekly:
		return r.nextWeekly(prev, interval)
	case Monthly:
		day := r.ByMonthDay
		if day == 0 {
			day = prev.Day()
		}
		return clampedDate(prev.Year(), prev.Month()+time.Month(interval), day, prev)
	default:
		return clampedDate(prev.Year()+interval, prev.Month(), prev.Day(), prev)
	}
}

func (r Rule) nextWeekly(prev time.Time, interval int) time.Time {
	if len(r.ByDay) == 0 {
		return prev.AddDate(0, 0, 7*interval)
	}
	// weeks start on Monday
	offset := (int(prev.Weekday()) + 6) % 7
	for d := offset + 1; d < 7; d++ {
		if r.hasDay(time.Weekday((d + 1) % 7)) {
			return prev.AddDate(0, 0, d-offset)
		}
	}
	weekStart := prev.AddDate(0, 0, 7*interval-offset)
	for d := 0; d < 7; d++ {
		if r.hasDay(time.Weekday((d + 1) % 7)) {
			return weekStart.AddDate(0, 0, d)
		}
	}
	return weekStart
}

func (r Rule) hasDay(wd time.Weekday) bool {
	for _, d := range r.ByDay {
		if d == wd {
			return true
		}
	}
	return false
}

// clampedDate builds a date keeping the clock of ref and pulling day back to
// the last day of a short month.
func clampedDate(year int, month time.Month, day int, ref time.Time) time.Time {
	first := time.Date(year, month, 1, ref.Hour(), ref.Minute(), ref.Second(), ref.Nanosecond(), ref.Location())
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(day, last)-1)
}

// EndAt returns the last moment the series may produce an occurrence when
// anchored at start: the COUNT-th occurrence or UNTIL. ok is false for an
// unbounded rule.
func (r Rule) EndAt(start time.Time) (end time.Time, ok bool) {
	switch {
	case r.Until != nil:
		return *r.Until, true
	case r.Count > 0:
		end = start
		for i := 1; i < r.Count; i++ {
			end = r.Next(end)
		}
		return end, true
	}
	return time.Time{}, false
}
