// Package temporal detects relative time references in query text and
// resolves them to absolute date ranges.
//
// Parsing is deterministic and performs no I/O. The reference timezone is
// the location attached to the caller-supplied "now" value, never the
// server's local zone; callers resolve the user's timezone before calling
// Parse. All boundaries are computed at millisecond precision:
// start-of-day is 00:00:00.000 and end-of-day is 23:59:59.999.
package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Range is an inclusive absolute date range.
type Range struct {
	Start time.Time
	End   time.Time
}

// Intent is the result of relative-time detection for a query.
// When HasIntent is false, Range and Label are zero values and must be
// ignored by callers.
type Intent struct {
	HasIntent bool
	Range     Range
	Label     string
}

// daysAgoPattern matches phrases like "3 days ago" or "14 day ago".
var daysAgoPattern = regexp.MustCompile(`(\d+)\s*days?\s*ago`)

// Parse detects the first relative-time phrase in text and resolves it
// against now. Patterns are checked in a fixed priority order, so a query
// containing both "yesterday" and "last week" resolves to yesterday.
// "day before yesterday" is checked ahead of "yesterday" because the
// shorter phrase occurs inside the longer one; the phrases are otherwise
// mutually exclusive, so the relative order carries no other meaning.
//
// Recognized phrases: today, yesterday, day before yesterday, N days ago,
// this week, last week, this month, last month, this year. Weeks start on
// Sunday. Current periods ("this week", "this month", "this year") are
// clipped to end-of-day on now; past periods ("last week", "last month")
// cover the full calendar period. This asymmetry is intentional: there is
// no user activity in the rest of the current period yet.
func Parse(text string, now time.Time) Intent {
	lower := strings.ToLower(text)

	switch {
	case containsWord(lower, "today"):
		return dayIntent(now, "today")

	case strings.Contains(lower, "day before yesterday"):
		return dayIntent(now.AddDate(0, 0, -2), "day before yesterday")

	case containsWord(lower, "yesterday"):
		return dayIntent(now.AddDate(0, 0, -1), "yesterday")

	case daysAgoPattern.MatchString(lower):
		m := daysAgoPattern.FindStringSubmatch(lower)
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return Intent{}
		}
		return dayIntent(now.AddDate(0, 0, -n), fmt.Sprintf("%d days ago", n))

	case strings.Contains(lower, "this week"):
		weekStart := startOfDay(now.AddDate(0, 0, -int(now.Weekday())))
		return rangeIntent(weekStart, endOfDay(now), "this week")

	case strings.Contains(lower, "last week"):
		thisWeekStart := startOfDay(now.AddDate(0, 0, -int(now.Weekday())))
		lastWeekStart := thisWeekStart.AddDate(0, 0, -7)
		lastWeekEnd := endOfDay(lastWeekStart.AddDate(0, 0, 6))
		return rangeIntent(lastWeekStart, lastWeekEnd, "last week")

	case strings.Contains(lower, "this month"):
		y, m, _ := now.Date()
		monthStart := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		return rangeIntent(monthStart, endOfDay(now), "this month")

	case strings.Contains(lower, "last month"):
		y, m, _ := now.Date()
		thisMonthStart := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		lastMonthStart := thisMonthStart.AddDate(0, -1, 0)
		lastMonthEnd := endOfDay(thisMonthStart.AddDate(0, 0, -1))
		return rangeIntent(lastMonthStart, lastMonthEnd, "last month")

	case strings.Contains(lower, "this year"):
		yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
		return rangeIntent(yearStart, endOfDay(now), "this year")
	}

	return Intent{}
}

// dayIntent builds a full-day range for the date of t.
// Querying "today" at 00:00:01 still yields the full current day.
func dayIntent(t time.Time, label string) Intent {
	return rangeIntent(startOfDay(t), endOfDay(t), label)
}

func rangeIntent(start, end time.Time, label string) Intent {
	return Intent{
		HasIntent: true,
		Range:     Range{Start: start, End: end},
		Label:     label,
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999_000_000, t.Location())
}

// containsWord reports whether lower contains word bounded by non-letters.
// Substring matching alone would let "day before yesterday" trip the
// "yesterday" check in callers that rely on the priority order.
func containsWord(lower, word string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		beforeOK := i == 0 || !isLetter(lower[i-1])
		after := i + len(word)
		afterOK := after == len(lower) || !isLetter(lower[after])
		if beforeOK && afterOK {
			return true
		}
		idx = i + 1
	}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
