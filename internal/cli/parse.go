package cli

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"loop/internal/exitcode"
	"loop/internal/loop"
)

// durationUnits are the unit suffixes accepted by ParseDuration in
// addition to Go's own syntax. Months and years use the average lengths.
var durationUnits = map[string]time.Duration{
	"nsec": time.Nanosecond, "ns": time.Nanosecond,
	"usec": time.Microsecond, "us": time.Microsecond, "µs": time.Microsecond,
	"msec": time.Millisecond, "ms": time.Millisecond,
	"seconds": time.Second, "second": time.Second, "sec": time.Second, "s": time.Second,
	"minutes": time.Minute, "minute": time.Minute, "min": time.Minute, "m": time.Minute,
	"hours": time.Hour, "hour": time.Hour, "hr": time.Hour, "h": time.Hour,
	"days": 24 * time.Hour, "day": 24 * time.Hour, "d": 24 * time.Hour,
	"weeks": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "w": 7 * 24 * time.Hour,
	"months": 2_630_016 * time.Second, "month": 2_630_016 * time.Second, "M": 2_630_016 * time.Second,
	"years": 31_557_600 * time.Second, "year": 31_557_600 * time.Second, "y": 31_557_600 * time.Second,
}

// ParseDuration accepts Go durations ("1h30m", "1.5s") and the free-form
// style "1h 1m 1s 1ms 1us", "2days", "1week".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return d, nil
	}

	var total time.Duration
	rest := s
	for rest != "" {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		if rest == "" {
			break
		}

		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("invalid duration %q: expected number at %q", s, rest)
		}
		n, err := strconv.ParseInt(rest[:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		rest = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)

		j := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsLetter(r) })
		if j < 0 {
			j = len(rest)
		}
		if j == 0 {
			return 0, fmt.Errorf("invalid duration %q: missing unit after %d", s, n)
		}
		unit, ok := durationUnits[rest[:j]]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, rest[:j])
		}
		rest = rest[j:]

		if n > math.MaxInt64/int64(unit) || total > math.MaxInt64-time.Duration(n)*unit {
			return 0, fmt.Errorf("invalid duration %q: overflow", s)
		}
		total += time.Duration(n) * unit
	}
	return total, nil
}

// untilTimeLayouts are tried in order. Inputs without a zone are UTC;
// fractional seconds are accepted after the seconds field by every layout.
var untilTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseUntilTime parses an RFC 3339 timestamp, also accepting a space
// instead of "T" and a missing zone.
func ParseUntilTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range untilTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: expected e.g. \"2018-04-20 04:20:00\"", s)
}

// SplitItems splits a --for value. The separator is the first of newline,
// comma, space that occurs in the value; the others are kept verbatim.
func SplitItems(s string) []string {
	switch {
	case strings.Contains(s, "\n"):
		return strings.Split(s, "\n")
	case strings.Contains(s, ","):
		return strings.Split(s, ",")
	default:
		return strings.Split(s, " ")
	}
}

// untilErrorAny is the value a bare --until-error receives.
const untilErrorAny = "any"

// ParseUntilError turns a --until-error value into a predicate. A value
// that is not a non-negative integer falls back to the generic error code.
func ParseUntilError(s string) loop.UntilError {
	s = strings.TrimSpace(s)
	if s == untilErrorAny {
		return loop.AnyError()
	}
	n, err := strconv.ParseUint(s, 10, 31)
	if err != nil {
		return loop.ErrorCode(exitcode.Error)
	}
	return loop.ErrorCode(exitcode.FromInt(int(n)))
}

// readLines returns every line of r without line terminators.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimSuffix(sc.Text(), "\r"))
	}
	return lines, sc.Err()
}
