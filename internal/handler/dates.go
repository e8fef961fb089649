package handler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeDate = regexp.MustCompile(`^([+-]?)((?:\d+[wdhm]\s*)+)$`)
var relativePart = regexp.MustCompile(`(\d+)([wdhm])`)

// ParseRelative parses a relative period such as "-1w", "2d" or "-4h 30m".
func ParseRelative(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	m := relativeDate.FindStringSubmatch(s)
	if m == nil {
		return 0, errors.New("not a relative period")
	}
	var d time.Duration
	for _, part := range relativePart.FindAllStringSubmatch(m[2], -1) {
		n, err := strconv.Atoi(part[1])
		if err != nil {
			return 0, err
		}
		unit := time.Minute
		switch part[2] {
		case "w":
			unit = 7 * 24 * time.Hour
		case "d":
			unit = 24 * time.Hour
		case "h":
			unit = time.Hour
		}
		d += time.Duration(n) * unit
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

var dateOnlyLayouts = []string{"2006-01-02", "2006/01/02"}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	"2006-01-02 15:04:05",
}

// dateValue is a parsed date operand. DateOnly values cover a whole day.
type dateValue struct {
	Time     time.Time
	DateOnly bool
}

// parseDate accepts relative periods (from now), dates and date-times in
// now's location.
func parseDate(s string, now time.Time) (dateValue, error) {
	s = strings.TrimSpace(s)
	if d, err := ParseRelative(s); err == nil {
		return dateValue{Time: now.Add(d)}, nil
	}
	loc := now.Location()
	for _, layout := range dateOnlyLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return dateValue{Time: t, DateOnly: true}, nil
		}
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return dateValue{Time: t}, nil
		}
	}
	return dateValue{}, fmt.Errorf("date value %q is not a valid date, date-time or period such as -1d", s)
}

// bounds returns the half-open interval [start, end) a value covers.
func (v dateValue) bounds() (time.Time, time.Time) {
	if v.DateOnly {
		return v.Time, v.Time.AddDate(0, 0, 1)
	}
	return v.Time, v.Time.Add(time.Millisecond)
}
