package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidTime  = errors.New("invalid time of day")
	ErrSessionOrder = errors.New("session end is not after its start")
)

var clockLayouts = []string{
	"3:04 PM",
	"3:04PM",
	"03:04 PM",
	"3:04:05 PM",
	"3:04:05PM",
	"15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"1/2/2006 3:04:05 PM",
}

// ParseTimeOfDay places a time-of-day string on date. It accepts clock strings
// ("8:00 AM", "14:30") and bare 3-4 digit 24-hour values ("830", "1430"); "2400"
// and "24:00" mean the first instant of the next day.
func ParseTimeOfDay(date time.Time, raw string) (time.Time, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTime)
	}
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, date.Location())

	if digits, ok := bareClock(s); ok {
		s = digits
	}
	if !isDigits(s) {
		for _, layout := range clockLayouts {
			t, err := time.Parse(layout, s)
			if err != nil {
				continue
			}
			return day.Add(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), nil
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}

	if len(s) < 3 || len(s) > 4 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	s = strings.Repeat("0", 4-len(s)) + s
	hour, _ := strconv.Atoi(s[:2])
	minute, _ := strconv.Atoi(s[2:])
	if hour == 24 && minute == 0 {
		return day.AddDate(0, 0, 1), nil
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), nil
}

// SessionMinutes returns the minutes between start and end on date. Unparseable
// input or an end that is not after the start yields zero minutes and a non-nil
// error naming the problem; the caller records it and keeps going.
func SessionMinutes(log *logrus.Entry, sessionRef string, date time.Time, start, end string) (int, error) {
	from, err := ParseTimeOfDay(date, start)
	if err != nil {
		log.WithFields(logrus.Fields{"session": sessionRef, "start": start}).WithError(err).Warn("harvest.session.start_unparseable")
		return 0, errors.Wrap(err, "start")
	}
	to, err := ParseTimeOfDay(date, end)
	if err != nil {
		log.WithFields(logrus.Fields{"session": sessionRef, "end": end}).WithError(err).Warn("harvest.session.end_unparseable")
		return 0, errors.Wrap(err, "end")
	}
	if !to.After(from) {
		log.WithFields(logrus.Fields{"session": sessionRef, "start": start, "end": end}).Warn("harvest.session.end_not_after_start")
		return 0, fmt.Errorf("%w: %q-%q", ErrSessionOrder, start, end)
	}
	return int(to.Sub(from) / time.Minute), nil
}

// minutesToHours rounds once, half away from zero, after all sessions are summed.
func minutesToHours(minutes int) int {
	return int(decimal.NewFromInt(int64(minutes)).Div(decimal.NewFromInt(60)).Round(0).IntPart())
}

// bareClock turns "H:MM"/"HH:MM" into digits so 24-hour clock strings share the numeric path.
func bareClock(s string) (string, bool) {
	i := strings.IndexByte(s, ':')
	if i < 1 || i > 2 || len(s) != i+3 {
		return "", false
	}
	digits := s[:i] + s[i+1:]
	if !isDigits(digits) {
		return "", false
	}
	return digits, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
