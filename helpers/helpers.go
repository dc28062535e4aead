package helpers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var durationRegex = regexp.MustCompile(`^(?P<years>\d+y)?(?P<days>\d+d)?(?P<hours>\d+h)?(?P<minutes>\d+m)?(?P<seconds>\d+s)?$`)

func PrettyDuration(d time.Duration) string {
	s := d.Round(time.Second).String()
	if strings.HasSuffix(s, "m0s") {
		s = s[:len(s)-2]
	}
	if strings.HasSuffix(s, "h0m") {
		s = s[:len(s)-2]
	}
	return s
}

// ParseDuration parses compact durations like "1d12h" or "5m". An empty
// string is a zero duration.
func ParseDuration(str string) (time.Duration, error) {
	str = strings.TrimSpace(str)
	matches := durationRegex.FindStringSubmatch(str)
	if matches == nil {
		return 0, fmt.Errorf("can't parse duration '%s'", str)
	}
	years := ParseInt64(matches[1])
	days := ParseInt64(matches[2])
	hours := ParseInt64(matches[3])
	minutes := ParseInt64(matches[4])
	seconds := ParseInt64(matches[5])

	hour := int64(time.Hour)
	minute := int64(time.Minute)
	second := int64(time.Second)
	duration := time.Duration(years*24*365*hour + days*24*hour + hours*hour + minutes*minute + seconds*second)
	return duration, nil
}

func ParseInt64(value string) int64 {
	if len(value) == 0 {
		return 0
	}
	parsed, err := strconv.Atoi(value[:len(value)-1])
	if err != nil {
		return 0
	}
	return int64(parsed)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func RecoverTo(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("recovered: %v", r)
	}
}
