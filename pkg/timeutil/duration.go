package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var isoDurationPart = regexp.MustCompile(`(\d+)([HMS])`)

// ParseISODuration parses the time part of an ISO 8601 duration (PT1H30M),
// which is how Taskwarrior exports duration UDAs.
func ParseISODuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if len(s) < 2 || s[0] != 'P' {
		return 0, fmt.Errorf("invalid ISO 8601 duration format: %s", s)
	}
	s = s[1:]
	if len(s) == 0 || s[0] != 'T' {
		return 0, fmt.Errorf("invalid ISO 8601 duration (missing T): P%s", s)
	}
	s = s[1:]

	var total time.Duration
	for _, match := range isoDurationPart.FindAllStringSubmatch(s, -1) {
		value, _ := strconv.Atoi(match[1])
		switch match[2] {
		case "H":
			total += time.Duration(value) * time.Hour
		case "M":
			total += time.Duration(value) * time.Minute
		case "S":
			total += time.Duration(value) * time.Second
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("invalid ISO 8601 duration: PT%s", s)
	}
	return total, nil
}

// ParseEffort parses an Org-mode effort value: "H:MM" or plain minutes.
func ParseEffort(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if h, m, ok := strings.Cut(s, ":"); ok {
		hours, err := strconv.Atoi(h)
		if err != nil {
			return 0, fmt.Errorf("invalid effort %q: %w", s, err)
		}
		minutes, err := strconv.Atoi(m)
		if err != nil {
			return 0, fmt.Errorf("invalid effort %q: %w", s, err)
		}
		return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
	}
	minutes, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid effort %q: %w", s, err)
	}
	return time.Duration(minutes) * time.Minute, nil
}
