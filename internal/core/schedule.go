package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseTimeOfDay validates an "HH:MM" clock time.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("time must be in HH:MM format, got %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("hour must be 0-23, got %q", parts[0])
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("minute must be 0-59, got %q", parts[1])
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseDays validates a comma-separated weekday list ("1,2,3", Sunday=0).
// An empty string means every day and returns nil.
func ParseDays(value string) ([]int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	seen := make(map[int]struct{})
	var days []int
	for _, token := range strings.Split(trimmed, ",") {
		day, err := strconv.Atoi(strings.TrimSpace(token))
		if err != nil || day < 0 || day > 6 {
			return nil, fmt.Errorf("day tokens must be 0-6, got %q", token)
		}
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	sort.Ints(days)
	return days, nil
}

// FormatDays renders a weekday set back into its stored comma form.
func FormatDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	tokens := make([]string, 0, len(days))
	for _, d := range days {
		tokens = append(tokens, strconv.Itoa(d))
	}
	return strings.Join(tokens, ",")
}

// CronSpec compiles a clock time plus optional weekday set into a 5-field
// cron expression.
func CronSpec(t TimeOfDay, days []int) string {
	dow := "*"
	if len(days) > 0 {
		dow = FormatDays(days)
	}
	return fmt.Sprintf("%d %d * * %s", t.Minute, t.Hour, dow)
}

// ParseCron ensures the expression is a valid 5-field cron definition and
// returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		times = append(times, next)
	}
	return times
}
