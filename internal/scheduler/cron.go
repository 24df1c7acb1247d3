package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	maxCronMinute = 59

	oneMinute   = 60
	fiveMinutes = 300
	oneHour     = 3600
	oneDay      = 86400
)

// MapRefreshToCron turns a refresh interval in seconds into a cron
// expression anchored at now. Intervals over a day run weekly.
func MapRefreshToCron(refreshInterval int, now time.Time) string {
	switch {
	case refreshInterval <= oneMinute:
		return "* * * * *"
	case refreshInterval <= fiveMinutes:
		return fmt.Sprintf("%d %s * * * *", now.Second(), computeMinutes(now))
	case refreshInterval <= oneHour:
		return fmt.Sprintf("%d * * * *", now.Minute())
	case refreshInterval <= oneDay:
		return fmt.Sprintf("%d %d * * *", now.Minute(), now.Hour())
	}
	return fmt.Sprintf("%d %d * * %d", now.Minute(), now.Hour(), int(now.Weekday()))
}

func computeMinutes(now time.Time) string {
	var minutes []string
	for minute := now.Minute() % 5; minute < maxCronMinute; minute += 5 {
		minutes = append(minutes, strconv.Itoa(minute))
	}
	return strings.Join(minutes, ",")
}
