// Package durafmt converts second counts into the display strings used in
// panels, reports, and spoken announcements. Durations here are always whole
// seconds; callers round before formatting.
package durafmt

import "fmt"

// Seconds formats a second count as "1h 5m 3s". Hours are omitted when zero,
// minutes are always shown. Negative input is treated as zero.
func Seconds(total int64) string {
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// Spoken formats a second count for the voice announcer, which drops the
// seconds component entirely: "1 hour 5 minutes" or "5 minutes".
func Spoken(total int64) string {
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%s %s", plural(hours, "hour"), plural(minutes, "minute"))
	}
	return plural(minutes, "minute")
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
