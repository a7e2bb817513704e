package transcript

import "fmt"

// formatTimestamp renders seconds as an SRT-style timestamp. The hour
// field is omitted when zero unless alwaysIncludeHours is set.
// Milliseconds are rounded, not truncated.
func formatTimestamp(seconds float64, alwaysIncludeHours bool, decimalMarker string) string {
	if seconds < 0 {
		seconds = 0
	}
	milliseconds := int64(seconds*1000.0 + 0.5)

	hours := milliseconds / 3_600_000
	milliseconds -= hours * 3_600_000

	minutes := milliseconds / 60_000
	milliseconds -= minutes * 60_000

	secs := milliseconds / 1_000
	milliseconds -= secs * 1_000

	hoursMarker := ""
	if alwaysIncludeHours || hours > 0 {
		hoursMarker = fmt.Sprintf("%02d:", hours)
	}
	return fmt.Sprintf("%s%02d:%02d%s%03d", hoursMarker, minutes, secs, decimalMarker, milliseconds)
}
