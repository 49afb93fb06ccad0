package transcript

import (
	"fmt"
	"math"
)

const (
	secondsPerHour   = 3600
	secondsPerMinute = 60
)

type clock struct {
	hours, minutes, seconds, milliseconds int64
}

func splitSeconds(t float64) clock {
	if t < 0 || math.IsNaN(t) {
		t = 0
	}
	// small epsilon so values like 1.001 are not floored to 1.000
	totalMs := int64(math.Floor(t*1000 + 1e-6))

	c := clock{}
	c.hours = totalMs / (secondsPerHour * 1000)
	totalMs -= c.hours * secondsPerHour * 1000
	c.minutes = totalMs / (secondsPerMinute * 1000)
	totalMs -= c.minutes * secondsPerMinute * 1000
	c.seconds = totalMs / 1000
	c.milliseconds = totalMs - c.seconds*1000
	return c
}

// FormatAudioTimestamp renders seconds as MM:SS, or HH:MM:SS when the hour
// field is non-zero
func FormatAudioTimestamp(t float64) string {
	c := splitSeconds(t)
	if c.hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", c.hours, c.minutes, c.seconds)
	}
	return fmt.Sprintf("%02d:%02d", c.minutes, c.seconds)
}

// FormatSRTTimestamp renders seconds as HH:MM:SS,mmm
func FormatSRTTimestamp(t float64) string {
	c := splitSeconds(t)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", c.hours, c.minutes, c.seconds, c.milliseconds)
}

// FormatSRTTimeRange renders "start --> end" in SRT notation
func FormatSRTTimeRange(start, end float64) string {
	return FormatSRTTimestamp(start) + " --> " + FormatSRTTimestamp(end)
}
