package calls

import (
	"fmt"
	"strings"
)

// FormatClock renders seconds as MM:SS. Minutes are not wrapped into hours,
// so 3725 renders as "62:05". Negative input renders as "00:00".
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatVerbose renders seconds as "1 h 2 min 5 sek", leaving out leading zero
// units. Zero renders as "0 sek".
func FormatVerbose(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := seconds % 3600 / 60
	s := seconds % 60

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%d h", h))
	}
	if h > 0 || m > 0 {
		parts = append(parts, fmt.Sprintf("%d min", m))
	}
	parts = append(parts, fmt.Sprintf("%d sek", s))
	return strings.Join(parts, " ")
}
