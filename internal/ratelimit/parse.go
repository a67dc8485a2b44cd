package ratelimit

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultWait is used when the backend sends no reset hint.
const DefaultWait = 5 * time.Second

var segmentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)(ms|d|h|m|s)`)

// Jitter returns a random integer in [0, n). *math/rand.Rand satisfies it.
type Jitter interface {
	Intn(n int) int
}

// ParseResetDuration converts a reset hint such as "1d2h30m", "6m0s" or
// "250ms" into a wait duration. An empty hint yields exactly DefaultWait.
// Any other hint gets 2 or 3 extra seconds of jitter; a hint that cannot be
// parsed is treated as DefaultWait plus jitter.
func ParseResetDuration(s string, rng Jitter) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultWait
	}
	jitter := time.Duration(rng.Intn(2)+2) * time.Second

	d, ok := parseSegments(s)
	if !ok {
		slog.Debug("unparseable rate limit reset", "value", s)
		return DefaultWait + jitter
	}
	return d + jitter
}

func parseSegments(s string) (time.Duration, bool) {
	matches := segmentPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return 0, false
	}
	var total time.Duration
	pos := 0
	for _, m := range matches {
		// segments must be contiguous
		if m[0] != pos {
			return 0, false
		}
		pos = m[1]
		n, err := strconv.ParseFloat(s[m[2]:m[3]], 64)
		if err != nil {
			return 0, false
		}
		total += time.Duration(n * float64(unit(s[m[4]:m[5]])))
	}
	if pos != len(s) {
		return 0, false
	}
	return total, true
}

func unit(u string) time.Duration {
	switch u {
	case "d":
		return 24 * time.Hour
	case "h":
		return time.Hour
	case "m":
		return time.Minute
	case "ms":
		return time.Millisecond
	default:
		return time.Second
	}
}
