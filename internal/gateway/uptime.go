package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var uptimeUnits = map[string]time.Duration{
	"w":  7 * 24 * time.Hour,
	"d":  24 * time.Hour,
	"h":  time.Hour,
	"m":  time.Minute,
	"s":  time.Second,
	"ms": time.Millisecond,
}

// ParseUptime reads the controller's duration notation: "1w2d3h4m5s",
// and the older "2d03:04:05" form with a clock suffix
func ParseUptime(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	var total time.Duration
	rest := value
	if i := strings.LastIndexAny(rest, "wdhms"); strings.Contains(rest, ":") {
		clock := rest[i+1:]
		rest = rest[:i+1]
		d, err := parseClock(clock)
		if err != nil {
			return 0, fmt.Errorf("uptime %q: %w", value, err)
		}
		total += d
	}

	for len(rest) > 0 {
		n := 0
		for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
			n++
		}
		if n == 0 {
			return 0, fmt.Errorf("uptime %q: expected number at %q", value, rest)
		}
		amount, err := strconv.ParseInt(rest[:n], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("uptime %q: %w", value, err)
		}
		rest = rest[n:]

		u := 0
		for u < len(rest) && (rest[u] < '0' || rest[u] > '9') {
			u++
		}
		unit, ok := uptimeUnits[rest[:u]]
		if !ok {
			return 0, fmt.Errorf("uptime %q: unknown unit %q", value, rest[:u])
		}
		total += time.Duration(amount) * unit
		rest = rest[u:]
	}
	return total, nil
}

func parseClock(value string) (time.Duration, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("bad clock %q", value)
	}
	var d time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("bad clock %q", value)
		}
		d += time.Duration(n) * units[i]
	}
	return d, nil
}
