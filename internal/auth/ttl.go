package auth

import (
	"strconv"
	"strings"
	"time"
)

// ParseTTL turns a TTL expression into a duration. Accepted forms are a raw
// second count ("900") or a number with an s, m, h or d suffix ("15m", "7d").
// Anything else falls back to the supplied default: a misconfigured TTL must
// not fail token issuance.
func ParseTTL(expr string, fallback time.Duration) time.Duration {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fallback
	}

	if secs, err := strconv.Atoi(expr); err == nil {
		if secs <= 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}

	unit := expr[len(expr)-1]
	n, err := strconv.Atoi(expr[:len(expr)-1])
	if err != nil || n <= 0 {
		return fallback
	}

	switch unit {
	case 's':
		return time.Duration(n) * time.Second
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	default:
		return fallback
	}
}
