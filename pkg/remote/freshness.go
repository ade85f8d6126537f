package remote

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// freshness returns how long a response may be reused without revalidation.
// Cache-Control wins over Expires; no-store and no-cache force revalidation.
func freshness(h http.Header, fallback time.Duration, now time.Time) time.Duration {
	if cc := h.Get("Cache-Control"); cc != "" {
		maxAge := -1
		for _, directive := range strings.Split(cc, ",") {
			name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
			switch strings.ToLower(name) {
			case "no-store", "no-cache":
				return 0
			case "max-age":
				secs, err := strconv.Atoi(strings.Trim(value, `"`))
				if err != nil || secs < 0 {
					secs = 0
				}
				maxAge = secs
			}
		}
		if maxAge >= 0 {
			return time.Duration(maxAge) * time.Second
		}
	}

	if exp := h.Get("Expires"); exp != "" {
		t, err := http.ParseTime(exp)
		if err != nil {
			return 0
		}
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}

	return fallback
}
