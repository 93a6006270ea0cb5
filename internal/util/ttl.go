package util

import (
	"strconv"
	"strings"
	"time"
)

var ttlUnits = map[byte]int{
	's': 1,
	'm': 60,
	'h': 60 * 60,
	'd': 60 * 60 * 24,
}

// ParseTTLSeconds turns "900", "900s", "15m", "1h" or "30d" into seconds.
// Empty or unparsable values return fallback; unparsable ones also log a warning.
func ParseTTLSeconds(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	if n, err := strconv.Atoi(trimmed); err == nil {
		if n <= 0 {
			Warn("Non-positive TTL value, using fallback",
				String("value", value),
				Int("fallback", fallback))
			return fallback
		}
		return n
	}

	unit := trimmed[len(trimmed)-1]
	amount, err := strconv.Atoi(trimmed[:len(trimmed)-1])
	if err != nil || amount <= 0 {
		Warn("Unable to parse TTL value, using fallback",
			String("value", value),
			Int("fallback", fallback))
		return fallback
	}

	multiplier, ok := ttlUnits[unit]
	if !ok {
		Warn("Unknown TTL unit, using fallback",
			String("value", value),
			String("unit", string(unit)),
			Int("fallback", fallback))
		return fallback
	}

	return amount * multiplier
}

// ParseTTL is ParseTTLSeconds returning a time.Duration.
func ParseTTL(value string, fallback time.Duration) time.Duration {
	return time.Duration(ParseTTLSeconds(value, int(fallback/time.Second))) * time.Second
}
