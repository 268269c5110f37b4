package flux

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var durationPattern = regexp.MustCompile(`^([\d.]+)([smhd]?)$`)

// parseFluxDuration converts flux duration strings into HH:MM:SS. Flux
// prints bare seconds as floats ("90.5") and FSD forms with a unit suffix
// ("30m", "2h", "1d"). Anything unparseable becomes "00:00:00".
func parseFluxDuration(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return "00:00:00"
	}

	m := durationPattern.FindStringSubmatch(raw)
	if m == nil {
		return "00:00:00"
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "00:00:00"
	}

	switch m[2] {
	case "m":
		value *= 60
	case "h":
		value *= 3600
	case "d":
		value *= 86400
	}

	total := int64(value)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
