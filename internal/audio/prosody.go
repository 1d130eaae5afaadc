package audio

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRate maps a relative rate such as "+10%" to a speech speed (1.10),
// clamped to the API range [0.25, 4.0]. Unparseable input means 1.0.
func ParseRate(rate string) float64 {
	pct, ok := parsePercent(rate)
	if !ok {
		return 1.0
	}
	speed := 1.0 + pct/100
	switch {
	case speed < 0.25:
		return 0.25
	case speed > 4.0:
		return 4.0
	default:
		return speed
	}
}

// Instructions turns volume and pitch adjustments into narration guidance
// for models that accept instructions. Neutral settings yield "".
func Instructions(volume, pitch string) string {
	var parts []string
	if pct, ok := parsePercent(volume); ok && pct != 0 {
		dir := "louder"
		if pct < 0 {
			dir, pct = "softer", -pct
		}
		parts = append(parts, fmt.Sprintf("Speak about %g%% %s than normal.", pct, dir))
	}
	if hz, ok := parseHz(pitch); ok && hz != 0 {
		dir := "higher"
		if hz < 0 {
			dir, hz = "lower", -hz
		}
		parts = append(parts, fmt.Sprintf("Use a slightly %s pitch (about %gHz).", dir, hz))
	}
	return strings.Join(parts, " ")
}

func parsePercent(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseHz(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "hz"), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
