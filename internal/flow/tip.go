package flow

import (
	"regexp"
	"strconv"
	"strings"
)

var tipPercentPattern = regexp.MustCompile(`^\s*(\d{1,3})(?:[.,](\d{1,2}))?\s*%?\s*$`)

var noTipPhrases = []string{
	"nao", "não", "no", "sem gorjeta", "sem", "nenhuma", "zero", "0", "0%",
	"nao quero", "não quero",
}

// ParseTip interprets a tip reply, either a structured button value or
// free text. ok is false when the reply is not recognizable and the
// choice set must be re-offered.
func ParseTip(input string) (percent float64, ok bool) {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if trimmed == "" {
		return 0, false
	}

	for _, phrase := range noTipPhrases {
		if trimmed == phrase {
			return 0, true
		}
	}

	m := tipPercentPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, false
	}

	whole := m[1]
	frac := m[2]
	raw := whole
	if frac != "" {
		raw = whole + "." + frac
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	if v <= 0 {
		// Zero or negative framing means no tip.
		return 0, true
	}
	if v > 100 {
		return 0, false
	}
	return v, true
}
