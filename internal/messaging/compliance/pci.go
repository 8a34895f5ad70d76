package compliance

import (
	"regexp"
	"strings"
)

var cardCandidateRE = regexp.MustCompile(`(?:\d[ -]?){13,19}`)

// RedactCardNumbers masks anything that looks like a payment card number
// (13-19 digits passing the Luhn check), keeping the last four digits.
// Prospects sometimes text card details; those must never reach history.
func RedactCardNumbers(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return text, false
	}
	redacted := false
	out := cardCandidateRE.ReplaceAllStringFunc(text, func(candidate string) string {
		digits := keepDigits(candidate)
		if len(digits) < 13 || len(digits) > 19 || !luhn(digits) {
			return candidate
		}
		redacted = true
		trailing := ""
		if strings.HasSuffix(candidate, " ") || strings.HasSuffix(candidate, "-") {
			trailing = candidate[len(candidate)-1:]
		}
		return "[card ending " + digits[len(digits)-4:] + "]" + trailing
	})
	return out, redacted
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}
