package messaging

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used for numbers written without a country code.
const DefaultRegion = "US"

// NormalizeE164 parses a human-entered phone number and formats it as E.164.
func NormalizeE164(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("messaging: phone number empty")
	}
	parsed, err := phonenumbers.Parse(value, DefaultRegion)
	if err != nil {
		return "", fmt.Errorf("messaging: parse phone %q: %w", value, err)
	}
	if !phonenumbers.IsPossibleNumber(parsed) {
		return "", fmt.Errorf("messaging: phone %q is not a possible number", value)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
