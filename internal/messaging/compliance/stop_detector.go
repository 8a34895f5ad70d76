package compliance

import (
	"regexp"
	"strings"
)

// carrierStopRE matches the reserved carrier opt-out replies when they make up
// the whole message, e.g. "STOP", "stop all", "Unsubscribe.".
var carrierStopRE = regexp.MustCompile(`(?i)^(?:please\s+)?(stop\s*all|stop|unsubscribe|quit|end|cancel)[\s.!]*$`)

// IsCarrierStop reports whether body is a reserved carrier opt-out reply.
// Campaign keyword handlers cannot override it.
func IsCarrierStop(body string) bool {
	return carrierStopRE.MatchString(strings.TrimSpace(body))
}
