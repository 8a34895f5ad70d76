package campaign

import (
	"errors"
	"fmt"
)

// ErrUnknownCampaign is returned when a campaign id (or version) is not registered.
var ErrUnknownCampaign = errors.New("campaign: unknown campaign")

// ConfigurationError reports a malformed campaign definition. It is fatal at startup.
type ConfigurationError struct {
	CampaignID string
	Reason     string
	Err        error
}

func (e *ConfigurationError) Error() string {
	msg := "campaign: invalid configuration"
	if e.CampaignID != "" {
		msg = fmt.Sprintf("campaign: invalid definition %q", e.CampaignID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(id, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{CampaignID: id, Reason: fmt.Sprintf(format, args...)}
}
