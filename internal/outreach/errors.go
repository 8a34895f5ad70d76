package outreach

import "errors"

var (
	// ErrNoAppointment is returned when a prospect has nothing scheduled.
	ErrNoAppointment = errors.New("outreach: no appointment scheduled")
	// ErrNoContact is returned when an enrollment carries neither phone nor email.
	ErrNoContact = errors.New("outreach: phone or email required")
)
