package sequencer

import "errors"

// ErrSendFailed is returned when an automation event could not be delivered
// after every retry.
var ErrSendFailed = errors.New("sequencer: send failed")
