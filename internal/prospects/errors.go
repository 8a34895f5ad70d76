package prospects

import "errors"

var (
	// ErrProspectNotFound is returned when no prospect has the requested id or phone.
	ErrProspectNotFound = errors.New("prospects: prospect not found")
	// ErrStageOutOfRange is returned when a mutation leaves StageIndex outside 0..EventCount.
	ErrStageOutOfRange = errors.New("prospects: stage index out of range")
	// ErrInvalidProspect is returned for records missing required identity fields.
	ErrInvalidProspect = errors.New("prospects: invalid prospect")
	// ErrNoChange may be returned by a Mutate callback to commit nothing.
	ErrNoChange = errors.New("prospects: no change")
)
