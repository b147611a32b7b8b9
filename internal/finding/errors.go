package finding

import "errors"

var (
	// ErrInvalidSeverity is returned for severities outside critical..info.
	ErrInvalidSeverity = errors.New("finding: invalid severity")

	// ErrInvalidStatus is returned for unknown triage states.
	ErrInvalidStatus = errors.New("finding: invalid status")
)
