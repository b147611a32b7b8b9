package orchestrator

import (
	"errors"

	"github.com/sloppy/orangesage/internal/report"
)

var (
	ErrScanNotFound    = errors.New("scan not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrTargetNotFound  = errors.New("target not found")
	ErrFindingNotFound = errors.New("finding not found")
	// ErrInvalidTransition is returned when an operation requires a scan
	// state the scan is not in, e.g. starting a scan that already ran.
	ErrInvalidTransition = errors.New("invalid scan state transition")
	ErrUnauthorized      = errors.New("not authorized for this project")
	// ErrInvalidInput reports a malformed project or target.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedFormat aliases the renderer's error so callers only need
	// this package.
	ErrUnsupportedFormat = report.ErrUnsupportedFormat
	// ErrShuttingDown is returned by StartScan after Shutdown was called.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)
