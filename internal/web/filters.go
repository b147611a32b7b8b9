package web

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
)

var scanStatuses = []db.ScanStatus{db.ScanPending, db.ScanRunning, db.ScanCompleted, db.ScanFailed, db.ScanCancelled}

func parseInt(value string, fallback int) int {
	val, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

// scanFilter reads ?status= for a project's scan list.
func scanFilter(query url.Values, projectID int64) (db.ScanFilter, error) {
	filter := db.ScanFilter{ProjectID: projectID}
	raw := strings.ToLower(strings.TrimSpace(query.Get("status")))
	if raw == "" {
		return filter, nil
	}
	for _, s := range scanStatuses {
		if db.ScanStatus(raw) == s {
			filter.Status = s
			return filter, nil
		}
	}
	return filter, fmt.Errorf("unknown scan status %q", raw)
}

// findingFilter reads ?severity=, ?status= and ?limit= for a scan's
// findings. A zero limit means no limit.
func findingFilter(query url.Values, scanID int64) (db.FindingFilter, int, error) {
	filter := db.FindingFilter{ScanID: scanID}
	var err error
	if raw := query.Get("severity"); raw != "" {
		if filter.Severity, err = finding.ParseSeverity(raw); err != nil {
			return filter, 0, err
		}
	}
	if raw := query.Get("status"); raw != "" {
		if filter.Status, err = finding.ParseStatus(raw); err != nil {
			return filter, 0, err
		}
	}
	return filter, parseInt(query.Get("limit"), 0), nil
}
