package engine

import (
	"errors"
	"strings"
)

// SubmissionWarning groups recurring warnings about measurement submission.
type SubmissionWarning struct {
	Message string
}

func (w SubmissionWarning) Error() string {
	return "submission warning: " + w.Message
}

// ProbeServicesWarning groups recurring warnings about the probe services.
type ProbeServicesWarning struct {
	Message string
}

func (w ProbeServicesWarning) Error() string {
	return "probe services warning: " + w.Message
}

var (
	submissionPatterns = []string{
		"cannot submit measurement",
		"measurement submission failed",
		"sessionresolver:",
	}

	probeServicesPatterns = []string{
		"probeservices:",
		"cannot get a valid probe services",
		"check-in failed",
	}
)

// ClassifyWarning returns the named warning for known recurring log
// messages, or nil.
func ClassifyWarning(message string) error {
	lower := strings.ToLower(message)

	for _, p := range submissionPatterns {
		if strings.Contains(lower, p) {
			return SubmissionWarning{Message: message}
		}
	}

	for _, p := range probeServicesPatterns {
		if strings.Contains(lower, p) {
			return ProbeServicesWarning{Message: message}
		}
	}

	return nil
}

// WarningGroup returns a stable name for the warning group of err.
func WarningGroup(err error) string {
	var submission SubmissionWarning
	var probeServices ProbeServicesWarning

	switch {
	case errors.As(err, &submission):
		return "submission"
	case errors.As(err, &probeServices):
		return "probe-services"
	}

	return ""
}
