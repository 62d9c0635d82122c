/*
errors.go - Centralized error types for the sync pipeline and the ledger

PURPOSE:
  All error types in one place. The report adapter, the tabular decoder,
  the stores and the orchestrator return these so callers can branch with
  errors.Is / errors.As without importing every producer.

ERROR CATEGORIES:
  1. Upstream errors   - submission, terminal report failure, poll timeout,
                         document download
  2. Decode errors     - unreadable payloads and upstream response drift
  3. Store errors      - persistence failures, duplicate natural keys
  4. Lifecycle errors  - unknown events, invalid operator transitions

ROW-LEVEL ISSUES:
  Malformed rows never produce an error. The normalizer substitutes
  defaults and emits a diagnostic instead.

SEE ALSO:
  - report/client.go: raises upstream errors
  - pipeline/sync.go: wraps errors with the failing stage
*/
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRemoteRequest is returned when an upstream call fails or returns no job id.
	ErrRemoteRequest = errors.New("remote request failed")

	// ErrReportFailed is returned when a report reaches FATAL or CANCELLED.
	ErrReportFailed = errors.New("report failed")

	// ErrReportTimeout is returned when a report is not ready within the poll bound.
	ErrReportTimeout = errors.New("report timed out")

	// ErrDownload is returned when a report document cannot be retrieved.
	ErrDownload = errors.New("document download failed")

	// ErrDecode is returned when a payload or response is structurally unreadable.
	ErrDecode = errors.New("decode failed")

	// ErrPersistence is returned when a store operation fails.
	ErrPersistence = errors.New("persistence failed")

	// ErrDuplicateKey is returned when an insert collides with an existing natural key.
	ErrDuplicateKey = errors.New("duplicate natural key")

	// ErrEventNotFound is returned when a referenced event doesn't exist.
	ErrEventNotFound = errors.New("event not found")

	// ErrInvalidTransition is returned when an operator action doesn't apply to the
	// event's current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSyncInProgress is returned when another sync holds the report lock.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RemoteRequestError wraps a failed upstream call.
type RemoteRequestError struct {
	Op       string // createReport, getReport, getReportDocument
	ReportID string
	Err      error
}

func (e *RemoteRequestError) Error() string {
	msg := "remote request " + e.Op + " failed"
	if e.ReportID != "" {
		msg += " (report " + e.ReportID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteRequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRemoteRequest}
	}
	return []error{ErrRemoteRequest, e.Err}
}

// ReportFailedError is a terminal FATAL/CANCELLED report. The date range is the
// first thing to check: upstream rejects ranges newer than about 48 hours.
type ReportFailedError struct {
	ReportID  string
	Status    string
	DataStart time.Time
	DataEnd   time.Time
}

func (e *ReportFailedError) Error() string {
	return fmt.Sprintf("report %s failed with status %s for date range %s to %s; "+
		"the range may be too recent or empty, try a range at least 48 hours old",
		e.ReportID, e.Status, formatRangeTime(e.DataStart), formatRangeTime(e.DataEnd))
}

func (e *ReportFailedError) Unwrap() error {
	return ErrReportFailed
}

// ReportTimeoutError is returned when polling exceeds its bound.
type ReportTimeoutError struct {
	ReportID   string
	MaxWait    time.Duration
	LastStatus string
	Attempts   int
}

func (e *ReportTimeoutError) Error() string {
	return fmt.Sprintf("report %s did not complete within %s (last status %q after %d polls)",
		e.ReportID, e.MaxWait, e.LastStatus, e.Attempts)
}

func (e *ReportTimeoutError) Unwrap() error {
	return ErrReportTimeout
}

// DownloadError describes a failed document retrieval.
type DownloadError struct {
	DocumentID string
	StatusCode int // 0 when no response was received
	Reason     string
	Err        error
}

func (e *DownloadError) Error() string {
	msg := "download of document " + e.DocumentID + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with HTTP %d", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DownloadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDownload}
	}
	return []error{ErrDownload, e.Err}
}

// DecodeError describes an unreadable payload or an upstream response whose
// shape drifted from what the adapter expects.
type DecodeError struct {
	Source string // "document", "createReport", ...
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode " + e.Source + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecode}
	}
	return []error{ErrDecode, e.Err}
}

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	msg := "store " + e.Op
	if e.Key != "" {
		msg += " [" + e.Key + "]"
	}
	return msg + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// TransitionError is an operator action against the wrong status.
type TransitionError struct {
	EventID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %s cannot move from %s to %s", e.EventID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsUpstream returns true if the error came from the remote report system.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrRemoteRequest) ||
		errors.Is(err, ErrReportFailed) ||
		errors.Is(err, ErrDownload) ||
		errors.Is(err, ErrDecode)
}

// IsNotFound returns true if the error indicates a missing event.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound)
}

// IsConflict returns true if the error is a state conflict the caller can resolve.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrSyncInProgress)
}

func formatRangeTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
