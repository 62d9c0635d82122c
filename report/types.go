package report

import (
	"context"
	"io"
	"time"
)

// KindLedgerDetail is the daily inventory ledger detail report.
const KindLedgerDetail = "GET_LEDGER_DETAIL_VIEW_DATA"

// Processing statuses. Anything else is treated as still running.
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFatal      = "FATAL"
	StatusCancelled  = "CANCELLED"
)

// CompressionGZIP is the only compression the upstream declares.
const CompressionGZIP = "GZIP"

// Poll defaults.
const (
	DefaultMaxWait      = 300 * time.Second
	DefaultPollInterval = 10 * time.Second
)

// =============================================================================
// UPSTREAM CONTRACT
// =============================================================================

// Upstream is the remote bulk-report API.
type Upstream interface {
	CreateReport(ctx context.Context, req CreateReportRequest) (CreateReportResponse, error)
	GetReport(ctx context.Context, reportID string) (ReportStatus, error)
	GetReportDocument(ctx context.Context, documentID string) (Document, error)
}

// Fetcher downloads a resolved document URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// CreateReportRequest asks upstream to generate a report.
type CreateReportRequest struct {
	ReportType     string            `json:"reportType" validate:"required"`
	MarketplaceIDs []string          `json:"marketplaceIds" validate:"required,min=1,dive,required"`
	DataStartTime  time.Time         `json:"dataStartTime" validate:"required"`
	DataEndTime    time.Time         `json:"dataEndTime" validate:"required,gtfield=DataStartTime"`
	ReportOptions  map[string]string `json:"reportOptions,omitempty"`
}

// CreateReportResponse carries the job id. An empty id is an upstream failure.
type CreateReportResponse struct {
	ReportID string `json:"reportId"`
}

// ReportStatus is one poll result. ProcessingStatus may be empty on early polls.
type ReportStatus struct {
	ReportID         string     `json:"reportId"`
	ProcessingStatus string     `json:"processingStatus"`
	ReportDocumentID string     `json:"reportDocumentId"`
	DataStartTime    *time.Time `json:"dataStartTime"`
	DataEndTime      *time.Time `json:"dataEndTime"`
}

// Document resolves a report document to a short-lived download URL.
type Document struct {
	ReportDocumentID     string `json:"reportDocumentId"`
	URL                  string `json:"url" validate:"omitempty,url"`
	CompressionAlgorithm string `json:"compressionAlgorithm" validate:"omitempty,oneof=GZIP"`
}

// Handle references a finished report.
type Handle struct {
	ReportID   string
	DocumentID string
	Attempts   int
}
