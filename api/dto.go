/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request bodies carry go-playground/validator tags checked in handlers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/pipeline"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventDTO represents a ledger event in API responses.
type EventDTO struct {
	ID                   string    `json:"id"`
	EventDate            string    `json:"eventDate"`
	FNSKU                string    `json:"fnsku"`
	ASIN                 string    `json:"asin"`
	SKU                  string    `json:"sku"`
	ProductTitle         string    `json:"productTitle"`
	EventType            string    `json:"eventType"`
	ReferenceID          *string   `json:"referenceId"`
	Quantity             int       `json:"quantity"`
	FulfillmentCenter    *string   `json:"fulfillmentCenter"`
	Disposition          *string   `json:"disposition"`
	Reason               *string   `json:"reason"`
	ReconciledQuantity   int       `json:"reconciledQuantity"`
	UnreconciledQuantity int       `json:"unreconciledQuantity"`
	Country              string    `json:"country"`
	RawTimestamp         time.Time `json:"rawTimestamp"`
	StoreID              *string   `json:"storeId"`
	Status               string    `json:"status"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func toEventDTO(e ledger.Event) EventDTO {
	return EventDTO{
		ID:                   e.ID,
		EventDate:            e.EventDate.Format(ledger.DateLayout),
		FNSKU:                e.FNSKU,
		ASIN:                 e.ASIN,
		SKU:                  e.SKU,
		ProductTitle:         e.ProductTitle,
		EventType:            e.EventType,
		ReferenceID:          e.ReferenceID,
		Quantity:             e.Quantity,
		FulfillmentCenter:    e.FulfillmentCenter,
		Disposition:          e.Disposition,
		Reason:               e.Reason,
		ReconciledQuantity:   e.ReconciledQuantity,
		UnreconciledQuantity: e.UnreconciledQuantity,
		Country:              e.Country,
		RawTimestamp:         e.RawTimestamp,
		StoreID:              e.StoreID,
		Status:               string(e.Status),
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

func toEventDTOs(events []ledger.Event) []EventDTO {
	out := make([]EventDTO, len(events))
	for i, e := range events {
		out[i] = toEventDTO(e)
	}
	return out
}

// EventListResponse is one page of events.
type EventListResponse struct {
	Events     []EventDTO `json:"events"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"totalPages"`
}

// ClaimTextResponse carries the reimbursement request text.
type ClaimTextResponse struct {
	ID        string `json:"id"`
	ClaimText string `json:"claimText"`
}

// =============================================================================
// SYNC
// =============================================================================

// SyncRequest asks for a report over [dataStartTime, dataEndTime).
type SyncRequest struct {
	DataStartTime time.Time `json:"dataStartTime" validate:"required"`
	DataEndTime   time.Time `json:"dataEndTime" validate:"required,gtfield=DataStartTime"`
}

// SyncResponse wraps a finished sync.
type SyncResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    ledger.SyncRun `json:"data"`
}

// SweepResponse wraps a status sweep.
type SweepResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Data    ledger.SweepResult `json:"data"`
}

// DailyResponse wraps the automation run.
type DailyResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Data    pipeline.DailyResult `json:"data"`
}

// CleanupResponse reports a retention purge.
type CleanupResponse struct {
	Deleted       int `json:"deleted"`
	RetentionDays int `json:"retentionDays"`
}

// RunDTO represents a recorded sync run.
type RunDTO struct {
	ID                 string     `json:"id"`
	Kind               string     `json:"kind"`
	DataStartTime      time.Time  `json:"dataStartTime"`
	DataEndTime        time.Time  `json:"dataEndTime"`
	Status             string     `json:"status"`
	ReportID           string     `json:"reportId,omitempty"`
	ProcessedCount     int        `json:"processedCount"`
	NewEventsCount     int        `json:"newEventsCount"`
	UpdatedEventsCount int        `json:"updatedEventsCount"`
	Error              string     `json:"error,omitempty"`
	StartedAt          time.Time  `json:"startedAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

func toRunDTO(r ledger.RunRecord) RunDTO {
	return RunDTO{
		ID:                 r.ID,
		Kind:               r.Kind,
		DataStartTime:      r.DataStart,
		DataEndTime:        r.DataEnd,
		Status:             string(r.State),
		ReportID:           r.ReportID,
		ProcessedCount:     r.Counts.ProcessedCount,
		NewEventsCount:     r.Counts.NewEventsCount,
		UpdatedEventsCount: r.Counts.UpdatedEventsCount,
		Error:              r.Error,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
