/*
client.go - Report client adapter

PURPOSE:
  Drives the upstream asynchronous report job: submit, poll until a
  terminal status, resolve the document and download it.

POLLING:
  Upstream has no push notification, so PollUntilReady queries the job at
  a fixed interval until DONE, FATAL or CANCELLED, or until maxWait has
  elapsed. Between polls the caller's goroutine sleeps on a timer and
  returns early if ctx is cancelled.

  DONE                 -> Handle with the document id
  FATAL | CANCELLED    -> *ledger.ReportFailedError (names the date range)
  bound exceeded       -> *ledger.ReportTimeoutError
  empty / unknown      -> logged, keep polling

ERRORS:
  Upstream call failures become *ledger.RemoteRequestError. Responses that
  decode but do not have the expected shape surface as *ledger.DecodeError
  unchanged.

SEE ALSO:
  - http.go: HTTPUpstream and HTTPFetcher
*/
package report

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/observe"
)

// Client is the report client adapter.
type Client struct {
	upstream      Upstream
	fetcher       Fetcher
	marketplaceID string
	obs           observe.Observer

	mu     sync.Mutex
	ranges map[string]dateRange // requested ranges by report id
}

type dateRange struct {
	start, end time.Time
}

// NewClient creates a Client for one marketplace.
func NewClient(upstream Upstream, fetcher Fetcher, marketplaceID string, obs observe.Observer) *Client {
	return &Client{
		upstream:      upstream,
		fetcher:       fetcher,
		marketplaceID: marketplaceID,
		obs:           obs,
		ranges:        make(map[string]dateRange),
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit requests a report of kind for [start, end) and returns its job id.
func (c *Client) Submit(ctx context.Context, kind string, start, end time.Time) (string, error) {
	req := CreateReportRequest{
		ReportType:     kind,
		MarketplaceIDs: []string{c.marketplaceID},
		DataStartTime:  start.UTC(),
		DataEndTime:    end.UTC(),
	}
	if kind == KindLedgerDetail {
		req.ReportOptions = map[string]string{"aggregatedByTimePeriod": "DAILY"}
	}

	resp, err := c.upstream.CreateReport(ctx, req)
	if err != nil {
		return "", c.remoteError("createReport", "", err)
	}
	if resp.ReportID == "" {
		return "", &ledger.RemoteRequestError{Op: "createReport", Err: errors.New("response carried no report id")}
	}

	c.mu.Lock()
	c.ranges[resp.ReportID] = dateRange{start: req.DataStartTime, end: req.DataEndTime}
	c.mu.Unlock()

	c.obs.ReportSubmitted(kind, resp.ReportID, req.DataStartTime, req.DataEndTime)
	return resp.ReportID, nil
}

// =============================================================================
// POLL
// =============================================================================

// PollUntilReady waits for reportID to reach a terminal status.
// Non-positive maxWait or interval use the defaults.
func (c *Client) PollUntilReady(ctx context.Context, reportID string, maxWait, interval time.Duration) (Handle, error) {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	started := time.Now()
	deadline := started.Add(maxWait)
	lastStatus := ""

	for attempt := 1; ; attempt++ {
		st, err := c.upstream.GetReport(ctx, reportID)
		if err != nil {
			return Handle{}, c.remoteError("getReport", reportID, err)
		}
		lastStatus = st.ProcessingStatus
		c.obs.ReportPolled(reportID, lastStatus, attempt)

		switch lastStatus {
		case StatusDone:
			if st.ReportDocumentID == "" {
				return Handle{}, &ledger.DecodeError{Source: "getReport", Reason: "DONE report " + reportID + " has no document id"}
			}
			c.forget(reportID)
			c.obs.ReportReady(reportID, st.ReportDocumentID, attempt, time.Since(started))
			return Handle{ReportID: reportID, DocumentID: st.ReportDocumentID, Attempts: attempt}, nil

		case StatusFatal, StatusCancelled:
			failed := c.failure(reportID, st)
			c.obs.ReportFailed(reportID, lastStatus, failed)
			return Handle{}, failed
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.forget(reportID)
			timeout := &ledger.ReportTimeoutError{
				ReportID: reportID, MaxWait: maxWait, LastStatus: lastStatus, Attempts: attempt,
			}
			c.obs.ReportFailed(reportID, "timeout", timeout)
			return Handle{}, timeout
		}

		wait := interval
		if remaining < wait {
			wait = remaining
		}
		if err := sleep(ctx, wait); err != nil {
			return Handle{}, err
		}
	}
}

func (c *Client) failure(reportID string, st ReportStatus) *ledger.ReportFailedError {
	c.mu.Lock()
	requested := c.ranges[reportID]
	delete(c.ranges, reportID)
	c.mu.Unlock()

	failed := &ledger.ReportFailedError{
		ReportID:  reportID,
		Status:    st.ProcessingStatus,
		DataStart: requested.start,
		DataEnd:   requested.end,
	}
	// Prefer what upstream says it was asked for.
	if st.DataStartTime != nil {
		failed.DataStart = *st.DataStartTime
	}
	if st.DataEndTime != nil {
		failed.DataEnd = *st.DataEndTime
	}
	return failed
}

func (c *Client) forget(reportID string) {
	c.mu.Lock()
	delete(c.ranges, reportID)
	c.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// FETCH
// =============================================================================

// FetchDocument resolves and downloads a report document, decompressing it
// when upstream declares GZIP.
func (c *Client) FetchDocument(ctx context.Context, documentID string) ([]byte, error) {
	doc, err := c.upstream.GetReportDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, ledger.ErrDecode) {
			return nil, err
		}
		return nil, &ledger.DownloadError{DocumentID: documentID, Reason: "resolve document", Err: err}
	}
	if doc.URL == "" {
		return nil, &ledger.DownloadError{DocumentID: documentID, Reason: "document has no download url"}
	}

	body, err := c.fetcher.Fetch(ctx, doc.URL)
	if err != nil {
		var de *ledger.DownloadError
		if errors.As(err, &de) {
			de.DocumentID = documentID
			return nil, de
		}
		return nil, &ledger.DownloadError{DocumentID: documentID, Err: err}
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &ledger.DownloadError{DocumentID: documentID, Reason: "read body", Err: err}
	}

	compressed := doc.CompressionAlgorithm == CompressionGZIP
	if compressed {
		raw, err = gunzip(raw)
		if err != nil {
			return nil, &ledger.DecodeError{Source: "document " + documentID, Reason: "invalid gzip payload", Err: err}
		}
	}

	c.obs.DocumentFetched(documentID, len(raw), compressed)
	return raw, nil
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (c *Client) remoteError(op, reportID string, err error) error {
	if errors.Is(err, ledger.ErrDecode) {
		return err
	}
	return &ledger.RemoteRequestError{Op: op, ReportID: reportID, Err: err}
}
