package report_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/observe"
	"github.com/warp/reimbursement-engine/report"
)

// =============================================================================
// TEST FAKES
// =============================================================================

// scriptedUpstream replays a fixed sequence of statuses. Once the script is
// exhausted the last status repeats.
type scriptedUpstream struct {
	mu        sync.Mutex
	reportID  string
	statuses  []string
	docID     string
	polls     int
	requests  []report.CreateReportRequest
	document  report.Document
	createErr error
	pollErr   error
	docErr    error
}

func (s *scriptedUpstream) CreateReport(_ context.Context, req report.CreateReportRequest) (report.CreateReportResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.createErr != nil {
		return report.CreateReportResponse{}, s.createErr
	}
	return report.CreateReportResponse{ReportID: s.reportID}, nil
}

func (s *scriptedUpstream) GetReport(_ context.Context, reportID string) (report.ReportStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollErr != nil {
		return report.ReportStatus{}, s.pollErr
	}
	i := s.polls
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	s.polls++
	st := report.ReportStatus{ReportID: reportID, ProcessingStatus: s.statuses[i]}
	if st.ProcessingStatus == report.StatusDone {
		st.ReportDocumentID = s.docID
	}
	return st, nil
}

func (s *scriptedUpstream) GetReportDocument(_ context.Context, documentID string) (report.Document, error) {
	if s.docErr != nil {
		return report.Document{}, s.docErr
	}
	return s.document, nil
}

type staticFetcher struct {
	body []byte
	err  error
	url  string
}

func (f *staticFetcher) Fetch(_ context.Context, url string) (io.ReadCloser, error) {
	f.url = url
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.body)), nil
}

func newClient(up report.Upstream, f report.Fetcher) *report.Client {
	return report.NewClient(up, f, "ATVPDKIKX0DER", observe.Discard())
}

var (
	rangeStart = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC)
)

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_SendsLedgerRequest(t *testing.T) {
	up := &scriptedUpstream{reportID: "R1"}

	id, err := newClient(up, nil).Submit(context.Background(), report.KindLedgerDetail, rangeStart, rangeEnd)

	require.NoError(t, err)
	assert.Equal(t, "R1", id)
	require.Len(t, up.requests, 1)
	req := up.requests[0]
	assert.Equal(t, report.KindLedgerDetail, req.ReportType)
	assert.Equal(t, []string{"ATVPDKIKX0DER"}, req.MarketplaceIDs)
	assert.Equal(t, "DAILY", req.ReportOptions["aggregatedByTimePeriod"])
	assert.True(t, req.DataStartTime.Equal(rangeStart))
}

func TestSubmit_EmptyReportIDIsRemoteError(t *testing.T) {
	_, err := newClient(&scriptedUpstream{}, nil).Submit(context.Background(), report.KindLedgerDetail, rangeStart, rangeEnd)

	var re *ledger.RemoteRequestError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "createReport", re.Op)
}

func TestSubmit_UpstreamErrorIsRemoteError(t *testing.T) {
	cause := errors.New("503 throttled")

	_, err := newClient(&scriptedUpstream{createErr: cause}, nil).Submit(context.Background(), report.KindLedgerDetail, rangeStart, rangeEnd)

	assert.ErrorIs(t, err, ledger.ErrRemoteRequest)
	assert.ErrorIs(t, err, cause)
}

// =============================================================================
// POLL
// =============================================================================

func TestPollUntilReady_ReturnsOnThirdPoll(t *testing.T) {
	up := &scriptedUpstream{
		statuses: []string{report.StatusInProgress, report.StatusInProgress, report.StatusDone},
		docID:    "D1",
	}

	handle, err := newClient(up, nil).PollUntilReady(context.Background(), "R1", time.Second, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, report.Handle{ReportID: "R1", DocumentID: "D1", Attempts: 3}, handle)
	assert.Equal(t, 3, up.polls)
}

func TestPollUntilReady_FatalFailsImmediately(t *testing.T) {
	up := &scriptedUpstream{reportID: "R1", statuses: []string{report.StatusFatal}}
	client := newClient(up, nil)
	_, err := client.Submit(context.Background(), report.KindLedgerDetail, rangeStart, rangeEnd)
	require.NoError(t, err)

	_, err = client.PollUntilReady(context.Background(), "R1", time.Minute, time.Minute)

	var failed *ledger.ReportFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, report.StatusFatal, failed.Status)
	assert.True(t, failed.DataStart.Equal(rangeStart))
	assert.True(t, failed.DataEnd.Equal(rangeEnd))
	assert.Contains(t, err.Error(), "2025-08-01")
	assert.Equal(t, 1, up.polls)
}

func TestPollUntilReady_CancelledIsReportFailed(t *testing.T) {
	up := &scriptedUpstream{statuses: []string{report.StatusInQueue, report.StatusCancelled}}

	_, err := newClient(up, nil).PollUntilReady(context.Background(), "R1", time.Second, time.Millisecond)

	assert.ErrorIs(t, err, ledger.ErrReportFailed)
}

func TestPollUntilReady_TimesOut(t *testing.T) {
	up := &scriptedUpstream{statuses: []string{report.StatusInProgress}}

	started := time.Now()
	_, err := newClient(up, nil).PollUntilReady(context.Background(), "R1", 30*time.Millisecond, 5*time.Millisecond)

	var timeout *ledger.ReportTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, report.StatusInProgress, timeout.LastStatus)
	assert.GreaterOrEqual(t, timeout.Attempts, 2)
	assert.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)
}

func TestPollUntilReady_ToleratesUnknownStatus(t *testing.T) {
	up := &scriptedUpstream{statuses: []string{"", "SOMETHING_NEW", report.StatusDone}, docID: "D2"}

	handle, err := newClient(up, nil).PollUntilReady(context.Background(), "R1", time.Second, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "D2", handle.DocumentID)
}

func TestPollUntilReady_DoneWithoutDocumentIsDecodeError(t *testing.T) {
	up := &scriptedUpstream{statuses: []string{report.StatusDone}}

	_, err := newClient(up, nil).PollUntilReady(context.Background(), "R1", time.Second, time.Millisecond)

	assert.ErrorIs(t, err, ledger.ErrDecode)
}

func TestPollUntilReady_StatusCallErrorIsFatal(t *testing.T) {
	up := &scriptedUpstream{statuses: []string{report.StatusInProgress}, pollErr: errors.New("boom")}

	_, err := newClient(up, nil).PollUntilReady(context.Background(), "R1", time.Second, time.Millisecond)

	var re *ledger.RemoteRequestError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "R1", re.ReportID)
}

func TestPollUntilReady_HonoursContext(t *testing.T) {
	up := &scriptedUpstream{statuses: []string{report.StatusInProgress}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newClient(up, nil).PollUntilReady(ctx, "R1", time.Minute, time.Second)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// FETCH
// =============================================================================

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFetchDocument_DecompressesGzip(t *testing.T) {
	up := &scriptedUpstream{document: report.Document{URL: "https://docs.example/D1", CompressionAlgorithm: "GZIP"}}
	fetcher := &staticFetcher{body: gzipped(t, "A\tB\n1\t2\n")}

	raw, err := newClient(up, fetcher).FetchDocument(context.Background(), "D1")

	require.NoError(t, err)
	assert.Equal(t, "A\tB\n1\t2\n", string(raw))
	assert.Equal(t, "https://docs.example/D1", fetcher.url)
}

func TestFetchDocument_PlainPassesThrough(t *testing.T) {
	up := &scriptedUpstream{document: report.Document{URL: "https://docs.example/D1"}}

	raw, err := newClient(up, &staticFetcher{body: []byte("plain")}).FetchDocument(context.Background(), "D1")

	require.NoError(t, err)
	assert.Equal(t, "plain", string(raw))
}

func TestFetchDocument_MissingURL(t *testing.T) {
	up := &scriptedUpstream{document: report.Document{}}

	_, err := newClient(up, &staticFetcher{}).FetchDocument(context.Background(), "D1")

	var de *ledger.DownloadError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "D1", de.DocumentID)
	assert.Contains(t, de.Error(), "no download url")
}

func TestFetchDocument_FetchFailureNamesDocument(t *testing.T) {
	up := &scriptedUpstream{document: report.Document{URL: "https://docs.example/D1"}}
	fetcher := &staticFetcher{err: &ledger.DownloadError{StatusCode: 403, Reason: "expired"}}

	_, err := newClient(up, fetcher).FetchDocument(context.Background(), "D1")

	var de *ledger.DownloadError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 403, de.StatusCode)
	assert.Equal(t, "D1", de.DocumentID)
}

func TestFetchDocument_CorruptGzipIsDecodeError(t *testing.T) {
	up := &scriptedUpstream{document: report.Document{URL: "https://docs.example/D1", CompressionAlgorithm: "GZIP"}}

	_, err := newClient(up, &staticFetcher{body: []byte(strings.Repeat("x", 32))}).FetchDocument(context.Background(), "D1")

	assert.ErrorIs(t, err, ledger.ErrDecode)
}
