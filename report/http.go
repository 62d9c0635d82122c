package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/warp/reimbursement-engine/ledger"
)

const (
	reportsPath   = "/reports/2021-06-30/reports"
	documentsPath = "/reports/2021-06-30/documents"

	// AccessTokenHeader carries the static upstream access token.
	AccessTokenHeader = "x-amz-access-token"
)

// =============================================================================
// HTTP UPSTREAM
// =============================================================================

// HTTPUpstream calls the Reports REST API.
type HTTPUpstream struct {
	baseURL  string
	token    string
	http     *http.Client
	validate *validator.Validate
}

// NewHTTPUpstream creates an upstream client. A nil httpClient gets a 30s timeout.
func NewHTTPUpstream(baseURL, accessToken string, httpClient *http.Client) *HTTPUpstream {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPUpstream{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    accessToken,
		http:     httpClient,
		validate: validator.New(),
	}
}

func (u *HTTPUpstream) CreateReport(ctx context.Context, req CreateReportRequest) (CreateReportResponse, error) {
	if err := u.validate.Struct(req); err != nil {
		return CreateReportResponse{}, fmt.Errorf("invalid createReport request: %w", err)
	}
	var resp CreateReportResponse
	err := u.call(ctx, "createReport", http.MethodPost, reportsPath, req, &resp)
	return resp, err
}

func (u *HTTPUpstream) GetReport(ctx context.Context, reportID string) (ReportStatus, error) {
	var resp ReportStatus
	err := u.call(ctx, "getReport", http.MethodGet, reportsPath+"/"+url.PathEscape(reportID), nil, &resp)
	return resp, err
}

func (u *HTTPUpstream) GetReportDocument(ctx context.Context, documentID string) (Document, error) {
	var resp Document
	err := u.call(ctx, "getReportDocument", http.MethodGet, documentsPath+"/"+url.PathEscape(documentID), nil, &resp)
	return resp, err
}

func (u *HTTPUpstream) call(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(AccessTokenHeader, u.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: HTTP %d: %s", op, resp.StatusCode, snippet(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ledger.DecodeError{Source: op, Reason: "malformed response", Err: err}
	}
	if err := u.validate.Struct(out); err != nil {
		return &ledger.DecodeError{Source: op, Reason: "unexpected response shape", Err: err}
	}
	return nil
}

// =============================================================================
// HTTP FETCHER
// =============================================================================

// HTTPFetcher downloads pre-signed document URLs. It sends no credentials.
type HTTPFetcher struct {
	http *http.Client
}

// DefaultDownloadTimeout bounds one document download.
const DefaultDownloadTimeout = 5 * time.Minute

// NewHTTPFetcher creates a fetcher. A nil httpClient gets DefaultDownloadTimeout.
func NewHTTPFetcher(httpClient *http.Client) *HTTPFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultDownloadTimeout}
	}
	return &HTTPFetcher{http: httpClient}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ledger.DownloadError{Reason: "build request", Err: err}
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, &ledger.DownloadError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &ledger.DownloadError{StatusCode: resp.StatusCode, Reason: snippet(raw)}
	}
	return resp.Body, nil
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
