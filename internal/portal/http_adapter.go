package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/applyloop/agent/internal/cache"
	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/retry"
)

// HTTPAdapter talks to the upstream portal over plain net/http, mapping
// transport and status-code failures onto the retry.Outcome taxonomy.
type HTTPAdapter struct {
	baseURL    string
	httpClient *http.Client
	listCache  *cache.Cache
}

func NewHTTPAdapter(baseURL string, httpClient *http.Client, listCacheTTL time.Duration) *HTTPAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPAdapter{
		baseURL:    baseURL,
		httpClient: httpClient,
		listCache:  cache.New(listCacheTTL),
	}
}

func (a *HTTPAdapter) ListJobs(ctx context.Context, filters posting.ListFilters) ([]posting.Job, error) {
	key := listCacheKey(filters)
	if cached, ok := a.listCache.Get(key); ok {
		return cached.([]posting.Job), nil
	}

	q := url.Values{}
	if filters.Query != "" {
		q.Set("q", filters.Query)
	}
	if filters.Remote != nil {
		q.Set("remote", strconv.FormatBool(*filters.Remote))
	}
	if filters.Limit > 0 {
		q.Set("limit", strconv.Itoa(filters.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/jobs?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusOutcomeErr(resp)
	}

	var jobs []posting.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, err
	}

	a.listCache.Set(key, jobs)
	return jobs, nil
}

func (a *HTTPAdapter) Submit(ctx context.Context, req retry.SubmitRequest) (retry.Outcome, error) {
	body, err := json.Marshal(map[string]any{
		"jobId":            req.JobID,
		"contactFields":    req.ContactFields,
		"coverLetter":      req.CoverLetter,
		"idempotencyToken": req.IdempotencyToken,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/applications", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return retry.Timeout{}, nil
		}
		return retry.TransientNetwork{Err: err}, nil
	}
	defer resp.Body.Close()

	return submitOutcomeFromResponse(resp)
}

func (a *HTTPAdapter) GetApplication(ctx context.Context, confirmationID string) (ApplicationRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/applications/"+url.PathEscape(confirmationID), nil)
	if err != nil {
		return ApplicationRecord{}, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return ApplicationRecord{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ApplicationRecord{}, fmt.Errorf("portal: GetApplication %s: status %d", confirmationID, resp.StatusCode)
	}

	var record ApplicationRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return ApplicationRecord{}, err
	}
	return record, nil
}

func submitOutcomeFromResponse(resp *http.Response) (retry.Outcome, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var body struct {
			ConfirmationID string `json:"confirmationId"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, err
		}
		return retry.Submitted{ConfirmationID: body.ConfirmationID}, nil

	case resp.StatusCode == http.StatusConflict:
		var body struct {
			ConfirmationID string `json:"confirmationId"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return retry.DuplicateAtPortal{ConfirmationID: body.ConfirmationID}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.RateLimited{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}, nil

	case resp.StatusCode >= 500:
		return retry.Transient5xx{StatusCode: resp.StatusCode}, nil

	default:
		msg, _ := io.ReadAll(resp.Body)
		return retry.PermanentClient{StatusCode: resp.StatusCode, Message: string(msg)}, nil
	}
}

func statusOutcomeErr(resp *http.Response) error {
	msg, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("portal: ListJobs: status %d: %s", resp.StatusCode, string(msg))
}

func mapTransportError(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("portal: request timed out: %w", err)
	}
	return fmt.Errorf("portal: transport error: %w", err)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		return time.Until(when)
	}
	return 0
}

func listCacheKey(filters posting.ListFilters) string {
	remote := "any"
	if filters.Remote != nil {
		remote = strconv.FormatBool(*filters.Remote)
	}
	return fmt.Sprintf("list:%s:%s:%d", filters.Query, remote, filters.Limit)
}
