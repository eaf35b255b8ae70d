package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

const maxReasonBytes = 4 << 10

// HTTPSubmitter posts batches as a JSON array.
// Params: endpoint full URL of the sync route; client shared http client; tokens optional bearer source.
// Returns: Submitter over HTTP.
type HTTPSubmitter struct {
	endpoint string
	client   *http.Client
	tokens   TokenSource
}

// NewHTTPSubmitter validates endpoint and builds a submitter.
// Params: endpoint URL; timeout client-level cap (0 keeps per-call context only); tokens may be nil.
// Returns: submitter or error on empty endpoint.
func NewHTTPSubmitter(endpoint string, timeout time.Duration, tokens TokenSource) (*HTTPSubmitter, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("http submitter: endpoint is empty")
	}
	return &HTTPSubmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		tokens:   tokens,
	}, nil
}

// SubmitBatch posts batch records and classifies the response.
// Params: ctx call context with deadline; batch outbound records.
// Returns: result on 200/201, *RejectedError on other 4xx, ErrUnreachable otherwise.
func (s *HTTPSubmitter) SubmitBatch(ctx context.Context, batch wire.Batch) (wire.Result, error) {
	records := batch.Records
	if records == nil {
		records = []wire.Record{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return wire.Result{}, fmt.Errorf("encode batch: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return wire.Result{}, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if batch.ID != "" {
		request.Header.Set(wire.BatchIDHeader, batch.ID)
	}
	if s.tokens != nil {
		token, err := s.tokens.Token()
		if err != nil {
			return wire.Result{}, fmt.Errorf("issue token: %w", err)
		}
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return wire.Result{}, unreachable("post %s: %v", s.endpoint, err)
	}
	defer response.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(response.Body, maxReasonBytes))
	return classifyHTTP(response.StatusCode, payload)
}

// classifyHTTP maps a response status onto the delivery outcome.
// Params: status HTTP code; payload bounded response body.
// Returns: result or classified error.
func classifyHTTP(status int, payload []byte) (wire.Result, error) {
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		var result wire.Result
		// Older services answer with a plain message; treat that as accepted.
		_ = json.Unmarshal(payload, &result)
		return result, nil
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return wire.Result{}, unreachable("status %d", status)
	case status >= 400 && status < 500:
		return wire.Result{}, &RejectedError{
			Status: fmt.Sprintf("%d %s", status, http.StatusText(status)),
			Reason: strings.TrimSpace(string(payload)),
		}
	default:
		return wire.Result{}, unreachable("status %d", status)
	}
}
