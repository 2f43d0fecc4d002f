package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSource pulls records from a collector service exposing a JSON endpoint:
//
//	GET {endpoint}?since=<RFC3339>  ->  {"records":[{...}]}
//
// Transport and non-200 failures surface as ErrSourceUnavailable so the
// collector degrades the cycle instead of failing it.
type HTTPSource struct {
	name     Source
	endpoint string
	client   *http.Client
}

type recordsResponse struct {
	Records []Record `json:"records"`
}

// NewHTTPSource builds an HTTP-backed source adapter for the given endpoint.
func NewHTTPSource(name Source, endpoint string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		name:     name,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// Name implements SourceAdapter.
func (h *HTTPSource) Name() string { return string(h.name) }

// Fetch requests records newer than since from the collector service.
func (h *HTTPSource) Fetch(ctx context.Context, since time.Time) ([]Record, error) {
	u := fmt.Sprintf("%s?since=%s", h.endpoint, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, h.name, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, h.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d", ErrSourceUnavailable, h.name, resp.StatusCode)
	}
	var payload recordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %v", ErrSourceUnavailable, h.name, err)
	}

	// Stamp the source on records the collector left untagged.
	for i := range payload.Records {
		if payload.Records[i].Source == "" {
			payload.Records[i].Source = h.name
		}
	}
	return payload.Records, nil
}
