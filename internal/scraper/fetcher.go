package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"jobmate/recommender-service/internal/feed"
	"jobmate/recommender-service/internal/model"
)

const (
	defaultFetchTimeout = 15 * time.Second
	maxBodyBytes        = 8 << 20
	errSnippetBytes     = 256
)

// Fetcher returns the raw posting items of a source. Implementations do not
// retry; a failed attempt is retried by the next scan.
type Fetcher interface {
	Fetch(ctx context.Context, src model.JobSource) ([]any, error)
}

// SourceFetcher reads inline_json payloads from the source config and GETs
// json_url sources over HTTP.
type SourceFetcher struct {
	client *http.Client
}

// NewSourceFetcher returns a fetcher whose HTTP requests time out after
// timeout (15s when zero).
func NewSourceFetcher(timeout time.Duration) *SourceFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &SourceFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch implements Fetcher.
func (f *SourceFetcher) Fetch(ctx context.Context, src model.JobSource) ([]any, error) {
	switch src.SourceType {
	case model.SourceTypeInlineJSON:
		return feed.Parse([]byte(src.Config))
	case model.SourceTypeJSONURL:
		body, err := f.get(ctx, src.Config)
		if err != nil {
			return nil, err
		}
		return feed.Parse(body)
	default:
		return nil, fmt.Errorf("unsupported source type %q", src.SourceType)
	}
}

func (f *SourceFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote returned %d: %s", resp.StatusCode, snippet(body))
	}
	if len(body) > maxBodyBytes {
		return nil, errors.New("remote body exceeds 8 MiB")
	}
	return body, nil
}

func snippet(b []byte) string {
	if len(b) > errSnippetBytes {
		b = b[:errSnippetBytes]
	}
	return string(b)
}
