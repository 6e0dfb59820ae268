package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPFetcher downloads replacement backgrounds and other small assets.
type HTTPFetcher struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *zap.SugaredLogger
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64, logger *zap.SugaredLogger) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// Fetch returns the body of url. Non-2xx responses, empty bodies and bodies
// larger than the configured limit are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch asset: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("asset too large: %d bytes", resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("asset exceeds %d bytes", f.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("asset is empty")
	}

	f.logger.Debugw("asset fetched",
		"url", url,
		"bytes", len(data),
		"content_type", resp.Header.Get("Content-Type"),
	)
	return data, nil
}
