package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// CleanHTTPHost is the production domain.HostHTTP. It performs one exchange per call
// over a pooled go-cleanhttp client and buffers the whole response.
type CleanHTTPHost struct {
	client *http.Client
}

var _ domain.HostHTTP = (*CleanHTTPHost)(nil)

// NewCleanHTTPHost creates a host with redirects disabled.
func NewCleanHTTPHost() *CleanHTTPHost {
	client := cleanhttp.DefaultPooledClient()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &CleanHTTPHost{client: client}
}

// Do sends req and returns the fully read response.
func (h *CleanHTTPHost) Do(ctx context.Context, req domain.HTTPRequest) (*domain.HTTPResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header = http.Header(req.Headers).Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}
	httpReq.ContentLength = int64(len(req.Body))

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &domain.HTTPResponse{
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

func bodyReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}
