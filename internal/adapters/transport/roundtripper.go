// Package transport bridges go-git's smart-HTTP client to the host's single-shot,
// fully buffered network capability.
package transport

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// RoundTripper implements http.RoundTripper with exactly one host call per request.
// It never retries and never follows redirects itself.
type RoundTripper struct {
	host domain.HostHTTP
}

var _ http.RoundTripper = (*RoundTripper)(nil)

// NewRoundTripper creates a RoundTripper over host.
func NewRoundTripper(host domain.HostHTTP) *RoundTripper {
	return &RoundTripper{host: host}
}

// RoundTrip drains the request body, hands the request to the host and wraps the
// buffered response body as a single-chunk stream.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read request body: %w", domain.ErrTransport, err)
		}
	}

	resp, err := rt.host.Do(req.Context(), domain.HTTPRequest{
		URL:     req.URL.String(),
		Method:  req.Method,
		Headers: req.Header.Clone(),
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrTransport, req.Method, redactURL(req.URL), err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: %s %s: empty response", domain.ErrTransport, req.Method, redactURL(req.URL))
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header(resp.Headers).Clone(),
		Body:          NewSeqReader(Single(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       responseRequest(req, resp.URL),
	}, nil
}

// responseRequest returns the request the response answers. When the host reports
// a different final URL, go-git uses it to move the endpoint after a redirect.
func responseRequest(req *http.Request, finalURL string) *http.Request {
	if finalURL == "" || finalURL == req.URL.String() {
		return req
	}
	u, err := url.Parse(finalURL)
	if err != nil {
		return req
	}
	out := req.Clone(req.Context())
	out.URL = u
	out.Host = u.Host
	out.Body = http.NoBody
	return out
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	s := u.Redacted()
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i]
	}
	return s
}
