package uri

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/logger"
)

// Checker verifies that a remote uri points at reachable content before the
// catalog accepts it.
type Checker interface {
	Check(ctx context.Context, rawURL string) error
}

type checker struct {
	http adapter.HTTPClient
}

// NewChecker creates a Checker on top of the given HTTP client
func NewChecker(httpClient adapter.HTTPClient) Checker {
	return &checker{http: httpClient}
}

// Check probes the url with a HEAD request and falls back to a small ranged
// GET for servers that reject HEAD. Anything that does not answer with a
// success or redirect status is reported as a validation failure.
func (c *checker) Check(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return domain.Validationf("unsupported uri %q", rawURL)
	}

	resp, err := c.http.Head(ctx, rawURL)
	if err == nil {
		defer closeBody(resp, rawURL)

		if acceptableStatus(resp.StatusCode) {
			return nil
		}
		if resp.StatusCode != http.StatusMethodNotAllowed &&
			resp.StatusCode != http.StatusNotImplemented {
			return domain.Validationf("uri %q is unreachable (status %d)", rawURL, resp.StatusCode)
		}
		// Server refuses HEAD, probe with a ranged GET instead
	}

	rangeResp, err := c.http.GetRange(ctx, rawURL, 0, 1023)
	if err != nil {
		return domain.Validationf("uri %q is unreachable: %v", rawURL, err)
	}
	defer closeBody(rangeResp, rawURL)

	if acceptableStatus(rangeResp.StatusCode) {
		return nil
	}
	return domain.Validationf("uri %q is unreachable (status %d)", rawURL, rangeResp.StatusCode)
}

// acceptableStatus treats success and redirect answers as proof of life
func acceptableStatus(code int) bool {
	return code >= 200 && code < 400
}

func closeBody(resp *http.Response, rawURL string) {
	if err := resp.Body.Close(); err != nil {
		logger.Warn("failed to close response body", zap.Error(err), zap.String("url", rawURL))
	}
}
