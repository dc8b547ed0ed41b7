package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker probes an HTTP endpoint, typically a metrics server's
// /healthz, and accepts any status code inside the expected range.
type HTTPChecker struct {
	// URL is the full URL to request.
	URL string

	// StatusMin and StatusMax bound the status codes considered healthy.
	StatusMin int
	StatusMax int

	// Client performs the request; replace it to tune timeouts.
	Client *http.Client
}

// NewHTTPChecker creates an HTTP probe accepting 2xx and 3xx responses.
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:       url,
		StatusMin: 200,
		StatusMax: 399,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Check issues a GET and classifies the response status.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("bad request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= h.StatusMin && resp.StatusCode <= h.StatusMax
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d-%d)", message, h.StatusMin, h.StatusMax)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe mechanism.
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithStatusRange sets the status codes considered healthy.
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.StatusMin = min
	h.StatusMax = max
	return h
}

// WithTimeout sets the request timeout.
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
