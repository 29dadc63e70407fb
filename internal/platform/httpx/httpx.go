package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPStatusCoder is implemented by errors that carry an upstream HTTP status.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

func IsRetryableHTTPStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return false
}

// NextDelay picks the sleep before the next retry attempt: the server's
// Retry-After header when present, otherwise the exponential base, capped at
// max and jittered +/-20% so concurrent clients don't retry in lockstep.
func NextDelay(resp *http.Response, base, max time.Duration) time.Duration {
	delay := base
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				delay = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && delay > max {
		delay = max
	}
	if delay <= 0 {
		return 0
	}
	jitter := 0.2 * delay.Seconds()
	low := delay.Seconds() - jitter
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*2*jitter
	return time.Duration(v * float64(time.Second))
}
