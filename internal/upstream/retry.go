package upstream

import (
	"context"
	"math/rand"
	"time"

	"github.com/openbridge/openbridge/internal/metrics"
)

var retryableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// RetryableStatus reports whether an upstream HTTP status may be retried.
func RetryableStatus(status int) bool {
	return retryableStatus[status]
}

// Policy is the upstream retry policy: exponential backoff with jitter,
// capped at MaxDelay, for at most MaxAttempts total attempts.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxDelay    time.Duration
}

// Delay returns the backoff before the attempt-th retry (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 15 * time.Second
	}

	delay := backoff
	for i := 1; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	// Jitter: anywhere between delay and 2*delay.
	return delay + time.Duration(rand.Int63n(int64(delay)+1))
}

// Sleep waits out the backoff for the attempt-th retry, honoring ctx.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CallWithRetry posts the payload, retrying transport errors and retryable
// statuses. When attempts run out on a retryable status the final response is
// still returned so its error can be passed through to the client.
func CallWithRetry(ctx context.Context, client *Client, payload map[string]any, policy Policy) (*Response, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var response *Response
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		response, err = client.ChatCompletions(ctx, payload)
		if err == nil && !RetryableStatus(response.StatusCode) {
			return response, nil
		}
		if attempt == attempts {
			break
		}

		reason := "status"
		if err != nil {
			reason = "transport"
		}
		metrics.UpstreamRetriesTotal.WithLabelValues(reason).Inc()
		if sleepErr := policy.Sleep(ctx, attempt); sleepErr != nil {
			return nil, sleepErr
		}
	}

	if err != nil {
		return nil, err
	}
	return response, nil
}
