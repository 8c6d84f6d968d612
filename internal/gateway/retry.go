package gateway

import (
	"time"

	"github.com/kilnforge/orchestrator/internal/provider"
)

// retryDelays are the fixed backoff delays for retryable chat-provider
// errors (spec.md §4.3): up to 3 retries at 2s, 4s, 6s.
var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}

// withRetry invokes call, retrying on retryable provider errors per
// retryDelays, and returning the first success or the final failure.
func withRetry(sleep func(time.Duration), call func() (provider.Result, error)) (provider.Result, error) {
	var result provider.Result
	var err error

	for attempt := 0; ; attempt++ {
		result, err = call()
		if err == nil {
			return result, nil
		}

		perr, ok := provider.AsError(err)
		if !ok || !perr.Retryable() || attempt >= len(retryDelays) {
			return result, err
		}

		sleep(retryDelays[attempt])
	}
}
