package winnytesting

import (
	"strings"
	"time"
)

const containerStartAttempts = 3

// startWithRetry runs start up to containerStartAttempts times while the
// failure looks like a slow or flaky docker daemon.
func startWithRetry[T any](start func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 1; attempt <= containerStartAttempts; attempt++ {
		out, err = start()
		if err == nil || !isRetryableContainerStartErr(err) {
			return out, err
		}
		time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
	}
	return out, err
}

func isRetryableContainerStartErr(err error) bool {
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json")
}
