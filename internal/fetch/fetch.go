// Package fetch wraps outbound HTTP for the feed jobs. Upstreams are flaky,
// so every request carries a bounded timeout; a hung source must not occupy
// a scheduler worker forever.
package fetch

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

var client = &http.Client{
	Timeout: 30 * time.Second,
}

// Text performs a GET and returns the response body as a string.
// Non-2xx statuses are errors.
func Text(url string) (string, error) {
	res, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", fmt.Errorf("GET %s: unexpected status %d", url, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("GET %s: read body: %w", url, err)
	}
	return string(body), nil
}
