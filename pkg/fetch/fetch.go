// Package fetch provides a ready-made pool operation for bounded HTTP
// fetching: give it URLs and a concurrency limit and it fans GET requests
// through the pool, returning bodies in input order.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/wehubfusion/Talos/pkg/pool"
)

// Result holds the response for one fetched URL.
type Result struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Client turns an HTTP client into a pool operation. The zero value is
// not usable; create one with NewClient.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a fetch client. Passing nil uses http.DefaultClient;
// there is no other implicit fallback.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// Operation returns a pool operation that GETs a URL and reads the full
// body. Any status outside 2xx is treated as an operation failure so it
// surfaces in the run's aggregate error with the URL's index.
func (c *Client) Operation() pool.Operation[string, *Result] {
	return func(ctx context.Context, url string, index int) (*Result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("building request for %s: %w", url, err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", url, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading body of %s: %w", url, err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
		}

		return &Result{
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       body,
		}, nil
	}
}

// FetchAll fetches urls with at most limit requests in flight, using the
// default client. Results come back in input order.
func FetchAll(ctx context.Context, urls []string, limit int, opts ...pool.Option) ([]*Result, error) {
	return pool.Run(ctx, urls, limit, NewClient(nil).Operation(), opts...)
}
