package client

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

const beaconTimeout = 3 * time.Second

// Beacon sends a best-effort release for id and returns immediately. Failures
// are dropped; the returned channel closes when the request has finished or
// timed out, so a process about to exit can wait for it. The request carries
// holder and token as query parameters so that the same route serves browser
// beacons, which cannot set headers.
func (c *Client) Beacon(id int64) <-chan struct{} {
	query := url.Values{}
	query.Set("beacon", "1")
	query.Set("holder", c.holder)
	if c.token != "" {
		query.Set("token", c.token)
	}
	endpoint := c.endpoint(itemPath(id, "release"), query)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return
		}
		_ = resp.Body.Close()
	}()
	return done
}
