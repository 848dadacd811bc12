package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoQuote is returned by quote sources that have no price for a pair.
var ErrNoQuote = errors.New("fetcher: no quote")

// StatusError is a non-200 answer from a venue API.
type StatusError struct {
	Venue  string
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s api error (%d): %s", e.Venue, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s api error (%d)", e.Venue, e.Status)
}

// RateLimited reports a 429 answer.
func (e *StatusError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// StatusOf extracts the HTTP status carried by err, 0 when there is none.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

type jsonClient struct {
	venue     string
	client    *http.Client
	userAgent string
}

func newJSONClient(venue string, opts HTTPOptions) jsonClient {
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return jsonClient{venue: venue, client: NewHTTPClient(opts), userAgent: ua}
}

// getJSON issues a GET and decodes a 200 body into out.
func (c jsonClient) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", c.venue, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.venue, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s body: %w", c.venue, err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(c.venue, resp.StatusCode, payload)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", c.venue, err)
	}
	return nil
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(venue string, status int, payload []byte) error {
	se := &StatusError{Venue: venue, Status: status}
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Description != "":
			se.Detail = apiErr.Description
		case apiErr.Message != "":
			se.Detail = apiErr.Message
		case apiErr.Error != "":
			se.Detail = apiErr.Error
		}
	}
	if se.Detail == "" && len(payload) > 0 && len(payload) < 512 {
		se.Detail = strings.TrimSpace(string(payload))
	}
	return se
}
