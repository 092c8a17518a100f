package agentsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"golang.org/x/xerrors"
)

// Client is a typed HTTP client for the minder server API.
type Client struct {
	URL        *url.URL
	HTTPClient *http.Client
}

// New creates a Client for the given server URL.
func New(rawURL string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, xerrors.Errorf("parse server url: %w", err)
	}
	return &Client{
		URL:        u,
		HTTPClient: &http.Client{},
	}, nil
}

// Error is a decoded error envelope carrying the HTTP status.
type Error struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// IsThrottled reports whether the error is a rate-limit response, the
// one outcome that must feed exponential backoff instead of a retry.
func IsThrottled(err error) bool {
	var apiErr *Error
	return xerrors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// IsNotFound reports whether the server does not know the user; the
// caller must reinitialize.
func IsNotFound(err error) bool {
	var apiErr *Error
	return xerrors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsResponse reports whether the error carries an HTTP response from the
// server, as opposed to a transport failure that produced no response.
func IsResponse(err error) bool {
	var apiErr *Error
	return xerrors.As(err, &apiErr)
}

// post issues a JSON POST and decodes the response envelope into out.
func (c *Client) post(ctx context.Context, path string, reqBody, out interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return xerrors.Errorf("marshal request: %w", err)
	}

	u := c.URL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return xerrors.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return xerrors.Errorf("%s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		apiErr := &Error{Status: res.StatusCode, Message: http.StatusText(res.StatusCode)}
		_ = json.NewDecoder(res.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return xerrors.Errorf("decode response: %w", err)
	}
	return nil
}
