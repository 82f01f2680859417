// Package provider is the REST client for the telephony provider's call
// control API: creating outbound call legs, redirecting live legs to new
// webhook documents, and hanging legs up.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the provider's account-scoped call API.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	httpc      *http.Client
	logger     *slog.Logger
}

// NewClient creates a call API client.
func NewClient(baseURL, accountSID, authToken string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		httpc:      &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("subsystem", "provider"),
	}
}

// CallRequest describes a new outbound call leg.
type CallRequest struct {
	To             string // E.164 destination
	From           string // E.164 caller ID presented to the destination
	URL            string // webhook fetched when the leg answers
	StatusCallback string // webhook receiving leg status events
	Timeout        int    // ring seconds before the provider gives up
}

// callResource is the subset of the provider's call representation we use.
type callResource struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

// CreateCall starts a new outbound leg and returns its call SID.
func (c *Client) CreateCall(ctx context.Context, req CallRequest) (string, error) {
	form := url.Values{
		"To":             {req.To},
		"From":           {req.From},
		"Url":            {req.URL},
		"StatusCallback": {req.StatusCallback},
	}
	if req.Timeout > 0 {
		form.Set("Timeout", fmt.Sprintf("%d", req.Timeout))
	}

	var res callResource
	if err := c.post(ctx, "/Calls.json", form, &res); err != nil {
		return "", fmt.Errorf("creating call to %s: %w", req.To, err)
	}

	c.logger.Debug("call created", "call_sid", res.Sid, "to", req.To)
	return res.Sid, nil
}

// RedirectCall points a live leg at a new webhook document.
func (c *Client) RedirectCall(ctx context.Context, callSid, docURL string) error {
	form := url.Values{
		"Url":    {docURL},
		"Method": {"POST"},
	}
	if err := c.post(ctx, "/Calls/"+callSid+".json", form, nil); err != nil {
		return fmt.Errorf("redirecting call %s: %w", callSid, err)
	}
	return nil
}

// HangupCall terminates a leg. Used to stop a ringing leg as well as to
// drop an answered one.
func (c *Client) HangupCall(ctx context.Context, callSid string) error {
	form := url.Values{
		"Status": {"completed"},
	}
	if err := c.post(ctx, "/Calls/"+callSid+".json", form, nil); err != nil {
		return fmt.Errorf("hanging up call %s: %w", callSid, err)
	}
	return nil
}

// post sends a form-encoded request to an account-scoped path and decodes
// the JSON response into out when non-nil.
func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	endpoint := c.baseURL + "/Accounts/" + c.accountSID + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
